// Package mediacache is a cache-first proxy in front of video media. It
// stores only complete (status 200) bodies, serves range requests out of the
// cached copy, and exposes a message-based control channel for bulk
// pre-caching and cache-version management.
package mediacache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"github.com/virtualtour/virtualtour/internal/kvstore"
)

// CacheVersion names the current cache generation. Bumping it invalidates
// every previously cached body on the next startup.
const CacheVersion = "video-cache-v3"

const (
	bodyPrefix = "media/"
	metaSuffix = "#meta"
)

// Origin supplies cache misses. Status is the upstream HTTP status; anything
// other than 200 is served but never stored.
type Origin interface {
	Fetch(ctx context.Context, key string) (body io.ReadCloser, status int, contentType string, err error)
}

type entryMeta struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	CachedAt    string `json:"cachedAt"`
}

type Cache struct {
	store  *kvstore.Store
	origin Origin
}

// New opens the cache over the given store and purges every generation that
// does not match CacheVersion, so a deployed version bump takes effect
// immediately.
func New(store *kvstore.Store, origin Origin) (*Cache, error) {
	c := &Cache{store: store, origin: origin}
	if err := c.purgeStaleGenerations(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) purgeStaleGenerations() error {
	keys, err := c.store.Keys([]byte(bodyPrefix))
	if err != nil {
		return fmt.Errorf("scan cache generations: %w", err)
	}
	current := []byte(bodyPrefix + CacheVersion + "/")
	purged := 0
	for _, k := range keys {
		if !bytes.HasPrefix(k, current) {
			if err := c.store.Delete(k); err != nil {
				return err
			}
			purged++
		}
	}
	if purged > 0 {
		slog.Info("mediacache: purged stale cache generations", "entries", purged, "current", CacheVersion)
	}
	return nil
}

func bodyKey(key string) []byte {
	return []byte(bodyPrefix + CacheVersion + "/" + key)
}

func metaKey(key string) []byte {
	return []byte(bodyPrefix + CacheVersion + "/" + key + metaSuffix)
}

// MatchesVideoPath reports whether a request path names a video file and is
// therefore subject to caching. Non-matching requests are proxied but never
// stored.
func MatchesVideoPath(path string) bool {
	return strings.HasSuffix(path, ".mp4") ||
		strings.HasSuffix(path, ".webm") ||
		strings.HasSuffix(path, ".mov")
}

// lookup returns the cached body and metadata, or (nil, zero, false).
func (c *Cache) lookup(key string) ([]byte, entryMeta, bool) {
	body, err := c.store.Get(bodyKey(key))
	if err != nil {
		return nil, entryMeta{}, false
	}
	rawMeta, err := c.store.Get(metaKey(key))
	if err != nil {
		return nil, entryMeta{}, false
	}
	var meta entryMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, entryMeta{}, false
	}
	return body, meta, true
}

// put stores a complete body. Partial (non-200) responses are never written;
// range responses cannot be cached as a whole object.
func (c *Cache) put(key string, status int, contentType string, body []byte) error {
	if status != http.StatusOK {
		return fmt.Errorf("refusing to cache status %d for %s", status, key)
	}
	meta := entryMeta{
		Status:      http.StatusOK,
		ContentType: contentType,
		CachedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := c.store.Set(bodyKey(key), body); err != nil {
		return err
	}
	return c.store.Set(metaKey(key), rawMeta)
}

// Contains reports whether a complete body for the key is cached.
func (c *Cache) Contains(key string) bool {
	_, _, ok := c.lookup(key)
	return ok
}

// Clear drops every cached entry across all generations.
func (c *Cache) Clear() error {
	return c.store.DeletePrefix([]byte(bodyPrefix))
}

// canonicalKey reduces the client-visible forms of a video URL to the bare
// object key ServeAsset looks entries up by. Absolute URLs pointing at the
// media proxy and /media/assets/ paths collapse to the file key; anything
// else (an external video URL) is kept whole.
func canonicalKey(raw string) string {
	key := raw
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		u, err := url.Parse(key)
		if err != nil || !strings.HasPrefix(u.Path, "/media/assets/") {
			return key
		}
		key = u.Path
	}
	return strings.TrimPrefix(key, "/media/assets/")
}

// Precache fetches one video in full (never ranged) and stores it under the
// same key ServeAsset reads, so pre-cached videos are hits on playback. Used
// by the CACHE_VIDEOS control message.
func (c *Cache) Precache(ctx context.Context, key string) error {
	key = canonicalKey(key)
	if c.Contains(key) {
		return nil
	}
	body, status, contentType, err := c.origin.Fetch(ctx, key)
	if err != nil {
		return fmt.Errorf("precache %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	if status != http.StatusOK {
		return fmt.Errorf("precache %s: origin returned status %d", key, status)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("precache %s: read body: %w", key, err)
	}
	return c.put(key, status, contentType, data)
}

// ServeAsset handles GET /media/assets/*. Cache hits carry a debug header;
// misses are fetched from the origin and written through only when complete.
func (c *Cache) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		httputil.WriteError(w, http.StatusNotFound, "missing asset key")
		return
	}

	if !MatchesVideoPath(r.URL.Path) {
		c.passthrough(w, r, key)
		return
	}

	if body, meta, ok := c.lookup(key); ok {
		w.Header().Set("X-Media-Cache", "HIT")
		w.Header().Set("X-Media-Cache-Version", CacheVersion)
		w.Header().Set("Content-Type", meta.ContentType)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(body))
		return
	}

	upstream, status, contentType, err := c.origin.Fetch(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "asset not found")
		return
	}
	defer func() { _ = upstream.Close() }()

	if status != http.StatusOK {
		// Serve but never store a partial response.
		w.Header().Set("X-Media-Cache", "BYPASS")
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.Copy(w, upstream)
		return
	}

	data, err := io.ReadAll(upstream)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "failed to read origin response")
		return
	}
	if err := c.put(key, status, contentType, data); err != nil {
		slog.Error("mediacache: failed to store entry", "key", key, "error", err)
	}

	w.Header().Set("X-Media-Cache", "MISS")
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

// passthrough proxies a non-video asset straight from the origin without
// reading or writing the cache.
func (c *Cache) passthrough(w http.ResponseWriter, r *http.Request, key string) {
	upstream, status, contentType, err := c.origin.Fetch(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "asset not found")
		return
	}
	defer func() { _ = upstream.Close() }()

	w.Header().Set("X-Media-Cache", "PASSTHROUGH")
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = io.Copy(w, upstream)
}

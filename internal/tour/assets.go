package tour

import (
	"context"
	"fmt"
	"sync"
)

// Point is a normalized polygon vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Hotspot is the visitor-facing view of an admin-defined hotspot.
type Hotspot struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Points    []Point `json:"points"`
	Center    Point   `json:"center"`
	MapPinURL string  `json:"mapPinUrl,omitempty"`
	InfoTitle string  `json:"infoTitle,omitempty"`
	InfoText  string  `json:"infoText,omitempty"`
}

// Bundle is everything the tour needs to present one location.
type Bundle struct {
	LocationID    string    `json:"locationId"`
	Name          string    `json:"name"`
	AerialURL     string    `json:"aerialUrl"`
	TransitionURL string    `json:"transitionUrl,omitempty"`
	Hotspots      []Hotspot `json:"hotspots"`
}

// Playlist holds the three sequence video URLs of a PRIMARY hotspot. Empty
// strings mean the admin has not attached that video yet.
type Playlist struct {
	HotspotID     string `json:"hotspotId"`
	DiveInURL     string `json:"diveInUrl"`
	FloorLevelURL string `json:"floorLevelUrl"`
	ZoomOutURL    string `json:"zoomOutUrl"`
}

// Complete reports whether a sequence may start from this playlist.
func (p *Playlist) Complete() bool {
	return p != nil && p.DiveInURL != "" && p.FloorLevelURL != "" && p.ZoomOutURL != ""
}

// BundleStore is the injected cache the asset layer memoizes into. Explicit
// rather than ambient so tests can watch or replace it.
type BundleStore interface {
	GetBundle(locationID string) (*Bundle, bool)
	SetBundle(locationID string, b *Bundle)
	GetPlaylist(hotspotID string) (*Playlist, bool)
	SetPlaylist(hotspotID string, p *Playlist)
}

// MemoryBundleStore is the session-lifetime default.
type MemoryBundleStore struct {
	mu        sync.RWMutex
	bundles   map[string]*Bundle
	playlists map[string]*Playlist
}

func NewMemoryBundleStore() *MemoryBundleStore {
	return &MemoryBundleStore{
		bundles:   make(map[string]*Bundle),
		playlists: make(map[string]*Playlist),
	}
}

func (s *MemoryBundleStore) GetBundle(locationID string) (*Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[locationID]
	return b, ok
}

func (s *MemoryBundleStore) SetBundle(locationID string, b *Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[locationID] = b
}

func (s *MemoryBundleStore) GetPlaylist(hotspotID string) (*Playlist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playlists[hotspotID]
	return p, ok
}

func (s *MemoryBundleStore) SetPlaylist(hotspotID string, p *Playlist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists[hotspotID] = p
}

// BundleFetcher loads bundles and playlists from the backend on cache miss.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, locationID string) (*Bundle, error)
	FetchPlaylist(ctx context.Context, hotspotID string) (*Playlist, error)
}

// AssetCache memoizes per-location bundles and per-hotspot playlists: each is
// fetched at most once per store lifetime, so a location revisit issues zero
// backend calls.
type AssetCache struct {
	store   BundleStore
	fetcher BundleFetcher
	mu      sync.Mutex
}

func NewAssetCache(store BundleStore, fetcher BundleFetcher) *AssetCache {
	return &AssetCache{store: store, fetcher: fetcher}
}

func (c *AssetCache) Bundle(ctx context.Context, locationID string) (*Bundle, error) {
	if b, ok := c.store.GetBundle(locationID); ok {
		return b, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.store.GetBundle(locationID); ok {
		return b, nil
	}
	b, err := c.fetcher.FetchBundle(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", locationID, err)
	}
	c.store.SetBundle(locationID, b)
	return b, nil
}

func (c *AssetCache) Playlist(ctx context.Context, hotspotID string) (*Playlist, error) {
	if p, ok := c.store.GetPlaylist(hotspotID); ok {
		return p, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.store.GetPlaylist(hotspotID); ok {
		return p, nil
	}
	p, err := c.fetcher.FetchPlaylist(ctx, hotspotID)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", hotspotID, err)
	}
	c.store.SetPlaylist(hotspotID, p)
	return p, nil
}

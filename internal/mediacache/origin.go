package mediacache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StorageGetter is the slice of the storage layer the cache pulls misses
// from.
type StorageGetter interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, string, error)
}

// StorageOrigin serves keys out of object storage. A storage error is
// reported as a 404 since the bucket is the source of truth for asset
// existence.
type StorageOrigin struct {
	Storage StorageGetter
}

func (o *StorageOrigin) Fetch(ctx context.Context, key string) (io.ReadCloser, int, string, error) {
	body, _, contentType, err := o.Storage.GetObject(ctx, key)
	if err != nil {
		return nil, http.StatusNotFound, "", fmt.Errorf("storage origin: %w", err)
	}
	return body, http.StatusOK, contentType, nil
}

// HTTPOrigin fetches absolute URLs. Requests are always full-body: no Range
// header is ever attached, so a correct upstream answers 200 and a 206 can
// only mean a misbehaving intermediary — it is served through but not stored.
type HTTPOrigin struct {
	Client *http.Client
}

func NewHTTPOrigin(timeout time.Duration) *HTTPOrigin {
	return &HTTPOrigin{Client: &http.Client{Timeout: timeout}}
}

func (o *HTTPOrigin) Fetch(ctx context.Context, url string) (io.ReadCloser, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("http origin: %w", err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("http origin: %w", err)
	}
	return resp.Body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// RoutingOrigin sends absolute URLs to the HTTP origin and everything else
// (bare object keys or /media/assets/ paths) to storage.
type RoutingOrigin struct {
	Storage Origin
	HTTP    Origin
}

func (o *RoutingOrigin) Fetch(ctx context.Context, key string) (io.ReadCloser, int, string, error) {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return o.HTTP.Fetch(ctx, key)
	}
	key = strings.TrimPrefix(key, "/media/assets/")
	return o.Storage.Fetch(ctx, key)
}

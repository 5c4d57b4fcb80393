package tour

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/virtualtour/virtualtour/internal/retry"
)

// ItemState tracks a preload item through its lifecycle. Ready and Failed are
// terminal.
type ItemState int

const (
	ItemPending ItemState = iota
	ItemLoading
	ItemReady
	ItemFailed
)

func (s ItemState) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemLoading:
		return "loading"
	case ItemReady:
		return "ready"
	case ItemFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Media is a fully buffered, ready-to-serve preload result.
type Media struct {
	Key         string
	URL         string
	Data        []byte
	ContentType string
}

type preloadItem struct {
	key   string
	url   string
	state ItemState
	media *Media
	err   error
}

// MediaFetcher downloads one media URL in full.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) ([]byte, string, error)
}

// HTTPMediaFetcher fetches over plain HTTP. Only complete 200 responses
// count; partial responses are never accepted.
type HTTPMediaFetcher struct {
	Client *http.Client
}

func (f *HTTPMediaFetcher) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

const (
	defaultPreloadTimeout  = 30 * time.Second
	defaultItemTimeout     = 15 * time.Second
	defaultPreloadAttempts = 3
	defaultBackoffStep     = 500 * time.Millisecond
	defaultConcurrency     = 4
)

// PreloadManager downloads a set of keyed media items ahead of playback.
// PreloadAll always terminates: every item ends Ready or Failed within the
// global ceiling, and failures never block completion.
type PreloadManager struct {
	fetcher MediaFetcher

	globalTimeout time.Duration
	itemTimeout   time.Duration
	maxAttempts   int
	backoff       retry.Strategy
	concurrency   int

	mu       sync.Mutex
	items    map[string]*preloadItem
	order    []string
	terminal int

	onProgress func(loaded, total int)
}

type PreloadOption func(*PreloadManager)

func WithProgress(fn func(loaded, total int)) PreloadOption {
	return func(m *PreloadManager) { m.onProgress = fn }
}

func WithPreloadTimeout(global, perItem time.Duration) PreloadOption {
	return func(m *PreloadManager) {
		m.globalTimeout = global
		m.itemTimeout = perItem
	}
}

func WithPreloadRetry(attempts int, strategy retry.Strategy) PreloadOption {
	return func(m *PreloadManager) {
		m.maxAttempts = attempts
		m.backoff = strategy
	}
}

func NewPreloadManager(fetcher MediaFetcher, opts ...PreloadOption) *PreloadManager {
	m := &PreloadManager{
		fetcher:       fetcher,
		globalTimeout: defaultPreloadTimeout,
		itemTimeout:   defaultItemTimeout,
		maxAttempts:   defaultPreloadAttempts,
		backoff:       retry.Linear(defaultBackoffStep),
		concurrency:   defaultConcurrency,
		items:         make(map[string]*preloadItem),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers a key/url pair. Re-adding an existing key is a no-op and
// returns false, so callers can queue the same sequence twice without
// doubling work.
func (m *PreloadManager) Add(key, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		return false
	}
	m.items[key] = &preloadItem{key: key, url: url, state: ItemPending}
	m.order = append(m.order, key)
	return true
}

// Get returns the preloaded media for key, or nil when the item is missing,
// still loading, or failed.
func (m *PreloadManager) Get(key string) *Media {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || it.state != ItemReady {
		return nil
	}
	return it.media
}

// State reports the lifecycle state of one item.
func (m *PreloadManager) State(key string) (ItemState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return ItemPending, false
	}
	return it.state, true
}

// Progress returns the count of items in a terminal state and the total.
func (m *PreloadManager) Progress() (loaded, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal, len(m.order)
}

// SegmentKey builds the preload key for a sequence segment of a hotspot.
func SegmentKey(kind, hotspotID string) string {
	return kind + "_" + hotspotID
}

// IsSequencePreloaded reports whether all three sequence videos of a hotspot
// are buffered and ready.
func (m *PreloadManager) IsSequencePreloaded(hotspotID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range []string{"diveIn", "floorLevel", "zoomOut"} {
		it, ok := m.items[SegmentKey(kind, hotspotID)]
		if !ok || it.state != ItemReady {
			return false
		}
	}
	return true
}

// PreloadAll drives every pending item to a terminal state. It never returns
// an error from individual downloads: failed items are marked Failed and
// counted toward completion so progress always reaches the total. The global
// ceiling caps the whole pass even when items keep retrying.
func (m *PreloadManager) PreloadAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.globalTimeout)
	defer cancel()

	m.mu.Lock()
	var pending []*preloadItem
	for _, key := range m.order {
		it := m.items[key]
		if it.state == ItemPending {
			it.state = ItemLoading
			pending = append(pending, it)
		}
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, it := range pending {
		it := it
		g.Go(func() error {
			m.loadOne(ctx, it)
			return nil
		})
	}
	g.Wait()

	// Anything the deadline cut off is forced terminal so callers observing
	// progress still see completion.
	m.mu.Lock()
	for _, key := range m.order {
		it := m.items[key]
		if it.state == ItemLoading {
			it.state = ItemFailed
			it.err = ctx.Err()
			m.terminal++
			m.notifyLocked()
		}
	}
	m.mu.Unlock()
}

func (m *PreloadManager) loadOne(ctx context.Context, it *preloadItem) {
	var data []byte
	var contentType string
	err := retry.Do(ctx, m.maxAttempts, m.backoff, func() error {
		itemCtx, cancel := context.WithTimeout(ctx, m.itemTimeout)
		defer cancel()
		var ferr error
		data, contentType, ferr = m.fetcher.FetchMedia(itemCtx, it.url)
		return ferr
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if it.state != ItemLoading {
		return
	}
	if err != nil {
		it.state = ItemFailed
		it.err = err
	} else {
		it.state = ItemReady
		it.media = &Media{Key: it.key, URL: it.url, Data: data, ContentType: contentType}
	}
	m.terminal++
	m.notifyLocked()
}

func (m *PreloadManager) notifyLocked() {
	if m.onProgress != nil {
		m.onProgress(m.terminal, len(m.order))
	}
}

// Err exposes the terminal error of a failed item, mainly for logging.
func (m *PreloadManager) Err(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok {
		return it.err
	}
	return nil
}

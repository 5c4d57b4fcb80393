package tour

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/virtualtour/virtualtour/internal/retry"
)

func newStatusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte("partial"))
	}))
}

type fakeMediaFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	failN   map[string]int // fail the first N calls, then succeed
	block   map[string]bool
	payload []byte
}

func newFakeMediaFetcher() *fakeMediaFetcher {
	return &fakeMediaFetcher{
		calls:   make(map[string]int),
		fail:    make(map[string]bool),
		failN:   make(map[string]int),
		block:   make(map[string]bool),
		payload: []byte("video-bytes"),
	}
}

func (f *fakeMediaFetcher) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls[url]++
	n := f.calls[url]
	failAlways := f.fail[url]
	failFirst := f.failN[url]
	blocked := f.block[url]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if failAlways || n <= failFirst {
		return nil, "", errors.New("fetch failed")
	}
	return f.payload, "video/mp4", nil
}

func (f *fakeMediaFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func fastRetry() PreloadOption {
	return WithPreloadRetry(3, retry.Linear(time.Millisecond))
}

func TestPreloadAddIdempotent(t *testing.T) {
	m := NewPreloadManager(newFakeMediaFetcher())
	if !m.Add("aerial_loc1", "http://example.com/a.mp4") {
		t.Fatal("first add should register the item")
	}
	if m.Add("aerial_loc1", "http://example.com/other.mp4") {
		t.Fatal("duplicate key should be a no-op")
	}
	if _, total := m.Progress(); total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
}

func TestPreloadAllSuccess(t *testing.T) {
	fetcher := newFakeMediaFetcher()
	m := NewPreloadManager(fetcher, fastRetry())
	m.Add("diveIn_h1", "http://example.com/d.mp4")
	m.Add("floorLevel_h1", "http://example.com/f.mp4")
	m.Add("zoomOut_h1", "http://example.com/z.mp4")

	m.PreloadAll(context.Background())

	loaded, total := m.Progress()
	if loaded != 3 || total != 3 {
		t.Fatalf("progress = (%d, %d), want (3, 3)", loaded, total)
	}
	if !m.IsSequencePreloaded("h1") {
		t.Fatal("sequence for h1 should be preloaded")
	}
	media := m.Get("diveIn_h1")
	if media == nil {
		t.Fatal("Get returned nil for a ready item")
	}
	if string(media.Data) != "video-bytes" || media.ContentType != "video/mp4" {
		t.Fatalf("unexpected media: %q %q", media.Data, media.ContentType)
	}
}

func TestPreloadFailureCountsTowardCompletion(t *testing.T) {
	fetcher := newFakeMediaFetcher()
	fetcher.fail["http://example.com/bad.mp4"] = true

	var mu sync.Mutex
	var reports [][2]int
	m := NewPreloadManager(fetcher, fastRetry(), WithProgress(func(loaded, total int) {
		mu.Lock()
		reports = append(reports, [2]int{loaded, total})
		mu.Unlock()
	}))
	m.Add("aerial_loc1", "http://example.com/good.mp4")
	m.Add("transition_loc1", "http://example.com/bad.mp4")

	m.PreloadAll(context.Background())

	loaded, total := m.Progress()
	if loaded != 2 || total != 2 {
		t.Fatalf("progress = (%d, %d), want (2, 2): failures must count as terminal", loaded, total)
	}
	if m.Get("transition_loc1") != nil {
		t.Fatal("Get should return nil for a failed item")
	}
	if err := m.Err("transition_loc1"); err == nil {
		t.Fatal("failed item should retain its error")
	}
	if got := fetcher.callCount("http://example.com/bad.mp4"); got != 3 {
		t.Fatalf("failing URL fetched %d times, want 3 attempts", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 2 {
		t.Fatalf("got %d progress reports, want 2", len(reports))
	}
	last := reports[len(reports)-1]
	if last[0] != last[1] {
		t.Fatalf("final report %v should show completion", last)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i][0] < reports[i-1][0] {
			t.Fatalf("progress went backwards: %v", reports)
		}
	}
}

func TestPreloadRetrySucceedsAfterTransientFailure(t *testing.T) {
	fetcher := newFakeMediaFetcher()
	fetcher.failN["http://example.com/flaky.mp4"] = 2

	m := NewPreloadManager(fetcher, fastRetry())
	m.Add("aerial_loc1", "http://example.com/flaky.mp4")
	m.PreloadAll(context.Background())

	if m.Get("aerial_loc1") == nil {
		t.Fatal("item should be ready after retries")
	}
	if got := fetcher.callCount("http://example.com/flaky.mp4"); got != 3 {
		t.Fatalf("flaky URL fetched %d times, want 3", got)
	}
}

func TestPreloadGlobalCeilingForcesTermination(t *testing.T) {
	fetcher := newFakeMediaFetcher()
	fetcher.block["http://example.com/hang.mp4"] = true

	m := NewPreloadManager(fetcher, fastRetry(),
		WithPreloadTimeout(50*time.Millisecond, 25*time.Millisecond))
	m.Add("aerial_loc1", "http://example.com/hang.mp4")
	m.Add("transition_loc1", "http://example.com/ok.mp4")

	done := make(chan struct{})
	go func() {
		m.PreloadAll(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PreloadAll did not terminate under the global ceiling")
	}

	loaded, total := m.Progress()
	if loaded != total {
		t.Fatalf("progress = (%d, %d): every item must be terminal", loaded, total)
	}
	if state, ok := m.State("aerial_loc1"); !ok || state != ItemFailed {
		t.Fatalf("hung item state = %v, want failed", state)
	}
	if m.Get("transition_loc1") == nil {
		t.Fatal("fast item should still have completed")
	}
}

func TestPreloadAllIsRepeatable(t *testing.T) {
	fetcher := newFakeMediaFetcher()
	m := NewPreloadManager(fetcher, fastRetry())
	m.Add("aerial_loc1", "http://example.com/a.mp4")
	m.PreloadAll(context.Background())
	m.PreloadAll(context.Background())

	if got := fetcher.callCount("http://example.com/a.mp4"); got != 1 {
		t.Fatalf("ready item refetched: %d calls, want 1", got)
	}
	if loaded, total := m.Progress(); loaded != 1 || total != 1 {
		t.Fatalf("progress = (%d, %d), want (1, 1)", loaded, total)
	}
}

func TestIsSequencePreloadedRequiresAllThree(t *testing.T) {
	fetcher := newFakeMediaFetcher()
	fetcher.fail["http://example.com/z.mp4"] = true

	m := NewPreloadManager(fetcher, fastRetry())
	m.Add(SegmentKey("diveIn", "h1"), "http://example.com/d.mp4")
	m.Add(SegmentKey("floorLevel", "h1"), "http://example.com/f.mp4")
	m.Add(SegmentKey("zoomOut", "h1"), "http://example.com/z.mp4")
	m.PreloadAll(context.Background())

	if m.IsSequencePreloaded("h1") {
		t.Fatal("sequence with a failed segment must not count as preloaded")
	}
}

func TestHTTPMediaFetcherRejectsPartialContent(t *testing.T) {
	// Exercised through the status check: anything other than 200 is an
	// error, so partial bodies can never end up preloaded.
	for _, status := range []int{206, 404, 500} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			srv := newStatusServer(t, status)
			defer srv.Close()

			f := &HTTPMediaFetcher{}
			if _, _, err := f.FetchMedia(context.Background(), srv.URL+"/v.mp4"); err == nil {
				t.Fatalf("status %d should be rejected", status)
			}
		})
	}
}

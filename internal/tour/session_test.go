package tour

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newSessionServer(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	fetcher := testWorld()
	cache := NewAssetCache(NewMemoryBundleStore(), fetcher)
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	h := NewSessionHandler(cache, newFakeMediaFetcher(), nil, logger)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

// readUntil consumes messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad message %q: %v", data, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev sessionEvent) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("send %s: %v", ev.Type, err)
	}
}

func TestSessionChangeLocationEmitsStateAndPlayerCommands(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})

	cmd := readUntil(t, conn, msgPlayerCommand)
	if cmd["action"] != "load" || cmd["slot"] != "aerial" {
		t.Fatalf("first command = %v, want aerial load", cmd)
	}
	if cmd["muted"] != true || cmd["loop"] != true {
		t.Fatalf("aerial should load muted and looping: %v", cmd)
	}

	state := readUntil(t, conn, msgState)
	if state["segment"] != "aerial" || state["locationId"] != "dallas" {
		t.Fatalf("state = %v", state)
	}
	hotspots, ok := state["hotspots"].([]any)
	if !ok || len(hotspots) != 3 {
		t.Fatalf("state carried %v hotspots, want 3", state["hotspots"])
	}
}

func TestSessionHotspotSequenceOverWebsocket(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})
	readUntil(t, conn, msgState)

	sendEvent(t, conn, sessionEvent{Type: eventHotspotClick, HotspotID: "h1"})
	state := readUntil(t, conn, msgState)
	if state["segment"] != "diveIn_h1" || state["activeHotspotId"] != "h1" {
		t.Fatalf("after click: %v", state)
	}
	if state["muted"] != false {
		t.Fatalf("sequence segment should be unmuted: %v", state)
	}

	sendEvent(t, conn, sessionEvent{Type: eventVideoEnded, Segment: "diveIn_h1"})
	if state = readUntil(t, conn, msgState); state["segment"] != "floorLevel_h1" {
		t.Fatalf("after dive ended: %v", state)
	}
	sendEvent(t, conn, sessionEvent{Type: eventVideoEnded, Segment: "floorLevel_h1"})
	if state = readUntil(t, conn, msgState); state["segment"] != "zoomOut_h1" {
		t.Fatalf("after floor ended: %v", state)
	}
	sendEvent(t, conn, sessionEvent{Type: eventVideoEnded, Segment: "zoomOut_h1"})
	state = readUntil(t, conn, msgState)
	if state["segment"] != "aerial" {
		t.Fatalf("after zoom ended: %v", state)
	}
	if _, present := state["activeHotspotId"]; present {
		t.Fatalf("active hotspot should be cleared: %v", state)
	}
}

func TestSessionIncompletePlaylistSendsTourError(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})
	readUntil(t, conn, msgState)

	sendEvent(t, conn, sessionEvent{Type: eventHotspotClick, HotspotID: "h3"})
	msg := readUntil(t, conn, msgTourError)
	if !strings.Contains(msg["message"].(string), "incomplete") {
		t.Fatalf("error message = %v", msg["message"])
	}
}

func TestSessionPreloadProgressReachesTotal(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})

	// dallas preloads its aerial plus h1's three sequence videos; h3 is
	// skipped because its playlist is incomplete.
	deadline := time.Now().Add(5 * time.Second)
	for {
		msg := readUntil(t, conn, msgPreloadProgress)
		loaded, total := msg["loaded"].(float64), msg["total"].(float64)
		if total != 4 {
			t.Fatalf("preload total = %v, want 4", total)
		}
		if loaded == total {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("preload never completed")
		}
	}
}

func TestSessionBlockedPlayTriggersMutedRetry(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})
	readUntil(t, conn, msgState)
	sendEvent(t, conn, sessionEvent{Type: eventHotspotClick, HotspotID: "h1"})
	readUntil(t, conn, msgState)

	sendEvent(t, conn, sessionEvent{Type: eventPlayResult, Segment: "diveIn_h1", Error: "blocked"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		cmd := readUntil(t, conn, msgPlayerCommand)
		if cmd["action"] == "play" && cmd["slot"] == "diveIn" && cmd["muted"] == true {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no muted retry observed")
		}
	}
}

func TestSessionViewportEmitsOverlayPins(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})
	readUntil(t, conn, msgState)

	// 800x450 video contain-fit into 800x600 letterboxes 75px top and bottom.
	sendEvent(t, conn, sessionEvent{
		Type:  eventViewport,
		Width: 800, Height: 600,
		VideoWidth: 800, VideoHeight: 450,
	})

	msg := readUntil(t, conn, msgOverlay)
	content, ok := msg["content"].(map[string]any)
	if !ok {
		t.Fatalf("overlay missing content rect: %v", msg)
	}
	if content["top"] != 75.0 || content["left"] != 0.0 || content["width"] != 800.0 || content["height"] != 450.0 {
		t.Fatalf("content rect = %v", content)
	}

	pins, ok := msg["pins"].([]any)
	if !ok || len(pins) != 3 {
		t.Fatalf("expected 3 pins, got %v", msg["pins"])
	}
	var h1 map[string]any
	for _, p := range pins {
		pin := p.(map[string]any)
		if pin["hotspotId"] == "h1" {
			h1 = pin
		}
	}
	if h1 == nil {
		t.Fatal("no pin for h1")
	}
	if h1["x"] != 400.0 || h1["y"] != 187.5 {
		t.Fatalf("h1 pin = %v, want (400, 187.5)", h1)
	}
}

func TestSessionUnknownEventIsIgnored(t *testing.T) {
	_, conn := newSessionServer(t)

	sendEvent(t, conn, sessionEvent{Type: "bogus"})
	sendEvent(t, conn, sessionEvent{Type: eventChangeLocation, LocationID: "dallas"})
	state := readUntil(t, conn, msgState)
	if state["locationId"] != "dallas" {
		t.Fatalf("session died on unknown event: %v", state)
	}
}

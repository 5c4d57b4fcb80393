package mediacache

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Control message types, client to cache.
const (
	msgCacheVideos       = "CACHE_VIDEOS"
	msgCheckCacheVersion = "CHECK_CACHE_VERSION"
	msgClearCaches       = "CLEAR_CACHES"
	msgGetClientID       = "GET_CLIENT_ID"
)

// Control message types, cache to client.
const (
	msgCacheProgress    = "CACHE_PROGRESS"
	msgCacheError       = "CACHE_ERROR"
	msgCacheVersionInfo = "CACHE_VERSION_INFO"
	msgCachesCleared    = "CACHES_CLEARED"
	msgClientIDResponse = "CLIENT_ID_RESPONSE"
)

type videoRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type controlMessage struct {
	Type      string     `json:"type"`
	Videos    []videoRef `json:"videos,omitempty"`
	ClientID  string     `json:"clientId,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
}

type controlReply struct {
	Type      string    `json:"type"`
	Video     *videoRef `json:"video,omitempty"`
	Error     string    `json:"error,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Version   string    `json:"version,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
}

// Controller runs the message-based control API over a websocket per client.
type Controller struct {
	cache    *Cache
	upgrader websocket.Upgrader

	// precacheTimeout bounds each individual video fetch.
	precacheTimeout time.Duration
}

func NewController(cache *Cache) *Controller {
	return &Controller{
		cache: cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		precacheTimeout: 60 * time.Second,
	}
}

// conn serializes writes: precache progress and request replies may interleave.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(reply controlReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(reply)
}

// ServeWS upgrades the connection and serves control messages until the
// client goes away. Every connection gets its own client id.
func (ctl *Controller) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := ctl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("mediacache: websocket upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws}
	clientID := uuid.NewString()
	defer func() { _ = ws.Close() }()

	for {
		var msg controlMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case msgCacheVideos:
			ctl.handleCacheVideos(r.Context(), c, msg.Videos)
		case msgCheckCacheVersion:
			_ = c.send(controlReply{Type: msgCacheVersionInfo, Version: CacheVersion})
		case msgClearCaches:
			if err := ctl.cache.Clear(); err != nil {
				slog.Error("mediacache: clear failed", "error", err)
			}
			_ = c.send(controlReply{Type: msgCachesCleared})
		case msgGetClientID:
			_ = c.send(controlReply{Type: msgClientIDResponse, RequestID: msg.RequestID, ClientID: clientID})
		default:
			slog.Warn("mediacache: unknown control message", "type", msg.Type)
		}
	}
}

// handleCacheVideos pre-fetches each video in turn, reporting per-item
// completion or error by id. Failures do not stop the batch.
func (ctl *Controller) handleCacheVideos(ctx context.Context, c *conn, videos []videoRef) {
	total := len(videos)
	completed := 0
	for i := range videos {
		v := videos[i]
		itemCtx, cancel := context.WithTimeout(ctx, ctl.precacheTimeout)
		err := ctl.cache.Precache(itemCtx, v.URL)
		cancel()
		completed++
		if err != nil {
			slog.Error("mediacache: precache failed", "video", v.ID, "error", err)
			_ = c.send(controlReply{Type: msgCacheError, Video: &v, Error: err.Error(), Completed: completed, Total: total})
			continue
		}
		_ = c.send(controlReply{Type: msgCacheProgress, Video: &v, Completed: completed, Total: total})
	}
}

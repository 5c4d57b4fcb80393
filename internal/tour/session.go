package tour

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"github.com/virtualtour/virtualtour/internal/geoip"
)

// Client-to-server event types.
const (
	eventChangeLocation = "changeLocation"
	eventHotspotClick   = "hotspotClick"
	eventVideoEnded     = "videoEnded"
	eventPlayResult     = "playResult"
	eventClearSelection = "clearSelection"
	eventViewport       = "viewport"
)

// Server-to-client message types.
const (
	msgState           = "STATE"
	msgPlayerCommand   = "PLAYER_COMMAND"
	msgPreloadProgress = "PRELOAD_PROGRESS"
	msgTourError       = "TOUR_ERROR"
	msgOverlay         = "OVERLAY"
)

type sessionEvent struct {
	Type       string `json:"type"`
	LocationID string `json:"locationId,omitempty"`
	HotspotID  string `json:"hotspotId,omitempty"`
	Segment    string `json:"segment,omitempty"`
	// Error is the play outcome: empty for success, "aborted" or "blocked".
	Error string `json:"error,omitempty"`
	// Viewport dimensions, set on viewport events only.
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	VideoWidth  float64 `json:"videoWidth,omitempty"`
	VideoHeight float64 `json:"videoHeight,omitempty"`
}

type stateMessage struct {
	Type string `json:"type"`
	Snapshot
	Muted bool `json:"muted"`
	Loop  bool `json:"loop"`
}

type playerCommand struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Slot   Slot   `json:"slot"`
	Src    string `json:"src,omitempty"`
	Muted  bool   `json:"muted"`
	Loop   bool   `json:"loop"`
}

type progressMessage struct {
	Type   string `json:"type"`
	Loaded int    `json:"loaded"`
	Total  int    `json:"total"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type overlayPin struct {
	HotspotID string  `json:"hotspotId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type overlayMessage struct {
	Type    string       `json:"type"`
	Content Rect         `json:"content"`
	Pins    []overlayPin `json:"pins"`
}

// SessionHandler upgrades visitor connections and runs one tour session per
// socket. Bundles and playlists are served from the shared cache; preloading
// is per-session.
type SessionHandler struct {
	assets   *AssetCache
	fetcher  MediaFetcher
	geo      *geoip.Resolver
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewSessionHandler(assets *AssetCache, fetcher MediaFetcher, geo *geoip.Resolver, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		assets:  assets,
		fetcher: fetcher,
		geo:     geo,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type session struct {
	id      string
	handler *SessionHandler
	conn    *websocket.Conn
	writeMu sync.Mutex

	machine     *Machine
	preload     *PreloadManager
	controllers map[Slot]*PlaybackController
}

func (h *SessionHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("tour session upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s := &session{
		id:          uuid.NewString(),
		handler:     h,
		conn:        conn,
		controllers: make(map[Slot]*PlaybackController),
	}
	s.machine = NewMachine(h.assets, s.onStateChange, WithErrorReporter(s.onTourError))
	defer s.machine.Close()
	s.preload = NewPreloadManager(h.fetcher, WithProgress(s.onPreloadProgress))

	for _, slot := range []Slot{SlotAerial, SlotTransition, SlotDiveIn, SlotFloorLevel, SlotZoomOut} {
		slot := slot
		s.controllers[slot] = NewPlaybackController(slot, &remotePlayer{session: s, slot: slot}, nil)
	}

	h.logSessionStart(r, s.id)
	s.readLoop(r.Context())
}

func (h *SessionHandler) logSessionStart(r *http.Request, sessionID string) {
	ua := useragent.New(r.UserAgent())
	browser, version := ua.Browser()
	attrs := []any{
		"session", sessionID,
		"browser", browser,
		"browserVersion", version,
		"os", ua.OS(),
		"mobile", ua.Mobile(),
	}
	if h.geo != nil {
		if country, city := h.geo.Lookup(r.RemoteAddr); country != "" {
			attrs = append(attrs, "country", country, "city", city)
		}
	}
	h.logger.Info("tour session started", attrs...)
}

func (s *session) readLoop(ctx context.Context) {
	for {
		var ev sessionEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.handler.logger.Warn("tour session read failed", "session", s.id, "error", err)
			}
			return
		}
		s.handleEvent(ctx, ev)
	}
}

func (s *session) handleEvent(ctx context.Context, ev sessionEvent) {
	switch ev.Type {
	case eventChangeLocation:
		if err := s.machine.ChangeLocation(ctx, ev.LocationID); err != nil {
			// In-progress transitions drop the request silently; everything
			// else was already reported through the machine's error hook.
			return
		}
		go s.preloadLocation(ctx, ev.LocationID)

	case eventHotspotClick:
		// Errors surface via the machine's reporter; clicks never kill the
		// session.
		_ = s.machine.HotspotClick(ctx, ev.HotspotID)

	case eventVideoEnded:
		s.machine.VideoEnded(Segment(ev.Segment))

	case eventPlayResult:
		s.handlePlayResult(ev)

	case eventClearSelection:
		s.machine.ClearSelection()

	case eventViewport:
		s.sendOverlay(ev)

	default:
		s.handler.logger.Warn("tour session unknown event", "session", s.id, "type", ev.Type)
	}
}

func (s *session) handlePlayResult(ev sessionEvent) {
	ctrl, ok := s.controllers[Segment(ev.Segment).Slot()]
	if !ok {
		return
	}
	switch ev.Error {
	case "":
		ctrl.NotifyPlaying()
	case "aborted":
		_ = ctrl.HandleRejection(ErrPlayAborted)
	case "blocked":
		if err := ctrl.HandleRejection(ErrPlayBlocked); err != nil {
			s.onTourError(err)
		}
	}
}

// onStateChange is the machine's commit hook: drive the segment's playback
// controller, then mirror the snapshot to the client.
func (s *session) onStateChange(snap Snapshot) {
	slot := snap.Segment.Slot()
	if ctrl, ok := s.controllers[slot]; ok && snap.VideoURL != "" {
		if err := ctrl.SetSource(snap.VideoURL); err != nil {
			s.onTourError(err)
		} else if err := ctrl.Play(); err != nil {
			s.onTourError(err)
		}
	}
	s.send(stateMessage{
		Type:     msgState,
		Snapshot: snap,
		Muted:    slot.Muted(),
		Loop:     slot.Loop(),
	})
}

func (s *session) onTourError(err error) {
	s.handler.logger.Warn("tour session error", "session", s.id, "error", err)
	s.send(errorMessage{Type: msgTourError, Message: err.Error()})
}

// sendOverlay maps the current location's hotspot pin centers into container
// pixels for a contain-fit video of the reported dimensions.
func (s *session) sendOverlay(ev sessionEvent) {
	rect := OverlayRect(ev.Width, ev.Height, ev.VideoWidth, ev.VideoHeight)
	snap := s.machine.Snapshot()
	pins := make([]overlayPin, 0, len(snap.Hotspots))
	for _, h := range snap.Hotspots {
		x, y := ProjectPoint(rect, h.Center)
		pins = append(pins, overlayPin{HotspotID: h.ID, X: x, Y: y})
	}
	s.send(overlayMessage{Type: msgOverlay, Content: rect, Pins: pins})
}

func (s *session) onPreloadProgress(loaded, total int) {
	s.send(progressMessage{Type: msgPreloadProgress, Loaded: loaded, Total: total})
}

// preloadLocation queues the location's aerial, transition, and every
// complete PRIMARY sequence, then drives them to terminal states. Failures
// only cost the preload benefit; playback falls back to on-demand fetching.
func (s *session) preloadLocation(ctx context.Context, locationID string) {
	bundle, err := s.handler.assets.Bundle(ctx, locationID)
	if err != nil {
		return
	}
	s.preload.Add("aerial_"+locationID, bundle.AerialURL)
	if bundle.TransitionURL != "" {
		s.preload.Add("transition_"+locationID, bundle.TransitionURL)
	}
	for _, h := range bundle.Hotspots {
		if h.Type != "PRIMARY" {
			continue
		}
		playlist, err := s.handler.assets.Playlist(ctx, h.ID)
		if err != nil || !playlist.Complete() {
			continue
		}
		s.preload.Add(SegmentKey("diveIn", h.ID), playlist.DiveInURL)
		s.preload.Add(SegmentKey("floorLevel", h.ID), playlist.FloorLevelURL)
		s.preload.Add(SegmentKey("zoomOut", h.ID), playlist.ZoomOutURL)
	}
	s.preload.PreloadAll(ctx)
}

func (s *session) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(v); err != nil {
		s.handler.logger.Warn("tour session write failed", "session", s.id, "error", err)
	}
}

// remotePlayer forwards controller actions to the client as JSON commands.
// Play outcomes come back asynchronously as playResult events.
type remotePlayer struct {
	session *session
	slot    Slot
}

func (p *remotePlayer) Load(src string, muted, loop bool) error {
	p.session.send(playerCommand{Type: msgPlayerCommand, Action: "load", Slot: p.slot, Src: src, Muted: muted, Loop: loop})
	return nil
}

func (p *remotePlayer) Pause() error {
	p.session.send(playerCommand{Type: msgPlayerCommand, Action: "pause", Slot: p.slot})
	return nil
}

func (p *remotePlayer) Reset() error {
	p.session.send(playerCommand{Type: msgPlayerCommand, Action: "reset", Slot: p.slot})
	return nil
}

func (p *remotePlayer) Play(muted bool) error {
	p.session.send(playerCommand{Type: msgPlayerCommand, Action: "play", Slot: p.slot, Muted: muted})
	return nil
}

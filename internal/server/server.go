package server

import (
	"context"
	"io/fs"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/virtualtour/virtualtour/internal/asset"
	"github.com/virtualtour/virtualtour/internal/auth"
	"github.com/virtualtour/virtualtour/internal/database"
	"github.com/virtualtour/virtualtour/internal/hotspot"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"github.com/virtualtour/virtualtour/internal/location"
	"github.com/virtualtour/virtualtour/internal/mediacache"
	"github.com/virtualtour/virtualtour/internal/ratelimit"
	"github.com/virtualtour/virtualtour/internal/tour"
	"github.com/virtualtour/virtualtour/internal/validate"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB               database.DBTX
	Pinger           Pinger
	Storage          asset.ObjectStorage
	Hotspots         *hotspot.Handler
	MediaCache       *mediacache.Cache
	CacheControl     *mediacache.Controller
	TourSessions     *tour.SessionHandler
	WebFS            fs.FS
	JWTSecret        string
	BaseURL          string
	MaxUploadBytes   int64
	S3PublicEndpoint string
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	authHandler     *auth.Handler
	locationHandler *location.Handler
	assetHandler    *asset.Handler
	hotspotHandler  *hotspot.Handler
	mediaCache      *mediacache.Cache
	cacheControl    *mediacache.Controller
	tourSessions    *tour.SessionHandler
	webFS           fs.FS
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(slogMiddleware)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.S3PublicEndpoint,
	}))

	s := &Server{
		router:       r,
		pinger:       cfg.Pinger,
		mediaCache:   cfg.MediaCache,
		cacheControl: cfg.CacheControl,
		tourSessions: cfg.TourSessions,
		webFS:        cfg.WebFS,
	}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		s.authHandler = auth.NewHandler(cfg.DB, cfg.JWTSecret)
		s.locationHandler = location.NewHandler(cfg.DB)
		s.assetHandler = asset.NewHandler(cfg.DB, cfg.Storage, baseURL, cfg.MaxUploadBytes)
		s.hotspotHandler = cfg.Hotspots
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)

	if s.authHandler != nil {
		authLimiter := ratelimit.NewLimiter(0.5, 5)
		s.router.Route("/api/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Get("/status", s.authHandler.Status)
			r.Post("/initialize", s.authHandler.Initialize)
			r.Post("/login", s.authHandler.Login)
			r.With(s.authHandler.Middleware).Post("/change-password", s.authHandler.ChangePassword)
		})

		s.router.Route("/api/locations", func(r chi.Router) {
			r.Get("/", s.locationHandler.List)
			r.Get("/{id}", s.locationHandler.Get)
			r.Group(func(r chi.Router) {
				r.Use(s.authHandler.Middleware)
				r.Post("/", s.locationHandler.Create)
				r.Put("/{id}", s.locationHandler.Update)
				r.Delete("/{id}", s.locationHandler.Delete)
			})
		})

		uploadLimiter := ratelimit.NewLimiter(2, 10)
		s.router.Route("/api/assets", func(r chi.Router) {
			r.Get("/", s.assetHandler.List)
			r.Get("/placeholder", s.assetHandler.Placeholder)
			r.Group(func(r chi.Router) {
				r.Use(uploadLimiter.Middleware)
				r.Use(s.authHandler.Middleware)
				r.Post("/", s.assetHandler.Upload)
				r.Delete("/{id}", s.assetHandler.Delete)
			})
		})

		s.router.Route("/api/hotspots", func(r chi.Router) {
			r.Get("/", s.hotspotHandler.List)
			r.Get("/{id}", s.hotspotHandler.Get)
			r.Group(func(r chi.Router) {
				r.Use(s.authHandler.Middleware)
				r.Post("/", s.hotspotHandler.Create)
				r.Put("/{id}", s.hotspotHandler.Update)
				r.Delete("/{id}", s.hotspotHandler.Delete)
			})
		})

		s.router.Route("/api/playlists", func(r chi.Router) {
			r.Get("/hotspot/{hotspotId}", s.hotspotHandler.GetPlaylistByHotspot)
			r.With(s.authHandler.Middleware).Put("/{id}", s.hotspotHandler.UpdatePlaylist)
		})

		s.router.Route("/api/drafts/hotspot", func(r chi.Router) {
			r.Use(s.authHandler.Middleware)
			r.Get("/", s.hotspotHandler.GetDraft)
			r.Put("/", s.hotspotHandler.PutDraft)
			r.Delete("/", s.hotspotHandler.DeleteDraft)
		})
	}

	if s.mediaCache != nil {
		s.router.Get("/media/assets/*", s.mediaCache.ServeAsset)
	}
	if s.cacheControl != nil {
		s.router.Get("/media/control", s.cacheControl.ServeWS)
	}
	if s.tourSessions != nil {
		s.router.Get("/api/tour/ws", s.tourSessions.ServeWS)
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleLimits exposes field length limits so admin forms can validate
// before submitting.
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/virtualtour/virtualtour/internal/database"
	"github.com/virtualtour/virtualtour/internal/geoip"
	"github.com/virtualtour/virtualtour/internal/hotspot"
	"github.com/virtualtour/virtualtour/internal/kvstore"
	"github.com/virtualtour/virtualtour/internal/mediacache"
	"github.com/virtualtour/virtualtour/internal/server"
	"github.com/virtualtour/virtualtour/internal/storage"
	"github.com/virtualtour/virtualtour/internal/tour"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("database migrations applied")

	maxUploadBytes := getEnvInt64("MAX_UPLOAD_BYTES", 500*1024*1024)

	store, err := storage.New(ctx, storage.Config{
		Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:3900"),
		Bucket:         getEnv("S3_BUCKET", "virtualtour"),
		AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3_SECRET_KEY"),
		Region:         getEnv("S3_REGION", "eu-central-1"),
		MaxUploadBytes: maxUploadBytes,
	})
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}

	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("storage bucket check failed: %v", err)
	}
	log.Println("storage bucket ready")

	baseURL := getEnv("BASE_URL", "http://localhost:8080")
	dataDir := getEnv("DATA_DIR", "data")

	cacheStore, err := kvstore.Open(dataDir + "/mediacache")
	if err != nil {
		log.Fatalf("media cache store failed: %v", err)
	}
	defer cacheStore.Close()

	mediaCache, err := mediacache.New(cacheStore, &mediacache.RoutingOrigin{
		Storage: &mediacache.StorageOrigin{Storage: store},
		HTTP:    mediacache.NewHTTPOrigin(30 * time.Second),
	})
	if err != nil {
		log.Fatalf("media cache init failed: %v", err)
	}
	log.Printf("media cache ready (generation %s)", mediacache.CacheVersion)

	draftStore, err := kvstore.Open(dataDir + "/drafts")
	if err != nil {
		log.Fatalf("draft store failed: %v", err)
	}
	defer draftStore.Close()

	geo, err := geoip.New(os.Getenv("GEOIP_DB_PATH"))
	if err != nil {
		log.Fatalf("geoip init failed: %v", err)
	}
	defer geo.Close()

	tourFetcher := &tour.DBFetcher{DB: db.Pool, BaseURL: baseURL}
	tourAssets := tour.NewAssetCache(tour.NewMemoryBundleStore(), tourFetcher)
	mediaFetcher := &tour.HTTPMediaFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
	sessions := tour.NewSessionHandler(tourAssets, mediaFetcher, geo, slog.Default())

	var webFS fs.FS
	distDir := getEnv("WEB_DIST_DIR", "web/dist")
	if info, err := os.Stat(distDir); err == nil && info.IsDir() {
		webFS = os.DirFS(distDir)
		log.Printf("serving frontend from %s", distDir)
	} else {
		log.Println("no frontend dist found, SPA serving disabled")
	}

	srv := server.New(server.Config{
		DB:               db.Pool,
		Pinger:           db,
		Storage:          store,
		Hotspots:         hotspot.NewHandler(db.Pool, draftStore),
		MediaCache:       mediaCache,
		CacheControl:     mediacache.NewController(mediaCache),
		TourSessions:     sessions,
		WebFS:            webFS,
		JWTSecret:        jwtSecret,
		BaseURL:          baseURL,
		MaxUploadBytes:   maxUploadBytes,
		S3PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("virtualtour listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	log.Println("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

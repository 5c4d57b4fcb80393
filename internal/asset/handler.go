package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/virtualtour/virtualtour/internal/database"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"github.com/virtualtour/virtualtour/internal/retry"
	"github.com/virtualtour/virtualtour/internal/storage"
	"github.com/virtualtour/virtualtour/internal/validate"
)

// ObjectStorage is the slice of the storage layer asset management needs.
type ObjectStorage interface {
	UploadObject(ctx context.Context, key string, contentType string, body io.Reader, size int64) error
	HeadObject(ctx context.Context, key string) (size int64, contentType string, err error)
	DeleteObject(ctx context.Context, key string) error
}

type Handler struct {
	db             database.DBTX
	storage        ObjectStorage
	baseURL        string
	maxUploadBytes int64
}

func NewHandler(db database.DBTX, storage ObjectStorage, baseURL string, maxUploadBytes int64) *Handler {
	return &Handler{db: db, storage: storage, baseURL: baseURL, maxUploadBytes: maxUploadBytes}
}

type assetItem struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        Type              `json:"type"`
	SizeBytes   int64             `json:"sizeBytes"`
	FileKey     string            `json:"fileKey"`
	URL         string            `json:"url"`
	ContentType string            `json:"contentType"`
	LocationID  *string           `json:"locationId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Width       *int              `json:"width,omitempty"`
	Height      *int              `json:"height,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

// List filters by optional ?type= and ?location= query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("type")
	locationFilter := r.URL.Query().Get("location")

	query := `SELECT id, name, type, size_bytes, file_key, content_type, location_id, metadata, width, height, created_at
	          FROM assets WHERE 1=1`
	args := []any{}
	if typeFilter != "" {
		args = append(args, typeFilter)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if locationFilter != "" {
		args = append(args, locationFilter)
		query += fmt.Sprintf(" AND location_id = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	defer rows.Close()

	items := []assetItem{}
	for rows.Next() {
		item, err := scanAsset(rows)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read assets")
			return
		}
		item.URL = NormalizeURL(h.baseURL, AccessURL(item.FileKey))
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read assets")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (assetItem, error) {
	var item assetItem
	var metadata []byte
	var createdAt time.Time
	err := row.Scan(&item.ID, &item.Name, &item.Type, &item.SizeBytes, &item.FileKey,
		&item.ContentType, &item.LocationID, &metadata, &item.Width, &item.Height, &createdAt)
	if err != nil {
		return item, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return item, fmt.Errorf("decode metadata: %w", err)
		}
	}
	item.CreatedAt = createdAt.Format(time.RFC3339)
	return item, nil
}

// Upload accepts a multipart form: file, name, type, and optionally
// locationId and metadata (a JSON object of string values). Invariants are
// checked before any byte reaches storage.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	assetType := Type(r.FormValue("type"))
	locationID := strings.TrimSpace(r.FormValue("locationId"))

	if name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "asset name is required")
		return
	}
	if msg := validate.AssetName(name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if !ValidType(assetType) {
		httputil.WriteError(w, http.StatusBadRequest, "unknown asset type")
		return
	}
	if RequiresLocation(assetType) && locationID == "" {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("%s assets require a location", assetType))
		return
	}

	var metadata map[string]string
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "metadata must be a JSON object of strings")
			return
		}
	}
	if assetType == TypeTransition {
		if metadata[MetaSourceLocation] == "" || metadata[MetaDestinationLocation] == "" {
			httputil.WriteError(w, http.StatusBadRequest, "transition assets require source and destination location metadata")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		httputil.WriteError(w, http.StatusBadRequest, "file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if IsVideoType(assetType) && !strings.HasPrefix(contentType, "video/") {
		httputil.WriteError(w, http.StatusBadRequest, "video asset types require a video file")
		return
	}

	var width, height *int
	if IsImageType(assetType) {
		cfg, _, err := image.DecodeConfig(file)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "could not decode image dimensions")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to rewind upload")
			return
		}
		width, height = &cfg.Width, &cfg.Height
	}

	if assetType == TypeButton {
		if msg := h.checkButtonPair(r.Context(), name, locationID, width, height); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	ext := storage.SanitizeKeyPart(strings.ToLower(path.Ext(header.Filename)))
	fileKey := fmt.Sprintf("assets/%s/%s%s", strings.ToLower(string(assetType)), uuid.NewString(), ext)

	if err := h.storage.UploadObject(r.Context(), fileKey, contentType, file, header.Size); err != nil {
		slog.Error("asset: upload failed", "key", fileKey, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	// Confirm the object actually landed before recording it.
	if stored, _, err := h.storage.HeadObject(r.Context(), fileKey); err != nil || stored != header.Size {
		slog.Error("asset: upload confirm failed", "key", fileKey, "stored", stored, "expected", header.Size, "error", err)
		if derr := h.storage.DeleteObject(r.Context(), fileKey); derr != nil {
			slog.Error("asset: orphan cleanup failed", "key", fileKey, "error", derr)
		}
		httputil.WriteError(w, http.StatusBadGateway, "stored file could not be verified")
		return
	}

	var metadataJSON any
	if metadata != nil {
		b, _ := json.Marshal(metadata)
		metadataJSON = string(b)
	}
	var locationArg any
	if locationID != "" {
		locationArg = locationID
	}

	var id string
	var createdAt time.Time
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO assets (name, type, size_bytes, file_key, content_type, location_id, metadata, width, height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`,
		name, string(assetType), header.Size, fileKey, contentType, locationArg, metadataJSON, width, height,
	).Scan(&id, &createdAt)
	if err != nil {
		// The object is already stored; remove it so failed inserts do not
		// leak orphans.
		if derr := h.storage.DeleteObject(r.Context(), fileKey); derr != nil {
			slog.Error("asset: orphan cleanup failed", "key", fileKey, "error", derr)
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create asset")
		return
	}

	item := assetItem{
		ID:          id,
		Name:        name,
		Type:        assetType,
		SizeBytes:   header.Size,
		FileKey:     fileKey,
		URL:         NormalizeURL(h.baseURL, AccessURL(fileKey)),
		ContentType: contentType,
		Metadata:    metadata,
		Width:       width,
		Height:      height,
		CreatedAt:   createdAt.Format(time.RFC3339),
	}
	if locationID != "" {
		item.LocationID = &locationID
	}
	httputil.WriteJSON(w, http.StatusCreated, item)
}

// checkButtonPair enforces the ON/OFF pair invariant: a button's counterpart
// (same base name, opposite suffix) must share pixel dimensions. The check
// runs before the upload so a mismatched pair is rejected with nothing
// written.
func (h *Handler) checkButtonPair(ctx context.Context, name, locationID string, width, height *int) string {
	counterpart := CounterpartName(name)
	if counterpart == "" {
		return "button asset names must end in _on or _off"
	}
	if width == nil || height == nil {
		return "button assets require decodable image dimensions"
	}

	var cw, ch *int
	err := h.db.QueryRow(ctx,
		`SELECT width, height FROM assets WHERE type = $1 AND location_id = $2 AND name = $3`,
		string(TypeButton), locationID, counterpart,
	).Scan(&cw, &ch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "" // first half of the pair
		}
		return "failed to check button pair"
	}
	if cw == nil || ch == nil || *cw != *width || *ch != *height {
		return fmt.Sprintf("button pair dimensions must match: %s is %vx%v", counterpart, deref(cw), deref(ch))
	}
	return ""
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var fileKey string
	err := h.db.QueryRow(r.Context(), `SELECT file_key FROM assets WHERE id = $1`, id).Scan(&fileKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "asset not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load asset")
		return
	}

	if _, err := h.db.Exec(r.Context(), `DELETE FROM assets WHERE id = $1`, id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete asset")
		return
	}

	if err := retry.Do(r.Context(), 3, retry.Exponential(time.Second), func() error {
		return h.storage.DeleteObject(r.Context(), fileKey)
	}); err != nil {
		slog.Error("asset: failed to delete stored object", "key", fileKey, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

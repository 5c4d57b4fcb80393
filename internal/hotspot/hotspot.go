package hotspot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/virtualtour/virtualtour/internal/database"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"github.com/virtualtour/virtualtour/internal/kvstore"
	"github.com/virtualtour/virtualtour/internal/validate"
)

const (
	TypePrimary   = "PRIMARY"
	TypeSecondary = "SECONDARY"
)

type Handler struct {
	db     database.DBTX
	drafts *kvstore.Store
}

func NewHandler(db database.DBTX, drafts *kvstore.Store) *Handler {
	return &Handler{db: db, drafts: drafts}
}

// Point is a polygon vertex in normalized (0..1) video coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Center returns the mean of the polygon's vertices.
func Center(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	return Point{X: sx / n, Y: sy / n}
}

type InfoPanel struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type hotspotItem struct {
	ID               string     `json:"id"`
	LocationID       string     `json:"locationId"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Points           []Point    `json:"points"`
	Center           Point      `json:"center"`
	MapPinAssetID    *string    `json:"mapPinAssetId,omitempty"`
	UIElementAssetID *string    `json:"uiElementAssetId,omitempty"`
	InfoPanel        *InfoPanel `json:"infoPanel,omitempty"`
	CreatedAt        string     `json:"createdAt"`
	UpdatedAt        string     `json:"updatedAt"`
}

type upsertRequest struct {
	LocationID       string     `json:"locationId"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Points           []Point    `json:"points"`
	MapPinAssetID    *string    `json:"mapPinAssetId"`
	UIElementAssetID *string    `json:"uiElementAssetId"`
	InfoPanel        *InfoPanel `json:"infoPanel"`
}

func (r *upsertRequest) validate() string {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return "hotspot name is required"
	}
	if msg := validate.HotspotName(r.Name); msg != "" {
		return msg
	}
	if r.Type != TypePrimary && r.Type != TypeSecondary {
		return "hotspot type must be PRIMARY or SECONDARY"
	}
	if r.LocationID == "" {
		return "hotspot location is required"
	}
	if len(r.Points) < validate.MinPolygonPoints {
		return fmt.Sprintf("hotspot polygon requires at least %d points", validate.MinPolygonPoints)
	}
	for _, p := range r.Points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return "hotspot points must be normalized to 0..1"
		}
	}
	if r.InfoPanel != nil {
		if msg := validate.InfoTitle(r.InfoPanel.Title); msg != "" {
			return msg
		}
		if msg := validate.InfoDescription(r.InfoPanel.Description); msg != "" {
			return msg
		}
	}
	return ""
}

// List returns the hotspots of a location (?location=), or all hotspots.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	locationFilter := r.URL.Query().Get("location")

	query := `SELECT id, location_id, name, type, points, center_x, center_y,
	          map_pin_asset_id, ui_element_asset_id, info_title, info_description, created_at, updated_at
	          FROM hotspots`
	args := []any{}
	if locationFilter != "" {
		query += " WHERE location_id = $1"
		args = append(args, locationFilter)
	}
	query += " ORDER BY created_at"

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list hotspots")
		return
	}
	defer rows.Close()

	items := []hotspotItem{}
	for rows.Next() {
		item, err := scanHotspot(rows)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read hotspots")
			return
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read hotspots")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHotspot(row rowScanner) (hotspotItem, error) {
	var item hotspotItem
	var pointsJSON []byte
	var infoTitle, infoDescription *string
	var createdAt, updatedAt time.Time
	err := row.Scan(&item.ID, &item.LocationID, &item.Name, &item.Type, &pointsJSON,
		&item.Center.X, &item.Center.Y, &item.MapPinAssetID, &item.UIElementAssetID,
		&infoTitle, &infoDescription, &createdAt, &updatedAt)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(pointsJSON, &item.Points); err != nil {
		return item, fmt.Errorf("decode points: %w", err)
	}
	if infoTitle != nil || infoDescription != nil {
		item.InfoPanel = &InfoPanel{}
		if infoTitle != nil {
			item.InfoPanel.Title = *infoTitle
		}
		if infoDescription != nil {
			item.InfoPanel.Description = *infoDescription
		}
	}
	item.CreatedAt = createdAt.Format(time.RFC3339)
	item.UpdatedAt = updatedAt.Format(time.RFC3339)
	return item, nil
}

// Create stores the hotspot and, for PRIMARY hotspots, seeds an empty
// playlist row so the admin can attach videos afterwards.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	center := Center(req.Points)
	pointsJSON, err := json.Marshal(req.Points)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to encode points")
		return
	}

	var infoTitle, infoDescription *string
	if req.InfoPanel != nil {
		infoTitle, infoDescription = &req.InfoPanel.Title, &req.InfoPanel.Description
	}

	var id string
	var createdAt, updatedAt time.Time
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO hotspots (location_id, name, type, points, center_x, center_y,
		 map_pin_asset_id, ui_element_asset_id, info_title, info_description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at, updated_at`,
		req.LocationID, req.Name, req.Type, string(pointsJSON), center.X, center.Y,
		req.MapPinAssetID, req.UIElementAssetID, infoTitle, infoDescription,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create hotspot")
		return
	}

	if req.Type == TypePrimary {
		if _, err := h.db.Exec(r.Context(),
			`INSERT INTO playlists (hotspot_id) VALUES ($1) ON CONFLICT (hotspot_id) DO NOTHING`, id,
		); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to create playlist")
			return
		}
	}

	httputil.WriteJSON(w, http.StatusCreated, hotspotItem{
		ID:               id,
		LocationID:       req.LocationID,
		Name:             req.Name,
		Type:             req.Type,
		Points:           req.Points,
		Center:           center,
		MapPinAssetID:    req.MapPinAssetID,
		UIElementAssetID: req.UIElementAssetID,
		InfoPanel:        req.InfoPanel,
		CreatedAt:        createdAt.Format(time.RFC3339),
		UpdatedAt:        updatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req upsertRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	center := Center(req.Points)
	pointsJSON, err := json.Marshal(req.Points)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to encode points")
		return
	}

	var infoTitle, infoDescription *string
	if req.InfoPanel != nil {
		infoTitle, infoDescription = &req.InfoPanel.Title, &req.InfoPanel.Description
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE hotspots SET location_id = $1, name = $2, type = $3, points = $4,
		 center_x = $5, center_y = $6, map_pin_asset_id = $7, ui_element_asset_id = $8,
		 info_title = $9, info_description = $10, updated_at = now()
		 WHERE id = $11`,
		req.LocationID, req.Name, req.Type, string(pointsJSON), center.X, center.Y,
		req.MapPinAssetID, req.UIElementAssetID, infoTitle, infoDescription, id,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update hotspot")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "hotspot not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(), `DELETE FROM hotspots WHERE id = $1`, id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete hotspot")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "hotspot not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row := h.db.QueryRow(r.Context(),
		`SELECT id, location_id, name, type, points, center_x, center_y,
		 map_pin_asset_id, ui_element_asset_id, info_title, info_description, created_at, updated_at
		 FROM hotspots WHERE id = $1`, id)
	item, err := scanHotspot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "hotspot not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load hotspot")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

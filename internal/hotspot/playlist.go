package hotspot

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/virtualtour/virtualtour/internal/httputil"
)

// PlaylistItem is the fixed three-video sequence of a PRIMARY hotspot. Any
// nil video means the playlist is incomplete and no sequence may start.
type PlaylistItem struct {
	ID                string  `json:"id"`
	HotspotID         string  `json:"hotspotId"`
	DiveInAssetID     *string `json:"diveInVideoId"`
	FloorLevelAssetID *string `json:"floorLevelVideoId"`
	ZoomOutAssetID    *string `json:"zoomOutVideoId"`
	Complete          bool    `json:"complete"`
	UpdatedAt         string  `json:"updatedAt"`
}

func (p *PlaylistItem) complete() bool {
	return p.DiveInAssetID != nil && p.FloorLevelAssetID != nil && p.ZoomOutAssetID != nil
}

// GetPlaylistByHotspot handles GET /api/playlists/hotspot/{hotspotId}.
func (h *Handler) GetPlaylistByHotspot(w http.ResponseWriter, r *http.Request) {
	hotspotID := chi.URLParam(r, "hotspotId")

	var item PlaylistItem
	var updatedAt time.Time
	err := h.db.QueryRow(r.Context(),
		`SELECT id, hotspot_id, dive_in_asset_id, floor_level_asset_id, zoom_out_asset_id, updated_at
		 FROM playlists WHERE hotspot_id = $1`, hotspotID,
	).Scan(&item.ID, &item.HotspotID, &item.DiveInAssetID, &item.FloorLevelAssetID, &item.ZoomOutAssetID, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "playlist not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load playlist")
		return
	}
	item.Complete = item.complete()
	item.UpdatedAt = updatedAt.Format(time.RFC3339)

	httputil.WriteJSON(w, http.StatusOK, item)
}

type updatePlaylistRequest struct {
	DiveInAssetID     *string `json:"diveInVideoId"`
	FloorLevelAssetID *string `json:"floorLevelVideoId"`
	ZoomOutAssetID    *string `json:"zoomOutVideoId"`
}

// UpdatePlaylist handles PUT /api/playlists/{id}.
func (h *Handler) UpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updatePlaylistRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE playlists SET dive_in_asset_id = $1, floor_level_asset_id = $2,
		 zoom_out_asset_id = $3, updated_at = now() WHERE id = $4`,
		req.DiveInAssetID, req.FloorLevelAssetID, req.ZoomOutAssetID, id,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update playlist")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "playlist not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

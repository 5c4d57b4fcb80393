package location

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/virtualtour/virtualtour/internal/database"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"github.com/virtualtour/virtualtour/internal/validate"
)

type Handler struct {
	db database.DBTX
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{db: db}
}

// Coordinate is an optional 3D hint used by the map overview to place the
// location marker.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type locationItem struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Active      bool        `json:"active"`
	Coordinate  *Coordinate `json:"coordinate,omitempty"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
}

type upsertRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Active      *bool       `json:"active"`
	Coordinate  *Coordinate `json:"coordinate"`
}

func (r *upsertRequest) validate() string {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return "location name is required"
	}
	if msg := validate.LocationName(r.Name); msg != "" {
		return msg
	}
	if msg := validate.LocationDescription(r.Description); msg != "" {
		return msg
	}
	return ""
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(r.Context(),
		`SELECT id, name, description, active, coord_x, coord_y, coord_z, created_at, updated_at
		 FROM locations ORDER BY created_at`)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list locations")
		return
	}
	defer rows.Close()

	items := []locationItem{}
	for rows.Next() {
		var item locationItem
		var cx, cy, cz *float64
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Active, &cx, &cy, &cz, &createdAt, &updatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read locations")
			return
		}
		if cx != nil && cy != nil && cz != nil {
			item.Coordinate = &Coordinate{X: *cx, Y: *cy, Z: *cz}
		}
		item.CreatedAt = createdAt.Format(time.RFC3339)
		item.UpdatedAt = updatedAt.Format(time.RFC3339)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read locations")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item locationItem
	var cx, cy, cz *float64
	var createdAt, updatedAt time.Time
	err := h.db.QueryRow(r.Context(),
		`SELECT id, name, description, active, coord_x, coord_y, coord_z, created_at, updated_at
		 FROM locations WHERE id = $1`, id,
	).Scan(&item.ID, &item.Name, &item.Description, &item.Active, &cx, &cy, &cz, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "location not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load location")
		return
	}
	if cx != nil && cy != nil && cz != nil {
		item.Coordinate = &Coordinate{X: *cx, Y: *cy, Z: *cz}
	}
	item.CreatedAt = createdAt.Format(time.RFC3339)
	item.UpdatedAt = updatedAt.Format(time.RFC3339)

	httputil.WriteJSON(w, http.StatusOK, item)
}

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

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	var cx, cy, cz *float64
	if req.Coordinate != nil {
		cx, cy, cz = &req.Coordinate.X, &req.Coordinate.Y, &req.Coordinate.Z
	}

	var id string
	var createdAt, updatedAt time.Time
	err := h.db.QueryRow(r.Context(),
		`INSERT INTO locations (name, description, active, coord_x, coord_y, coord_z)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`,
		req.Name, req.Description, active, cx, cy, cz,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create location")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, locationItem{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Active:      active,
		Coordinate:  req.Coordinate,
		CreatedAt:   createdAt.Format(time.RFC3339),
		UpdatedAt:   updatedAt.Format(time.RFC3339),
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

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	var cx, cy, cz *float64
	if req.Coordinate != nil {
		cx, cy, cz = &req.Coordinate.X, &req.Coordinate.Y, &req.Coordinate.Z
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE locations SET name = $1, description = $2, active = $3,
		 coord_x = $4, coord_y = $5, coord_z = $6, updated_at = now()
		 WHERE id = $7`,
		req.Name, req.Description, active, cx, cy, cz, id,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update location")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "location not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(), `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete location")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "location not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

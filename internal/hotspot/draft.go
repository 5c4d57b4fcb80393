package hotspot

import (
	"errors"
	"io"
	"net/http"

	"github.com/virtualtour/virtualtour/internal/auth"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"github.com/virtualtour/virtualtour/internal/kvstore"
	"github.com/virtualtour/virtualtour/internal/validate"
)

// Draft state for the hotspot creation wizard (selected map pin, UI element,
// polygon points) persists across admin navigation. It is advisory cache, not
// source of truth: the payload is stored opaquely.

const draftKeyPrefix = "hotspotdraft/"

func draftKey(adminID string) []byte {
	return []byte(draftKeyPrefix + adminID)
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	adminID := auth.UserIDFromContext(r.Context())

	data, err := h.drafts.Get(draftKey(adminID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "no draft saved")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load draft")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *Handler) PutDraft(w http.ResponseWriter, r *http.Request) {
	adminID := auth.UserIDFromContext(r.Context())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validate.MaxDraftBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "draft too large or unreadable")
		return
	}
	if len(data) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "draft body is required")
		return
	}

	if err := h.drafts.Set(draftKey(adminID), data); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save draft")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	adminID := auth.UserIDFromContext(r.Context())

	if err := h.drafts.Delete(draftKey(adminID)); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete draft")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

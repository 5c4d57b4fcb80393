package asset

import (
	"net/http"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/virtualtour/virtualtour/internal/httputil"
)

const (
	placeholderDefaultSize = 128
	placeholderMaxSize     = 1024
)

// Placeholder renders a generated PNG used by the admin UI when a map pin or
// button preview failed to load. Accepts ?w=&h=&label=.
func (h *Handler) Placeholder(w http.ResponseWriter, r *http.Request) {
	width := placeholderDim(r.URL.Query().Get("w"))
	height := placeholderDim(r.URL.Query().Get("h"))
	label := r.URL.Query().Get("label")
	if label == "" {
		label = "?"
	}
	if len(label) > 16 {
		label = label[:16]
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB255(0x2b, 0x2f, 0x36)
	dc.Clear()
	dc.SetRGB255(0x4a, 0x50, 0x5a)
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, float64(width-2), float64(height-2))
	dc.Stroke()
	dc.SetRGB255(0xc8, 0xcc, 0xd4)
	dc.DrawStringAnchored(label, float64(width)/2, float64(height)/2, 0.5, 0.5)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if err := dc.EncodePNG(w); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to render placeholder")
	}
}

func placeholderDim(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return placeholderDefaultSize
	}
	if n > placeholderMaxSize {
		return placeholderMaxSize
	}
	return n
}

package asset

import (
	"strings"
)

// Type enumerates every asset kind the tour understands. Video types drive
// the playback sequence; the rest are images placed on the map or UI.
type Type string

const (
	TypeAerial         Type = "AERIAL"
	TypeDiveIn         Type = "DiveIn"
	TypeFloorLevel     Type = "FloorLevel"
	TypeZoomOut        Type = "ZoomOut"
	TypeTransition     Type = "Transition"
	TypeButton         Type = "Button"
	TypeMapPin         Type = "MapPin"
	TypeUIElement      Type = "UIElement"
	TypeLocationBanner Type = "LocationBanner"
)

var allTypes = map[Type]bool{
	TypeAerial:         true,
	TypeDiveIn:         true,
	TypeFloorLevel:     true,
	TypeZoomOut:        true,
	TypeTransition:     true,
	TypeButton:         true,
	TypeMapPin:         true,
	TypeUIElement:      true,
	TypeLocationBanner: true,
}

// locationScoped types are meaningless without an owning location.
var locationScoped = map[Type]bool{
	TypeAerial:     true,
	TypeDiveIn:     true,
	TypeFloorLevel: true,
	TypeZoomOut:    true,
	TypeButton:     true,
}

// imageTypes have their pixel dimensions recorded at upload time.
var imageTypes = map[Type]bool{
	TypeButton:         true,
	TypeMapPin:         true,
	TypeUIElement:      true,
	TypeLocationBanner: true,
}

var videoTypes = map[Type]bool{
	TypeAerial:     true,
	TypeDiveIn:     true,
	TypeFloorLevel: true,
	TypeZoomOut:    true,
	TypeTransition: true,
}

func ValidType(t Type) bool        { return allTypes[t] }
func RequiresLocation(t Type) bool { return locationScoped[t] }
func IsImageType(t Type) bool      { return imageTypes[t] }
func IsVideoType(t Type) bool      { return videoTypes[t] }

// Button assets come in ON/OFF pairs per location, distinguished by a name
// suffix. CounterpartName returns the paired name, or "" if the name does not
// follow the convention.
func CounterpartName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "_on"):
		return name[:len(name)-3] + "_off"
	case strings.HasSuffix(lower, "_off"):
		return name[:len(name)-4] + "_on"
	}
	return ""
}

// Metadata keys recorded on Transition assets.
const (
	MetaSourceLocation      = "sourceLocationId"
	MetaDestinationLocation = "destinationLocationId"
)

// AccessURL builds the canonical serving path for a stored object. The media
// proxy owns the /media/assets/ prefix.
func AccessURL(fileKey string) string {
	return "/media/assets/" + fileKey
}

// NormalizeURL turns a backend-returned asset path into an absolute URL.
// Absolute inputs pass through; relative inputs are prefixed with baseURL.
// Both "/api/..."-prefixed and bare forms are accepted and collapse to a
// single prefix, never a doubled one.
func NormalizeURL(baseURL, raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base := strings.TrimSuffix(baseURL, "/")
	path := raw
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	// Collapse a duplicated /api prefix when the base already ends in /api.
	for strings.HasSuffix(base, "/api") && strings.HasPrefix(path, "/api/") {
		path = strings.TrimPrefix(path, "/api")
	}
	return base + path
}

package validate

import "fmt"

// Text field length limits — single source of truth for backend and admin UI.
const (
	MaxLocationNameLength        = 200
	MaxLocationDescriptionLength = 2000
	MaxAssetNameLength           = 200
	MaxHotspotNameLength         = 200
	MaxInfoTitleLength           = 200
	MaxInfoDescriptionLength     = 2000
	MaxDraftBytes                = 32 * 1024
)

// MinPolygonPoints is the smallest hotspot geometry accepted: a polygon.
const MinPolygonPoints = 3

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func LocationName(s string) string { return checkLen(s, MaxLocationNameLength, "location name") }
func LocationDescription(s string) string {
	return checkLen(s, MaxLocationDescriptionLength, "location description")
}
func AssetName(s string) string   { return checkLen(s, MaxAssetNameLength, "asset name") }
func HotspotName(s string) string { return checkLen(s, MaxHotspotNameLength, "hotspot name") }
func InfoTitle(s string) string   { return checkLen(s, MaxInfoTitleLength, "info panel title") }
func InfoDescription(s string) string {
	return checkLen(s, MaxInfoDescriptionLength, "info panel description")
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"locationName":        MaxLocationNameLength,
		"locationDescription": MaxLocationDescriptionLength,
		"assetName":           MaxAssetNameLength,
		"hotspotName":         MaxHotspotNameLength,
		"infoTitle":           MaxInfoTitleLength,
		"infoDescription":     MaxInfoDescriptionLength,
	}
}

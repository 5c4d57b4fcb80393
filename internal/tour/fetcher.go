package tour

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/virtualtour/virtualtour/internal/asset"
	"github.com/virtualtour/virtualtour/internal/database"
)

// DBFetcher assembles tour bundles straight from the admin tables.
type DBFetcher struct {
	DB      database.DBTX
	BaseURL string
}

func (f *DBFetcher) FetchBundle(ctx context.Context, locationID string) (*Bundle, error) {
	b := &Bundle{LocationID: locationID}

	err := f.DB.QueryRow(ctx,
		"SELECT name FROM locations WHERE id = $1 AND active = true",
		locationID,
	).Scan(&b.Name)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("location %s not found", locationID)
		}
		return nil, err
	}

	b.AerialURL, err = f.locationVideoURL(ctx, locationID, asset.TypeAerial)
	if err != nil {
		return nil, err
	}
	if b.AerialURL == "" {
		return nil, fmt.Errorf("location %s has no aerial video", locationID)
	}
	b.TransitionURL, err = f.transitionVideoURL(ctx, locationID)
	if err != nil {
		return nil, err
	}

	rows, err := f.DB.Query(ctx, `
		SELECT h.id, h.name, h.type, h.points, h.center_x, h.center_y,
		       COALESCE(h.info_title, ''), COALESCE(h.info_description, ''),
		       COALESCE(a.file_key, '')
		FROM hotspots h
		LEFT JOIN assets a ON a.id = h.map_pin_asset_id
		WHERE h.location_id = $1
		ORDER BY h.name`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h Hotspot
		var pointsJSON []byte
		var mapPinKey string
		if err := rows.Scan(&h.ID, &h.Name, &h.Type, &pointsJSON, &h.Center.X, &h.Center.Y,
			&h.InfoTitle, &h.InfoText, &mapPinKey); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pointsJSON, &h.Points); err != nil {
			return nil, fmt.Errorf("hotspot %s points: %w", h.ID, err)
		}
		if mapPinKey != "" {
			h.MapPinURL = asset.NormalizeURL(f.BaseURL, asset.AccessURL(mapPinKey))
		}
		b.Hotspots = append(b.Hotspots, h)
	}
	return b, rows.Err()
}

func (f *DBFetcher) FetchPlaylist(ctx context.Context, hotspotID string) (*Playlist, error) {
	p := &Playlist{HotspotID: hotspotID}
	var diveIn, floorLevel, zoomOut *string
	err := f.DB.QueryRow(ctx, `
		SELECT d.file_key, fl.file_key, z.file_key
		FROM playlists p
		LEFT JOIN assets d ON d.id = p.dive_in_asset_id
		LEFT JOIN assets fl ON fl.id = p.floor_level_asset_id
		LEFT JOIN assets z ON z.id = p.zoom_out_asset_id
		WHERE p.hotspot_id = $1`, hotspotID).Scan(&diveIn, &floorLevel, &zoomOut)
	if err != nil {
		if err == pgx.ErrNoRows {
			// PRIMARY hotspots get a playlist row on creation; a missing row
			// just means nothing is attached yet.
			return p, nil
		}
		return nil, err
	}
	p.DiveInURL = f.mediaURL(diveIn)
	p.FloorLevelURL = f.mediaURL(floorLevel)
	p.ZoomOutURL = f.mediaURL(zoomOut)
	return p, nil
}

func (f *DBFetcher) mediaURL(key *string) string {
	if key == nil || *key == "" {
		return ""
	}
	return asset.NormalizeURL(f.BaseURL, asset.AccessURL(*key))
}

func (f *DBFetcher) locationVideoURL(ctx context.Context, locationID string, typ asset.Type) (string, error) {
	var key string
	err := f.DB.QueryRow(ctx,
		"SELECT file_key FROM assets WHERE location_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1",
		locationID, string(typ),
	).Scan(&key)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return asset.NormalizeURL(f.BaseURL, asset.AccessURL(key)), nil
}

// transitionVideoURL finds a transition video whose metadata names this
// location as its destination.
func (f *DBFetcher) transitionVideoURL(ctx context.Context, locationID string) (string, error) {
	var key string
	err := f.DB.QueryRow(ctx,
		"SELECT file_key FROM assets WHERE type = $1 AND metadata->>$2 = $3 ORDER BY created_at DESC LIMIT 1",
		string(asset.TypeTransition), asset.MetaDestinationLocation, locationID,
	).Scan(&key)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return asset.NormalizeURL(f.BaseURL, asset.AccessURL(key)), nil
}

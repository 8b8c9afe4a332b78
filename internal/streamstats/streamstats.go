// Package streamstats delineates watersheds with the USGS StreamStats
// service and stores the catchment and its pour point.
package streamstats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/httputil"
	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("streamstats")

const service = "streamstats"

// Config holds the delineation endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the public StreamStats endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://streamstats.usgs.gov/ss-delineate/v1/delineate/sshydro/",
		Timeout: 2 * time.Minute,
	}
}

// Client requests delineations.
type Client struct {
	cfg  Config
	http httputil.HTTPClient
}

// NewClient returns a Client. A nil hc uses a standard client with the
// configured timeout.
func NewClient(cfg Config, hc httputil.HTTPClient) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if hc == nil {
		hc = httputil.NewClient(cfg.Timeout)
	}
	return &Client{cfg: cfg, http: hc}
}

// Watershed is a delineated catchment.
type Watershed struct {
	Catchment  orb.MultiPolygon
	Parameters map[string]any
}

// Delineate requests the watershed draining to p in the given state region.
func (c *Client) Delineate(ctx context.Context, regionCode string, p orb.Point) (*Watershed, error) {
	const op = "delineate watershed"
	if regionCode == "" {
		return nil, errors.Newf(errors.KindValidation, op, "region code is required")
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat(), 'f', 7, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon(), 'f', 7, 64))
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + url.PathEscape(strings.ToUpper(regionCode)) + "?" + q.Encode()
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.New(errors.KindValidation, op, err)
	}
	req.Header.Set("Accept", "application/json")

	logf("delineating %s at %.5f, %.5f", regionCode, p.Lon(), p.Lat())
	body, err := httputil.Fetch(ctx, c.http, service, req)
	if err != nil {
		return nil, err
	}
	ws, err := ParseDelineation(body)
	if err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}
	return ws, nil
}

type delineationResponse struct {
	BCRequest struct {
		WSResp struct {
			FeatureCollection []json.RawMessage `json:"featurecollection"`
			Parameters        []struct {
				Code  string   `json:"code"`
				Name  string   `json:"name"`
				Unit  string   `json:"unit"`
				Value *float64 `json:"value"`
			} `json:"parameters"`
		} `json:"wsresp"`
	} `json:"bcrequest"`
}

type namedFeature struct {
	Name    string          `json:"name"`
	Feature json.RawMessage `json:"feature"`
}

// ParseDelineation extracts the catchment polygon at
// bcrequest.wsresp.featurecollection[0][1].feature. When the first element is
// an object instead of a list the entries are searched by name.
func ParseDelineation(body []byte) (*Watershed, error) {
	var resp delineationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode delineation: %w", err)
	}
	fc := resp.BCRequest.WSResp.FeatureCollection
	if len(fc) == 0 {
		return nil, fmt.Errorf("delineation has no featurecollection")
	}

	var entries []namedFeature
	if err := json.Unmarshal(fc[0], &entries); err != nil {
		// flat list of named features
		for _, raw := range fc {
			var nf namedFeature
			if err := json.Unmarshal(raw, &nf); err != nil {
				return nil, fmt.Errorf("failed to decode featurecollection entry: %w", err)
			}
			entries = append(entries, nf)
		}
	}

	var raw json.RawMessage
	switch {
	case len(entries) > 1 && len(entries[1].Feature) > 0 && !isGlobalPoint(entries[1].Name):
		raw = entries[1].Feature
	default:
		for _, e := range entries {
			if strings.EqualFold(e.Name, "globalwatershed") {
				raw = e.Feature
			}
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("delineation has no watershed feature")
	}

	mp, err := polygons(raw)
	if err != nil {
		return nil, err
	}
	ws := &Watershed{Catchment: mp}
	for _, p := range resp.BCRequest.WSResp.Parameters {
		if ws.Parameters == nil {
			ws.Parameters = map[string]any{}
		}
		ws.Parameters[p.Code] = map[string]any{"name": p.Name, "unit": p.Unit, "value": p.Value}
	}
	return ws, nil
}

func isGlobalPoint(name string) bool {
	return strings.EqualFold(name, "globalwatershedpoint")
}

// polygons decodes a GeoJSON feature collection, feature or geometry and
// keeps its polygons.
func polygons(raw json.RawMessage) (orb.MultiPolygon, error) {
	var geoms []orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	} else if f, err := geojson.UnmarshalFeature(raw); err == nil && f.Geometry != nil {
		geoms = append(geoms, f.Geometry)
	} else if g, err := geojson.UnmarshalGeometry(raw); err == nil {
		geoms = append(geoms, g.Geometry())
	} else {
		return nil, fmt.Errorf("watershed feature is not GeoJSON")
	}

	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		}
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("watershed feature has no polygon")
	}
	return mp, nil
}

// Store writes the pour point and its catchment.
func Store(ctx context.Context, d *db.DB, name string, p orb.Point, ws *Watershed) (*db.PourPoint, int64, error) {
	pp := &db.PourPoint{
		Name:                 name,
		Latitude:             p.Lat(),
		Longitude:            p.Lon(),
		BasinCharacteristics: ws.Parameters,
	}
	var catchmentID int64
	err := d.WithWriteLock(ctx, func() error {
		var err error
		catchmentID, err = d.InsertPourPoint(ctx, pp, ws.Catchment)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return pp, catchmentID, nil
}

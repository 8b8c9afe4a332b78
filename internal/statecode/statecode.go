// Package statecode resolves a coordinate to a US state postal code using a
// local GeoJSON file of state boundaries.
package statecode

import (
	"fmt"
	"os"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("statecode")

// codeProperties are checked in order for the postal code of a state feature.
var codeProperties = []string{"STUSPS", "postal", "code", "abbr", "STATE_ABBR"}

var nameProperties = []string{"NAME", "name", "STATE_NAME"}

type state struct {
	code  string
	name  string
	bound orb.Bound
	shape orb.MultiPolygon
}

// Index answers point lookups against state boundaries.
type Index struct {
	states []state
	cache  *cache.Cache
}

// Load reads a boundaries file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.KindIO, "load state boundaries", err)
	}
	ix, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logf("loaded %d state boundaries from %s", len(ix.states), path)
	return ix, nil
}

// Parse builds an index from a GeoJSON feature collection. Features without
// a polygon or a recognised code property are ignored.
func Parse(data []byte) (*Index, error) {
	const op = "parse state boundaries"
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}
	ix := &Index{cache: cache.New(cache.NoExpiration, 0)}
	for _, f := range fc.Features {
		code := firstString(f.Properties, codeProperties)
		if code == "" {
			continue
		}
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			continue
		}
		ix.states = append(ix.states, state{
			code:  strings.ToUpper(code),
			name:  firstString(f.Properties, nameProperties),
			bound: mp.Bound(),
			shape: mp,
		})
	}
	if len(ix.states) == 0 {
		return nil, errors.Newf(errors.KindValidation, op, "no state polygons with a code property")
	}
	return ix, nil
}

func firstString(props geojson.Properties, keys []string) string {
	for _, k := range keys {
		if s, ok := props[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Len returns the number of indexed states.
func (ix *Index) Len() int {
	return len(ix.states)
}

// Lookup returns the postal code of the state containing the point. A point
// outside every state is NotFound.
func (ix *Index) Lookup(lon, lat float64) (string, error) {
	key := fmt.Sprintf("%.6f,%.6f", lon, lat)
	if v, ok := ix.cache.Get(key); ok {
		return v.(string), nil
	}
	p := orb.Point{lon, lat}
	for _, s := range ix.states {
		if !s.bound.Contains(p) {
			continue
		}
		if planar.MultiPolygonContains(s.shape, p) {
			ix.cache.SetDefault(key, s.code)
			return s.code, nil
		}
	}
	return "", errors.Newf(errors.KindNotFound, "lookup state", "no state contains %.5f, %.5f", lon, lat).
		With("lon", lon).With("lat", lat)
}

// Name returns the state name for a code, or "" when the file has none.
func (ix *Index) Name(code string) string {
	code = strings.ToUpper(code)
	for _, s := range ix.states {
		if s.code == code {
			return s.name
		}
	}
	return ""
}

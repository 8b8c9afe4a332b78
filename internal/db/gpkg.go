package db

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// SRSWGS84 is the spatial reference of every stored geometry.
const SRSWGS84 = 4326

const (
	gpkgFlagLittleEndian = 0x01
	gpkgEnvelopeXY       = 0x02 // envelope indicator 1 shifted into bits 1-3
	gpkgFlagEmpty        = 0x10
)

// EncodeGeometry renders g as a GeoPackage geometry blob: "GP", version 0,
// flags, srs id, an XY envelope and little-endian WKB.
func EncodeGeometry(g orb.Geometry, srsID int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wkb: %w", err)
	}

	flags := byte(gpkgFlagLittleEndian | gpkgEnvelopeXY)
	b := g.Bound()
	empty := isEmpty(g)
	if empty {
		flags = gpkgFlagLittleEndian | gpkgFlagEmpty
	}

	out := make([]byte, 0, 8+32+len(body))
	out = append(out, 'G', 'P', 0, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(int32(srsID)))
	if !empty {
		for _, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}
	return append(out, body...), nil
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	}
	return false
}

type gpkgHeader struct {
	srsID    int
	envelope orb.Bound
	hasEnv   bool
	empty    bool
	size     int
}

func parseHeader(blob []byte) (gpkgHeader, error) {
	var h gpkgHeader
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return h, fmt.Errorf("not a geopackage geometry blob")
	}
	if blob[2] != 0 {
		return h, fmt.Errorf("unsupported geopackage blob version %d", blob[2])
	}
	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&gpkgFlagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	h.empty = flags&gpkgFlagEmpty != 0
	h.srsID = int(int32(order.Uint32(blob[4:8])))

	var envLen int
	switch (flags >> 1) & 0x07 {
	case 0:
		envLen = 0
	case 1:
		envLen = 32
	case 2, 3:
		envLen = 48
	case 4:
		envLen = 64
	default:
		return h, fmt.Errorf("invalid geopackage envelope indicator")
	}
	if len(blob) < 8+envLen {
		return h, fmt.Errorf("truncated geopackage envelope")
	}
	if envLen > 0 {
		f := func(i int) float64 { return math.Float64frombits(order.Uint64(blob[8+8*i:])) }
		h.envelope = orb.Bound{Min: orb.Point{f(0), f(2)}, Max: orb.Point{f(1), f(3)}}
		h.hasEnv = true
	}
	h.size = 8 + envLen
	return h, nil
}

// DecodeGeometry parses a GeoPackage geometry blob.
func DecodeGeometry(blob []byte) (orb.Geometry, int, error) {
	if len(blob) == 0 {
		return nil, 0, nil
	}
	h, err := parseHeader(blob)
	if err != nil {
		return nil, 0, err
	}
	g, err := wkb.Unmarshal(blob[h.size:])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wkb: %w", err)
	}
	return g, h.srsID, nil
}

// GeometryEnvelope returns the envelope stored in a blob header without
// decoding the geometry. ok is false when the header carries none.
func GeometryEnvelope(blob []byte) (orb.Bound, bool) {
	h, err := parseHeader(blob)
	if err != nil || !h.hasEnv || h.empty {
		return orb.Bound{}, false
	}
	return h.envelope, true
}

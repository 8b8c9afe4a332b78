package metricdef

import (
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/units"
)

func TestParseUsage(t *testing.T) {
	tests := []struct {
		in    string
		kind  UsageKind
		named bool
		str   string
	}{
		{"", UsageDefault, false, ""},
		{"metric_layer", UsageMetricLayer, false, "metric_layer"},
		{"Numerator", UsageNumerator, true, "numerator"},
		{"denominator", UsageDenominator, true, "denominator"},
		{" normalization ", UsageNormalization, true, "normalization"},
		{"Structures", UsageGroup, true, "structures"},
	}
	for _, tt := range tests {
		u := ParseUsage(tt.in)
		if u.Kind != tt.kind || u.IsNamedGroup() != tt.named || u.String() != tt.str {
			t.Errorf("ParseUsage(%q) = %+v named=%v str=%q", tt.in, u, u.IsNamedGroup(), u.String())
		}
	}
}

func TestParseParams(t *testing.T) {
	src := `{
		"dce_layers": [
			{"layer_id_ref": "dams", "attribute_filter": {"field_id_ref": "dam_type", "values": ["primary", 2]}},
			{"layer_id_ref": "jams", "usage": "structures", "count_field": {"field_id_ref": "n"}}
		],
		"inputs": [{"input_ref": "Centerline", "usage": "normalization"}]
	}`
	p, err := ParseParams([]byte(src))
	require.NoError(t, err)
	require.Len(t, p.DCELayers, 2)
	require.Len(t, p.Inputs, 1)

	assert.Equal(t, "centerline", p.Inputs[0].Input)
	assert.True(t, p.Normalized())
	assert.True(t, p.NormalizedPerLength())
	assert.Len(t, p.MetricLayers(), 2)
	assert.Len(t, p.Layers(), 3)

	f := p.DCELayers[0].AttributeFilter
	assert.True(t, f.Matches("primary"))
	assert.True(t, f.Matches(2.0))
	assert.False(t, f.Matches("secondary"))

	assert.NoError(t, p.Validate(FuncCount))
	assert.Equal(t, units.CountPerLength, UnitType(FuncCount, p))
	assert.Equal(t, units.Ratio, UnitType(FuncLength, p))
	assert.Equal(t, units.Area, UnitType(FuncArea, p))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	again, err := ParseParams(out)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestParseParamsNullAndErrors(t *testing.T) {
	for _, src := range []string{"", "null", "  "} {
		p, err := ParseParams([]byte(src))
		assert.NoError(t, err)
		assert.Nil(t, p)
	}

	bad := map[string]string{
		"unknown field":      `{"layers": []}`,
		"missing layer ref":  `{"dce_layers": [{"usage": "numerator"}]}`,
		"missing input ref":  `{"inputs": [{"usage": "normalization"}]}`,
		"filter on an input": `{"inputs": [{"input_ref": "dem", "count_field": {"field_id_ref": "x"}}]}`,
		"not json":           `{`,
	}
	for name, src := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseParams([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestParamsValidate(t *testing.T) {
	parse := func(s string) *Params {
		p, err := ParseParams([]byte(s))
		require.NoError(t, err)
		return p
	}
	tests := []struct {
		name string
		fn   Function
		src  string
		ok   bool
	}{
		{"count", FuncCount, `{"dce_layers":[{"layer_id_ref":"dams"}]}`, true},
		{"unknown function", Function("volume"), `{"dce_layers":[{"layer_id_ref":"dams"}]}`, false},
		{"nil params", FuncCount, ``, false},
		{"only normalization", FuncCount, `{"inputs":[{"input_ref":"centerline","usage":"normalization"}]}`, false},
		{"two normalizations", FuncCount, `{"dce_layers":[{"layer_id_ref":"a","usage":"normalization"},{"layer_id_ref":"b"}],"inputs":[{"input_ref":"centerline","usage":"normalization"}]}`, false},
		{"sinuosity one line", FuncSinuosity, `{"dce_layers":[{"layer_id_ref":"thalwegs"}]}`, true},
		{"sinuosity two lines", FuncSinuosity, `{"dce_layers":[{"layer_id_ref":"a"},{"layer_id_ref":"b"}]}`, false},
		{"gradient without dem", FuncGradient, `{"dce_layers":[{"layer_id_ref":"thalwegs"}]}`, false},
		{"gradient", FuncGradient, `{"dce_layers":[{"layer_id_ref":"thalwegs"}],"inputs":[{"input_ref":"dem"}]}`, true},
		{"proportion only denominator", FuncAreaProportion, `{"dce_layers":[{"layer_id_ref":"a","usage":"denominator"}]}`, false},
		{"proportion default numerator", FuncAreaProportion, `{"dce_layers":[{"layer_id_ref":"a"}]}`, true},
		{"empty attribute filter", FuncCount, `{"dce_layers":[{"layer_id_ref":"a","attribute_filter":{"field_id_ref":"x","values":[]}}]}`, false},
		{"input group usage", FuncCount, `{"dce_layers":[{"layer_id_ref":"a"}],"inputs":[{"input_ref":"dem","usage":"things"}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parse(tt.src).Validate(tt.fn)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBundledCatalog(t *testing.T) {
	protocols, err := Bundled()
	require.NoError(t, err)
	require.Len(t, protocols, 2)
	assert.Equal(t, "ASBTM", protocols[0].MachineCode)

	seen := map[Function]bool{}
	for _, p := range protocols {
		for _, m := range p.Metrics {
			if m.Params != nil {
				seen[m.Function] = true
			}
		}
	}
	for _, f := range Functions {
		assert.True(t, seen[f], "catalog has no %s metric", f)
	}
}

func TestLoadCatalogRejectsBadMetric(t *testing.T) {
	fsys := fstest.MapFS{
		"cat/bad.yaml": {Data: []byte(`
name: Bad
machine_code: BAD
layers:
  - layer_id: dams
    geom_type: Point
metrics:
  - name: Crest Length
    machine_name: crest_length
    metric_function: length
    default_unit: m
    metric_params:
      dce_layers:
        - layer_id_ref: crests
`)},
	}
	_, err := LoadCatalog(fsys, "cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown layer crests")

	fsys["cat/bad.yaml"] = &fstest.MapFile{Data: []byte(`
name: Bad
machine_code: BAD
layers:
  - layer_id: dams
    geom_type: Point
metrics:
  - name: Dam Count
    machine_name: dam_count
    metric_function: count
    default_unit: km
    metric_params:
      dce_layers:
        - layer_id_ref: dams
`)}
	_, err = LoadCatalog(fsys, "cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_unit")
}

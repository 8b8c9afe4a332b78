// Package metricdef defines metric functions, their structured parameters and
// the bundled protocol catalog.
package metricdef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riverscapes/qris/internal/units"
)

// Function is a metric calculation function.
type Function string

const (
	FuncCount          Function = "count"
	FuncLength         Function = "length"
	FuncArea           Function = "area"
	FuncSinuosity      Function = "sinuosity"
	FuncGradient       Function = "gradient"
	FuncAreaProportion Function = "area_proportion"
)

// Functions lists every supported function.
var Functions = []Function{FuncCount, FuncLength, FuncArea, FuncSinuosity, FuncGradient, FuncAreaProportion}

// Known reports whether f is a supported function.
func (f Function) Known() bool {
	for _, k := range Functions {
		if f == k {
			return true
		}
	}
	return false
}

// BaseUnitType returns the unit type of f before normalization.
func (f Function) BaseUnitType() units.UnitType {
	switch f {
	case FuncCount:
		return units.Count
	case FuncLength:
		return units.Distance
	case FuncArea:
		return units.Area
	case FuncSinuosity, FuncGradient, FuncAreaProportion:
		return units.Ratio
	}
	return ""
}

// Analysis input names that metric_params may reference.
const (
	InputCenterline   = "centerline"
	InputDEM          = "dem"
	InputValleyBottom = "valley_bottom"
)

// AttributeFilter keeps features whose attribute is one of Values.
type AttributeFilter struct {
	FieldIDRef string `json:"field_id_ref" yaml:"field_id_ref"`
	Values     []any  `json:"values" yaml:"values"`
}

// Matches reports whether v is listed in the filter. Values compare by their
// printed form so 3 and 3.0 are equal.
func (f *AttributeFilter) Matches(v any) bool {
	s := printed(v)
	for _, want := range f.Values {
		if printed(want) == s {
			return true
		}
	}
	return false
}

func printed(v any) string {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%g", t)
	case float32:
		return fmt.Sprintf("%g", t)
	}
	return fmt.Sprint(v)
}

// CountField names the attribute holding a per-feature count.
type CountField struct {
	FieldIDRef string `json:"field_id_ref" yaml:"field_id_ref"`
}

// LayerSpec is either a DCELayer or an InputRef.
type LayerSpec interface {
	Role() Usage
	Ref() string
	isLayerSpec()
}

// DCELayer references a layer captured on each event.
type DCELayer struct {
	LayerIDRef      string
	Usage           Usage
	AttributeFilter *AttributeFilter
	CountField      *CountField
}

func (l DCELayer) Role() Usage { return l.Usage }
func (l DCELayer) Ref() string { return l.LayerIDRef }
func (DCELayer) isLayerSpec()  {}

// InputRef references an entity chosen on the analysis (centerline, dem, ...).
type InputRef struct {
	Input string
	Usage Usage
}

func (r InputRef) Role() Usage { return r.Usage }
func (r InputRef) Ref() string { return r.Input }
func (InputRef) isLayerSpec()  {}

// Params is the parsed form of metric_params.
type Params struct {
	DCELayers []DCELayer
	Inputs    []InputRef
}

type rawLayer struct {
	LayerIDRef      string           `json:"layer_id_ref,omitempty" yaml:"layer_id_ref"`
	InputRef        string           `json:"input_ref,omitempty" yaml:"input_ref"`
	Usage           string           `json:"usage,omitempty" yaml:"usage"`
	AttributeFilter *AttributeFilter `json:"attribute_filter,omitempty" yaml:"attribute_filter"`
	CountField      *CountField      `json:"count_field,omitempty" yaml:"count_field"`
}

type rawParams struct {
	DCELayers []rawLayer `json:"dce_layers,omitempty" yaml:"dce_layers"`
	Inputs    []rawLayer `json:"inputs,omitempty" yaml:"inputs"`
}

func (r rawParams) params() (*Params, error) {
	p := &Params{}
	for i, l := range r.DCELayers {
		if strings.TrimSpace(l.LayerIDRef) == "" {
			return nil, fmt.Errorf("dce_layers[%d]: layer_id_ref is required", i)
		}
		if l.InputRef != "" {
			return nil, fmt.Errorf("dce_layers[%d]: input_ref is not allowed on a dce layer", i)
		}
		p.DCELayers = append(p.DCELayers, DCELayer{
			LayerIDRef:      strings.TrimSpace(l.LayerIDRef),
			Usage:           ParseUsage(l.Usage),
			AttributeFilter: l.AttributeFilter,
			CountField:      l.CountField,
		})
	}
	for i, in := range r.Inputs {
		if strings.TrimSpace(in.InputRef) == "" {
			return nil, fmt.Errorf("inputs[%d]: input_ref is required", i)
		}
		if in.LayerIDRef != "" || in.AttributeFilter != nil || in.CountField != nil {
			return nil, fmt.Errorf("inputs[%d]: only input_ref and usage are allowed", i)
		}
		p.Inputs = append(p.Inputs, InputRef{
			Input: strings.ToLower(strings.TrimSpace(in.InputRef)),
			Usage: ParseUsage(in.Usage),
		})
	}
	return p, nil
}

func (p *Params) raw() rawParams {
	var r rawParams
	for _, l := range p.DCELayers {
		r.DCELayers = append(r.DCELayers, rawLayer{
			LayerIDRef:      l.LayerIDRef,
			Usage:           l.Usage.String(),
			AttributeFilter: l.AttributeFilter,
			CountField:      l.CountField,
		})
	}
	for _, in := range p.Inputs {
		r.Inputs = append(r.Inputs, rawLayer{InputRef: in.Input, Usage: in.Usage.String()})
	}
	return r
}

// ParseParams decodes metric_params JSON. Empty input and JSON null yield nil.
func ParseParams(data []byte) (*Params, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Params) UnmarshalJSON(data []byte) error {
	var r rawParams
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("invalid metric_params: %w", err)
	}
	parsed, err := r.params()
	if err != nil {
		return fmt.Errorf("invalid metric_params: %w", err)
	}
	*p = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.raw())
}

// Layers returns every layer spec, DCE layers first.
func (p *Params) Layers() []LayerSpec {
	if p == nil {
		return nil
	}
	out := make([]LayerSpec, 0, len(p.DCELayers)+len(p.Inputs))
	for _, l := range p.DCELayers {
		out = append(out, l)
	}
	for _, in := range p.Inputs {
		out = append(out, in)
	}
	return out
}

// Normalization returns the layer declared with usage normalization.
func (p *Params) Normalization() (LayerSpec, bool) {
	for _, l := range p.Layers() {
		if l.Role().Kind == UsageNormalization {
			return l, true
		}
	}
	return nil, false
}

// Normalized reports whether a normalization layer is declared.
func (p *Params) Normalized() bool {
	_, ok := p.Normalization()
	return ok
}

// NormalizedPerLength reports whether normalization divides by the centerline.
func (p *Params) NormalizedPerLength() bool {
	l, ok := p.Normalization()
	if !ok {
		return false
	}
	in, isInput := l.(InputRef)
	return isInput && in.Input == InputCenterline
}

// MetricLayers returns every spec that contributes features, i.e. all but the
// normalization layer.
func (p *Params) MetricLayers() []LayerSpec {
	var out []LayerSpec
	for _, l := range p.Layers() {
		if l.Role().Kind != UsageNormalization {
			out = append(out, l)
		}
	}
	return out
}

// HasInput reports whether an input ref with the given name is declared.
func (p *Params) HasInput(name string) bool {
	if p == nil {
		return false
	}
	for _, in := range p.Inputs {
		if in.Input == name {
			return true
		}
	}
	return false
}

// UnitType returns the effective unit type of a metric using f and p.
func UnitType(f Function, p *Params) units.UnitType {
	if p == nil {
		return f.BaseUnitType()
	}
	return units.EffectiveType(f.BaseUnitType(), p.Normalized(), p.NormalizedPerLength())
}

// Validate checks p is usable by f.
func (p *Params) Validate(f Function) error {
	if !f.Known() {
		return fmt.Errorf("unknown metric function %q", f)
	}
	if p == nil {
		return fmt.Errorf("metric function %s requires metric_params", f)
	}

	norms := 0
	for _, l := range p.Layers() {
		if l.Role().Kind == UsageNormalization {
			norms++
		}
	}
	if norms > 1 {
		return fmt.Errorf("at most one normalization layer is allowed, found %d", norms)
	}
	for i, l := range p.DCELayers {
		if l.AttributeFilter != nil {
			if l.AttributeFilter.FieldIDRef == "" || len(l.AttributeFilter.Values) == 0 {
				return fmt.Errorf("dce_layers[%d]: attribute_filter needs field_id_ref and values", i)
			}
		}
		if l.CountField != nil && l.CountField.FieldIDRef == "" {
			return fmt.Errorf("dce_layers[%d]: count_field needs field_id_ref", i)
		}
	}
	for i, in := range p.Inputs {
		switch in.Usage.Kind {
		case UsageDefault, UsageMetricLayer, UsageNormalization, UsageNumerator, UsageDenominator:
		default:
			return fmt.Errorf("inputs[%d]: usage %q is not valid for an input", i, in.Usage)
		}
	}

	if len(p.MetricLayers()) == 0 {
		return fmt.Errorf("metric function %s needs at least one metric layer", f)
	}

	switch f {
	case FuncSinuosity, FuncGradient:
		lines := 0
		for _, l := range p.MetricLayers() {
			if _, ok := l.(DCELayer); ok {
				lines++
			}
		}
		if lines != 1 {
			return fmt.Errorf("metric function %s needs exactly one dce layer, found %d", f, lines)
		}
		if f == FuncGradient && !p.HasInput(InputDEM) {
			return fmt.Errorf("metric function gradient needs a %q input", InputDEM)
		}
	case FuncAreaProportion:
		num := 0
		for _, l := range p.DCELayers {
			if k := l.Usage.Kind; k == UsageNumerator || k == UsageDefault {
				num++
			}
		}
		if num == 0 {
			return fmt.Errorf("metric function area_proportion needs a numerator layer")
		}
	}
	return nil
}

package metricdef

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/riverscapes/qris/internal/units"
)

//go:embed catalog/*.yaml
var bundled embed.FS

// Protocol is one protocol definition from the catalog.
type Protocol struct {
	Name        string   `yaml:"name"`
	MachineCode string   `yaml:"machine_code"`
	Version     string   `yaml:"version"`
	Status      string   `yaml:"status"`
	Description string   `yaml:"description"`
	Layers      []Layer  `yaml:"layers"`
	Metrics     []Metric `yaml:"metrics"`
}

// Layer is a catalog layer definition.
type Layer struct {
	LayerID     string `yaml:"layer_id"`
	Name        string `yaml:"name"`
	GeomType    string `yaml:"geom_type"`
	IsLookup    bool   `yaml:"is_lookup"`
	Description string `yaml:"description"`
}

// Metric is a catalog metric definition.
type Metric struct {
	Name         string     `yaml:"name"`
	MachineName  string     `yaml:"machine_name"`
	Version      int        `yaml:"version"`
	Status       string     `yaml:"status"`
	DefaultLevel string     `yaml:"default_level"`
	Function     Function   `yaml:"metric_function"`
	RawParams    *rawParams `yaml:"metric_params"`
	DefaultUnit  string     `yaml:"default_unit"`
	Description  string     `yaml:"description"`
	Precision    *int       `yaml:"precision"`
	Tolerance    *float64   `yaml:"tolerance"`
	Min          *float64   `yaml:"min"`
	Max          *float64   `yaml:"max"`
	Hierarchy    []string   `yaml:"hierarchy"`

	Params *Params `yaml:"-"`
}

// Protocol statuses.
const (
	StatusActive       = "active"
	StatusExperimental = "experimental"
	StatusDeprecated   = "deprecated"
)

// Geometry types a layer may have.
var layerGeomTypes = map[string]bool{"Point": true, "Linestring": true, "Polygon": true, "NoGeometry": true}

// Bundled returns the protocols shipped with the engine.
func Bundled() ([]Protocol, error) {
	return LoadCatalog(bundled, "catalog")
}

// LoadCatalog reads every *.yaml file in dir, one protocol per file, and
// validates it. Protocols are returned sorted by machine code.
func LoadCatalog(fsys fs.FS, dir string) ([]Protocol, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var protocols []Protocol
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		p, err := ParseProtocol(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		protocols = append(protocols, *p)
	}
	sort.Slice(protocols, func(i, j int) bool { return protocols[i].MachineCode < protocols[j].MachineCode })
	return protocols, nil
}

// ParseProtocol decodes and validates one protocol document.
func ParseProtocol(data []byte) (*Protocol, error) {
	var p Protocol
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid protocol yaml: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Protocol) validate() error {
	if p.Name == "" || p.MachineCode == "" {
		return fmt.Errorf("protocol requires name and machine_code")
	}
	switch p.Status {
	case "":
		p.Status = StatusActive
	case StatusActive, StatusExperimental, StatusDeprecated:
	default:
		return fmt.Errorf("protocol %s: invalid status %q", p.MachineCode, p.Status)
	}

	layerIDs := map[string]bool{}
	for _, l := range p.Layers {
		if l.LayerID == "" {
			return fmt.Errorf("protocol %s: layer without layer_id", p.MachineCode)
		}
		if !layerGeomTypes[l.GeomType] {
			return fmt.Errorf("protocol %s: layer %s has invalid geom_type %q", p.MachineCode, l.LayerID, l.GeomType)
		}
		if layerIDs[l.LayerID] {
			return fmt.Errorf("protocol %s: duplicate layer %s", p.MachineCode, l.LayerID)
		}
		layerIDs[l.LayerID] = true
	}

	names := map[string]bool{}
	for i := range p.Metrics {
		m := &p.Metrics[i]
		if m.Name == "" || m.MachineName == "" {
			return fmt.Errorf("protocol %s: metric requires name and machine_name", p.MachineCode)
		}
		if names[m.MachineName] {
			return fmt.Errorf("protocol %s: duplicate metric %s", p.MachineCode, m.MachineName)
		}
		names[m.MachineName] = true
		if m.DefaultLevel == "" {
			m.DefaultLevel = "metric"
		}
		if m.RawParams == nil {
			continue
		}
		params, err := m.RawParams.params()
		if err != nil {
			return fmt.Errorf("metric %s: %w", m.MachineName, err)
		}
		if err := params.Validate(m.Function); err != nil {
			return fmt.Errorf("metric %s: %w", m.MachineName, err)
		}
		for _, l := range params.DCELayers {
			if !layerIDs[l.LayerIDRef] {
				return fmt.Errorf("metric %s: unknown layer %s", m.MachineName, l.LayerIDRef)
			}
		}
		m.Params = params
		if m.DefaultUnit != "" {
			if !units.IsValid(m.DefaultUnit, UnitType(m.Function, params)) {
				return fmt.Errorf("metric %s: default_unit %q does not match %s", m.MachineName, m.DefaultUnit, UnitType(m.Function, params))
			}
		}
	}
	return nil
}

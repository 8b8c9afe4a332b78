// Package units provides unit types, the unit catalog and conversions between
// canonical base units and display units.
//
// Database stores every metric value in the base unit of its unit type
// (meters, square meters, ratio, count, count per meter, count per square
// meter). Conversions happen only for display and for value entry.
package units

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// UnitType classifies what a metric value measures.
type UnitType string

const (
	Count          UnitType = "count"
	Distance       UnitType = "distance"
	Area           UnitType = "area"
	Ratio          UnitType = "ratio"
	CountPerLength UnitType = "count_per_length"
	CountPerArea   UnitType = "count_per_area"
)

// Unit names
const (
	Meters      = "m"
	Centimeters = "cm"
	Millimeters = "mm"
	Kilometers  = "km"
	Inches      = "in"
	Feet        = "ft"
	Yards       = "yd"
	Miles       = "mi"

	SquareMeters     = "m2"
	SquareKilometers = "km2"
	Hectares         = "ha"
	SquareFeet       = "ft2"
	SquareYards      = "yd2"
	Acres            = "ac"
	SquareMiles      = "mi2"

	RatioUnit = "ratio"
	Percent   = "percent"

	CountUnit = "count"
)

// Unit is one entry of the unit catalog. ToBase multiplies a value in this
// unit into the base unit of Type.
type Unit struct {
	Name   string
	Label  string
	Type   UnitType
	ToBase float64
}

var catalog = map[string]Unit{
	Meters:      {Meters, "m", Distance, 1},
	Centimeters: {Centimeters, "cm", Distance, 0.01},
	Millimeters: {Millimeters, "mm", Distance, 0.001},
	Kilometers:  {Kilometers, "km", Distance, 1000},
	Inches:      {Inches, "in", Distance, 0.0254},
	Feet:        {Feet, "ft", Distance, 0.3048},
	Yards:       {Yards, "yd", Distance, 0.9144},
	Miles:       {Miles, "mi", Distance, 1609.344},

	SquareMeters:     {SquareMeters, "m²", Area, 1},
	SquareKilometers: {SquareKilometers, "km²", Area, 1e6},
	Hectares:         {Hectares, "ha", Area, 1e4},
	SquareFeet:       {SquareFeet, "ft²", Area, 0.09290304},
	SquareYards:      {SquareYards, "yd²", Area, 0.83612736},
	Acres:            {Acres, "ac", Area, 4046.8564224},
	SquareMiles:      {SquareMiles, "mi²", Area, 2589988.110336},

	RatioUnit: {RatioUnit, "ratio", Ratio, 1},
	Percent:   {Percent, "%", Ratio, 0.01},

	CountUnit: {CountUnit, "count", Count, 1},
}

// BaseUnits maps each primary unit type to its canonical storage unit.
var BaseUnits = map[UnitType]string{
	Count:    CountUnit,
	Distance: Meters,
	Area:     SquareMeters,
	Ratio:    RatioUnit,
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Unit, bool) {
	u, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return u, ok
}

// UnitsOf returns the unit names of a primary unit type, sorted by size.
func UnitsOf(t UnitType) []string {
	var names []string
	for name, u := range catalog {
		if u.Type == t {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return catalog[names[i]].ToBase < catalog[names[j]].ToBase
	})
	return names
}

// IsValid checks if the given unit name exists and measures the given type.
// Density types accept the unit of their denominator.
func IsValid(name string, t UnitType) bool {
	u, ok := Lookup(name)
	if !ok {
		return false
	}
	return u.Type == axisType(t)
}

// GetValidUnitsString returns a comma-separated list of units for error messages.
func GetValidUnitsString(t UnitType) string {
	return strings.Join(UnitsOf(axisType(t)), ", ")
}

// axisType returns the catalog type a display unit must have for t. Count
// densities are displayed per distance or per area unit.
func axisType(t UnitType) UnitType {
	switch t {
	case CountPerLength:
		return Distance
	case CountPerArea:
		return Area
	default:
		return t
	}
}

// EffectiveType resolves the unit type of a metric after normalization.
// Normalized distance becomes a ratio; normalized count becomes a density per
// length when the normalization input is a centerline, else per area.
func EffectiveType(base UnitType, normalized, perLength bool) UnitType {
	if !normalized {
		return base
	}
	switch base {
	case Distance:
		return Ratio
	case Count:
		if perLength {
			return CountPerLength
		}
		return CountPerArea
	default:
		return base
	}
}

// ConvertToDisplay converts a stored base-unit value of type t into target.
// For densities the target names the denominator unit: a count per meter
// shown per kilometer is multiplied by the kilometer's length factor.
func ConvertToDisplay(v float64, target string, t UnitType) (float64, error) {
	u, err := checkTarget(target, t)
	if err != nil {
		return 0, err
	}
	if t == CountPerLength || t == CountPerArea {
		return v * u.ToBase, nil
	}
	return v / u.ToBase, nil
}

// ConvertToBase is the inverse of ConvertToDisplay.
func ConvertToBase(v float64, source string, t UnitType) (float64, error) {
	u, err := checkTarget(source, t)
	if err != nil {
		return 0, err
	}
	if t == CountPerLength || t == CountPerArea {
		return v / u.ToBase, nil
	}
	return v * u.ToBase, nil
}

func checkTarget(name string, t UnitType) (Unit, error) {
	u, ok := Lookup(name)
	if !ok {
		return Unit{}, fmt.Errorf("unknown unit %q", name)
	}
	if u.Type != axisType(t) {
		return Unit{}, fmt.Errorf("unit %q measures %s, not %s (valid: %s)", name, u.Type, t, GetValidUnitsString(t))
	}
	return u, nil
}

// DisplayPreferences holds the per-analysis display units.
type DisplayPreferences struct {
	Distance string `json:"distance"`
	Area     string `json:"area"`
	Ratio    string `json:"ratio"`
}

// DefaultPreferences displays everything in base units.
func DefaultPreferences() DisplayPreferences {
	return DisplayPreferences{Distance: Meters, Area: SquareMeters, Ratio: RatioUnit}
}

// Validate checks every preference names a unit of the right type.
func (p DisplayPreferences) Validate() error {
	if !IsValid(p.Distance, Distance) {
		return fmt.Errorf("invalid distance unit %q (valid: %s)", p.Distance, GetValidUnitsString(Distance))
	}
	if !IsValid(p.Area, Area) {
		return fmt.Errorf("invalid area unit %q (valid: %s)", p.Area, GetValidUnitsString(Area))
	}
	if !IsValid(p.Ratio, Ratio) {
		return fmt.Errorf("invalid ratio unit %q (valid: %s)", p.Ratio, GetValidUnitsString(Ratio))
	}
	return nil
}

// UnitFor returns the display unit the preferences select for t.
func (p DisplayPreferences) UnitFor(t UnitType) string {
	switch t {
	case Distance, CountPerLength:
		return orDefault(p.Distance, Meters)
	case Area, CountPerArea:
		return orDefault(p.Area, SquareMeters)
	case Ratio:
		return orDefault(p.Ratio, RatioUnit)
	default:
		return CountUnit
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Label renders the unit label for a value of type t shown in unit name.
func Label(t UnitType, name string) string {
	u, ok := Lookup(name)
	if !ok {
		return name
	}
	switch t {
	case CountPerLength, CountPerArea:
		return "count/" + u.Label
	default:
		return u.Label
	}
}

// FormatValue converts a stored value for display and renders it with the
// given number of decimal places.
func FormatValue(v float64, t UnitType, prefs DisplayPreferences, precision int) (string, error) {
	unit := prefs.UnitFor(t)
	display, err := ConvertToDisplay(v, unit, t)
	if err != nil {
		return "", err
	}
	if precision < 0 {
		precision = -1
	}
	return strconv.FormatFloat(display, 'f', precision, 64) + " " + Label(t, unit), nil
}

package metricdef

import "strings"

// UsageKind is the role a layer plays in a metric.
type UsageKind int

const (
	// UsageDefault means no usage was declared.
	UsageDefault UsageKind = iota
	UsageMetricLayer
	UsageNumerator
	UsageDenominator
	UsageNormalization
	// UsageGroup is a named feasibility group; Usage.Group carries the name.
	UsageGroup
)

// Usage is a parsed usage code.
type Usage struct {
	Kind  UsageKind
	Group string
}

// ParseUsage resolves a usage code. Matching is case-insensitive.
func ParseUsage(s string) Usage {
	code := strings.ToLower(strings.TrimSpace(s))
	switch code {
	case "":
		return Usage{Kind: UsageDefault}
	case "metric_layer":
		return Usage{Kind: UsageMetricLayer}
	case "numerator":
		return Usage{Kind: UsageNumerator}
	case "denominator":
		return Usage{Kind: UsageDenominator}
	case "normalization":
		return Usage{Kind: UsageNormalization}
	}
	return Usage{Kind: UsageGroup, Group: code}
}

// String returns the usage code as written in metric_params.
func (u Usage) String() string {
	switch u.Kind {
	case UsageMetricLayer:
		return "metric_layer"
	case UsageNumerator:
		return "numerator"
	case UsageDenominator:
		return "denominator"
	case UsageNormalization:
		return "normalization"
	case UsageGroup:
		return u.Group
	}
	return ""
}

// IsNamedGroup reports whether layers sharing this usage are satisfied when
// any one of them is present. Absent usage and metric_layer are individually
// required.
func (u Usage) IsNamedGroup() bool {
	return u.Kind != UsageDefault && u.Kind != UsageMetricLayer
}

package model

import (
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/waterfall-engine/internal/errs"
)

// Decimal wraps shopspring decimal so deal files can carry exact amounts
// and rates. yaml.v3 does not honor encoding.TextUnmarshaler, hence the
// explicit node hook.
type Decimal struct {
	decimal.Decimal
}

// Dec builds a model Decimal from a shopspring value.
func Dec(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// DecFromString parses s into a Decimal, panicking on malformed input.
// Intended for constants and tests, not file input.
func DecFromString(s string) Decimal {
	return Decimal{Decimal: decimal.RequireFromString(s)}
}

// UnmarshalYAML parses a scalar yaml node into a decimal.
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errs.Validationf("model: decimal: expected scalar, got %v at line %d", node.Kind, node.Line)
	}
	if node.Value == "" || node.Tag == "!!null" {
		d.Decimal = decimal.Zero
		return nil
	}
	parsed, err := decimal.NewFromString(node.Value)
	if err != nil {
		return errs.Validationf("model: decimal: parse %q at line %d", node.Value, node.Line)
	}
	d.Decimal = parsed
	return nil
}

// MarshalYAML emits the decimal as a plain scalar.
func (d Decimal) MarshalYAML() (any, error) {
	return d.String(), nil
}

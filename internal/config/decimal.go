package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal wraps decimal.Decimal so prices, percentages, and margins decode
// from YAML without ever passing through float64. Quoted strings, ints, and
// floats are all accepted; booleans and structured nodes are not.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("decimal must be a scalar, got %s", value.Tag)
	}
	if value.Tag == "!!bool" || value.Tag == "!!null" {
		if value.Value == "" || value.Tag == "!!null" {
			d.Decimal = decimal.Zero
			return nil
		}
		return fmt.Errorf("invalid decimal %q", value.Value)
	}
	if value.Value == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	dec, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", value.Value, err)
	}
	d.Decimal = dec
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// decimalFromString builds a Decimal from a known-good literal. It is how
// applyDefaults states the grid and ladder defaults; the literal must parse.
func decimalFromString(v string) Decimal {
	return Decimal{Decimal: decimal.RequireFromString(v)}
}

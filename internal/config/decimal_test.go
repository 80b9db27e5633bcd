package config

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func TestDecimalUnmarshalAcceptsScalars(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"0.005"`, "0.005"},
		{"0.005", "0.005"},
		{"25", "25"},
		{`""`, "0"},
	}
	for _, tc := range cases {
		var d Decimal
		if err := yaml.Unmarshal([]byte(tc.raw), &d); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tc.raw, err)
		}
		if !d.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Unmarshal(%s) = %s, want %s", tc.raw, d, tc.want)
		}
	}
}

func TestDecimalUnmarshalRejectsNonNumbers(t *testing.T) {
	cases := []string{"true", "[1, 2]", "{a: 1}", `"not a number"`}
	for _, raw := range cases {
		var d Decimal
		if err := yaml.Unmarshal([]byte(raw), &d); err == nil {
			t.Fatalf("Unmarshal(%s) error = nil, want invalid decimal", raw)
		}
	}
}

func TestDecimalMarshalRoundTrips(t *testing.T) {
	d := decimalFromString("0.0001")
	out, err := yaml.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), "0.0001") {
		t.Fatalf("Marshal() = %q, want 0.0001", out)
	}
}

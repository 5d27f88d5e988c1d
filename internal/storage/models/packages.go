package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultFeedPackages is the ticket set assigned to feed events, which carry no package metadata.
func DefaultFeedPackages() []Package {
	return []Package{
		{
			Name:        "General Admission",
			Price:       decimal.NewFromInt(30),
			Description: "Basic entry to the event with access to main dance floor and bar areas.",
		},
		{
			Name:        "VIP Access",
			Price:       decimal.NewFromInt(75),
			Description: "Premium entry with access to VIP lounge, complimentary welcome drink, and priority entry.",
		},
	}
}

// DecodePackages coerces the loosely typed packages JSON column into packages.
//
// Null, empty or non-array values yield nil. Array entries that are not objects
// degrade to a zero placeholder. Missing or mistyped fields default to their zero
// value and negative prices are clamped to zero.
func DecodePackages(raw []byte) []Package {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]Package, 0, len(items))
	for _, item := range items {
		out = append(out, decodePackage(item))
	}
	return out
}

func decodePackage(raw json.RawMessage) Package {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Package{Price: decimal.Zero}
	}

	pkg := Package{Price: decimal.Zero}
	if s, ok := fields["name"].(string); ok {
		pkg.Name = s
	}
	if s, ok := fields["description"].(string); ok {
		pkg.Description = s
	}

	switch v := fields["price"].(type) {
	case float64:
		pkg.Price = decimal.NewFromFloat(v)
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			pkg.Price = d
		}
	}
	if pkg.Price.IsNegative() {
		pkg.Price = decimal.Zero
	}
	return pkg
}

// EncodePackages serializes packages for the packages column. Nil or empty
// input is stored as NULL.
func EncodePackages(pkgs []Package) ([]byte, error) {
	if len(pkgs) == 0 {
		return nil, nil
	}

	// Prices are written as decimal strings so they round-trip exactly.
	type wirePackage struct {
		Name        string `json:"name"`
		Price       string `json:"price"`
		Description string `json:"description"`
	}
	wire := make([]wirePackage, 0, len(pkgs))
	for _, p := range pkgs {
		wire = append(wire, wirePackage{Name: p.Name, Price: p.Price.String(), Description: p.Description})
	}
	return json.Marshal(wire)
}

package persona

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Attribute is a financial-profile key produced by the profile service.
type Attribute string

const (
	Income        Attribute = "income"
	Expenses      Attribute = "expenses"
	Savings       Attribute = "savings"
	Goals         Attribute = "goals"
	RiskTolerance Attribute = "risk_tolerance"
	Debt          Attribute = "debt"
)

// Attributes lists the keys the onboarding dialogue collects, in question order.
func Attributes() []Attribute {
	return []Attribute{Income, Expenses, Savings, Goals, RiskTolerance, Debt}
}

// Persona is the structured financial profile derived from a completed dialogue.
// Values keep the server's JSON shape; typed accessors interpret them.
type Persona map[Attribute]any

// Empty reports whether p carries no attributes.
func (p Persona) Empty() bool {
	return len(p) == 0
}

// Clone returns a shallow copy, so callers cannot mutate a held persona.
func (p Persona) Clone() Persona {
	if p == nil {
		return nil
	}
	out := make(Persona, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Known returns the recognised attributes present in p.
func (p Persona) Known() []Attribute {
	var out []Attribute
	for _, attr := range Attributes() {
		if _, ok := p[attr]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// Amount reads a monetary attribute. Numbers and numeric strings such as
// "75000" or "$1,200.50" are accepted.
func (p Persona) Amount(attr Attribute) (decimal.Decimal, bool) {
	raw, ok := p[attr]
	if !ok || raw == nil {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case decimal.Decimal:
		return v, true
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(v)
		d, err := decimal.NewFromString(cleaned)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// Text reads a string attribute such as risk_tolerance.
func (p Persona) Text(attr Attribute) (string, bool) {
	s, ok := p[attr].(string)
	return s, ok && s != ""
}

// List reads a list attribute such as goals. A single string counts as one item.
func (p Persona) List(attr Attribute) []string {
	switch v := p[attr].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// MonthlySurplus is income/12 minus monthly expenses, when both are known.
func (p Persona) MonthlySurplus() (decimal.Decimal, bool) {
	income, ok := p.Amount(Income)
	if !ok {
		return decimal.Zero, false
	}
	expenses, ok := p.Amount(Expenses)
	if !ok {
		return decimal.Zero, false
	}
	return income.Div(decimal.NewFromInt(12)).Sub(expenses).Round(2), true
}

// FromObject converts a decoded JSON object into a Persona. Keys are
// normalised to lower snake case; unknown keys are kept.
func FromObject(obj map[string]any) (Persona, error) {
	if obj == nil {
		return nil, fmt.Errorf("persona object is null")
	}
	p := make(Persona, len(obj))
	for k, v := range obj {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		p[Attribute(key)] = v
	}
	if p.Empty() {
		return nil, fmt.Errorf("persona object has no attributes")
	}
	return p, nil
}

// Package probe extracts fields from loosely shaped upstream records.
//
// Upstream APIs rename fields between versions, so a value is looked up via
// an ordered list of rules and the first acceptable match wins. Rule lists
// are plain data so they can be tested and extended without new branches.
package probe

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Rule names one candidate key and the predicate its value must satisfy.
type Rule struct {
	Key    string
	Accept func(float64) bool
}

// Rules is evaluated in order.
type Rules []Rule

// Positive accepts strictly positive values.
func Positive(v float64) bool { return v > 0 }

// NonNegative accepts zero and positive values.
func NonNegative(v float64) bool { return v >= 0 }

// ValidatorRules resolves the validator slot count of a subnet record.
var ValidatorRules = Rules{
	{Key: "max_n", Accept: Positive},
	{Key: "max_allowed_validators", Accept: Positive},
	{Key: "max_validators", Accept: Positive},
}

// NeuronRules resolves the registered neuron count of a subnet record.
var NeuronRules = Rules{
	{Key: "n", Accept: NonNegative},
	{Key: "active_keys", Accept: NonNegative},
	{Key: "neurons", Accept: NonNegative},
}

// Float returns the first accepted numeric value, or def.
func (rs Rules) Float(rec map[string]any, def float64) float64 {
	if v, ok := rs.Lookup(rec); ok {
		return v
	}
	return def
}

// Int is Float truncated to an int.
func (rs Rules) Int(rec map[string]any, def int) int {
	if v, ok := rs.Lookup(rec); ok {
		return int(v)
	}
	return def
}

// Lookup returns the first value whose key is present, numeric and accepted.
// Keys may use dots to reach into nested objects ("quote.0.price").
func (rs Rules) Lookup(rec map[string]any) (float64, bool) {
	for _, r := range rs {
		raw, ok := Path(rec, r.Key)
		if !ok {
			continue
		}
		v, ok := ToFloat(raw)
		if !ok {
			continue
		}
		if r.Accept == nil || r.Accept(v) {
			return v, true
		}
	}
	return 0, false
}

// FirstString returns the first non-empty string (or number, formatted)
// found under keys, or def.
func FirstString(rec map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		raw, ok := Path(rec, k)
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return def
}

// FirstFloat returns the first numeric value found under keys, or def.
func FirstFloat(rec map[string]any, def float64, keys ...string) float64 {
	rules := make(Rules, len(keys))
	for i, k := range keys {
		rules[i] = Rule{Key: k}
	}
	return rules.Float(rec, def)
}

// Path walks a dotted key through nested maps and slices.
func Path(rec map[string]any, key string) (any, bool) {
	var cur any = rec
	for _, part := range strings.Split(key, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ToFloat converts JSON-decoded numbers and numeric strings.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

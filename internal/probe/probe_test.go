package probe

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return m
}

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name string
		rec  string
		want int
	}{
		{"max_n", `{"max_n": 256, "max_allowed_validators": 64}`, 256},
		{"zero max_n falls through", `{"max_n": 0, "max_allowed_validators": 64}`, 64},
		{"string value", `{"max_allowed_validators": "128"}`, 128},
		{"legacy name", `{"max_validators": 32}`, 32},
		{"nothing usable", `{"max_n": -1, "foo": 3}`, 0},
		{"non numeric", `{"max_n": "lots"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidatorRules.Int(decode(t, tt.rec), 0)
			if got != tt.want {
				t.Errorf("ValidatorRules.Int() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNeuronRulesAcceptsZero(t *testing.T) {
	got := NeuronRules.Int(decode(t, `{"n": 0, "active_keys": 10}`), -1)
	if got != 0 {
		t.Errorf("NeuronRules.Int() = %d, want 0", got)
	}
	got = NeuronRules.Int(decode(t, `{"active_keys": 10}`), -1)
	if got != 10 {
		t.Errorf("NeuronRules.Int() = %d, want 10", got)
	}
}

func TestPath(t *testing.T) {
	rec := decode(t, `{"quote": [{"price": 412.5}], "base_asset": {"symbol": "wTAO"}}`)

	if v := FirstFloat(rec, 0, "price_usd", "quote.0.price"); v != 412.5 {
		t.Errorf("FirstFloat = %v, want 412.5", v)
	}
	if s := FirstString(rec, "?", "base_asset_symbol", "base_asset.symbol"); s != "wTAO" {
		t.Errorf("FirstString = %q, want wTAO", s)
	}
	if _, ok := Path(rec, "quote.3.price"); ok {
		t.Error("Path out of range should miss")
	}
	if _, ok := Path(rec, "base_asset.symbol.x"); ok {
		t.Error("Path through a string should miss")
	}
}

func TestFirstStringFormatsNumbers(t *testing.T) {
	rec := decode(t, `{"id": 123456789, "name": ""}`)
	if s := FirstString(rec, "", "name", "id"); s != "123456789" {
		t.Errorf("FirstString = %q, want 123456789", s)
	}
}

func TestRulesEvaluatedInOrder(t *testing.T) {
	rules := Rules{
		{Key: "b", Accept: func(v float64) bool { return v > 10 }},
		{Key: "a"},
	}
	if v := rules.Float(map[string]any{"a": 1.0, "b": 5.0}, -1); v != 1 {
		t.Errorf("Float = %v, want 1", v)
	}
	if v := rules.Float(map[string]any{"a": 1.0, "b": 50.0}, -1); v != 50 {
		t.Errorf("Float = %v, want 50", v)
	}
	if v := rules.Float(map[string]any{}, -1); v != -1 {
		t.Errorf("Float = %v, want default", v)
	}
}

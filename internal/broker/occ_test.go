package broker

import (
	"testing"
	"time"
)

func TestFormatOptionSymbol(t *testing.T) {
	expiry := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		typ    OptionType
		strike float64
		want   string
	}{
		{"whole dollar put", OptionTypePut, 429, "QQQ240315P00429000"},
		{"whole dollar call", OptionTypeCall, 446, "QQQ240315C00446000"},
		{"fractional strike", OptionTypePut, 432.5, "QQQ240315P00432500"},
		{"small strike pads", OptionTypeCall, 5, "QQQ240315C00005000"},
		{"float residue rounds", OptionTypePut, 428.99999999, "QQQ240315P00429000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatOptionSymbol("QQQ", expiry, tt.typ, tt.strike)
			if got != tt.want {
				t.Errorf("FormatOptionSymbol = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseOptionSymbolRoundTrip(t *testing.T) {
	expiry := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)

	strikes := []float64{1, 99.5, 430, 432.125, 7500}
	for _, strike := range strikes {
		for _, typ := range []OptionType{OptionTypePut, OptionTypeCall} {
			symbol := FormatOptionSymbol("QQQ", expiry, typ, strike)
			parsed, err := ParseOptionSymbol(symbol)
			if err != nil {
				t.Fatalf("ParseOptionSymbol(%q): %v", symbol, err)
			}
			if parsed.Underlying != "QQQ" {
				t.Errorf("underlying = %q, want QQQ", parsed.Underlying)
			}
			if parsed.Type != typ {
				t.Errorf("type = %q, want %q", parsed.Type, typ)
			}
			if parsed.Strike != strike {
				t.Errorf("strike = %v, want %v", parsed.Strike, strike)
			}
			if !parsed.Expiry.Equal(expiry) {
				t.Errorf("expiry = %v, want %v", parsed.Expiry, expiry)
			}
		}
	}
}

func TestParseOptionSymbolRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"QQQ",
		"QQQ240315X00429000",    // not P/C
		"240315P00429000",       // no underlying
		"QQQ240315P0042900Z",    // non-digit strike
		"QQQ249999P00429000",    // impossible expiry
	}
	for _, symbol := range bad {
		if _, err := ParseOptionSymbol(symbol); err == nil {
			t.Errorf("ParseOptionSymbol(%q) succeeded, want error", symbol)
		}
	}
}

func TestUnderlyingFromOption(t *testing.T) {
	if got := UnderlyingFromOption("QQQ240315P00429000"); got != "QQQ" {
		t.Errorf("UnderlyingFromOption = %q, want QQQ", got)
	}
	if got := UnderlyingFromOption("QQQ"); got != "" {
		t.Errorf("UnderlyingFromOption on equity symbol = %q, want empty", got)
	}
}

func TestIsOptionSymbol(t *testing.T) {
	tests := []struct {
		symbol     string
		underlying string
		want       bool
	}{
		{"QQQ240315P00429000", "QQQ", true},
		{"QQQ", "QQQ", false},
		{"AAPL", "QQQ", true}, // known misclassification the heuristic accepts
	}
	for _, tt := range tests {
		if got := IsOptionSymbol(tt.symbol, tt.underlying); got != tt.want {
			t.Errorf("IsOptionSymbol(%q, %q) = %v, want %v", tt.symbol, tt.underlying, got, tt.want)
		}
	}
}

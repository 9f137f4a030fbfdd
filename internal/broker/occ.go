package broker

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// OptionType represents the type of option contract.
type OptionType string

// Option contract types.
const (
	OptionTypePut  OptionType = "P"
	OptionTypeCall OptionType = "C"
)

// occStrikeDigits is the zero-padded width of the strike segment in an
// OCC-style option symbol (strike price scaled by 1000).
const occStrikeDigits = 8

// FormatOptionSymbol builds an OCC-style option symbol:
// UNDERLYING + YYMMDD + P/C + strike*1000 zero-padded to 8 digits.
// E.g. ("QQQ", 2024-03-15, put, 429) -> "QQQ240315P00429000".
func FormatOptionSymbol(underlying string, expiry time.Time, typ OptionType, strike float64) string {
	// Round to the nearest 1/1000 dollar; eps guards against values like
	// 428.9999999 encoding one mill low.
	const eps = 1e-9
	strikeInt := int(math.Round(strike*1000 + eps))
	return fmt.Sprintf("%s%s%s%0*d", underlying, expiry.Format("060102"), typ, occStrikeDigits, strikeInt)
}

// ParsedOption is the decoded form of an OCC-style option symbol.
type ParsedOption struct {
	Underlying string
	Expiry     time.Time
	Type       OptionType
	Strike     float64
}

// ParseOptionSymbol decodes an OCC-style symbol back into its parts.
// It is the inverse of FormatOptionSymbol for symbols this bot produces.
func ParseOptionSymbol(symbol string) (*ParsedOption, error) {
	// UNDERLYING(>=1) + YYMMDD(6) + P/C(1) + strike(8)
	minLen := 1 + 6 + 1 + occStrikeDigits
	if len(symbol) < minLen {
		return nil, fmt.Errorf("option symbol too short: %q", symbol)
	}

	strikeStart := len(symbol) - occStrikeDigits
	strikeStr := symbol[strikeStart:]
	strikeInt, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid strike segment in %q: %w", symbol, err)
	}

	typeChar := symbol[strikeStart-1]
	var typ OptionType
	switch typeChar {
	case 'P', 'p':
		typ = OptionTypePut
	case 'C', 'c':
		typ = OptionTypeCall
	default:
		return nil, fmt.Errorf("no option type flag in %q", symbol)
	}

	expStart := strikeStart - 1 - 6
	if expStart < 1 {
		return nil, fmt.Errorf("no underlying in %q", symbol)
	}
	expiry, err := time.Parse("060102", symbol[expStart:strikeStart-1])
	if err != nil {
		return nil, fmt.Errorf("invalid expiry segment in %q: %w", symbol, err)
	}

	return &ParsedOption{
		Underlying: symbol[:expStart],
		Expiry:     expiry,
		Type:       typ,
		Strike:     float64(strikeInt) / 1000.0,
	}, nil
}

// UnderlyingFromOption extracts the underlying ticker from an OCC-style
// symbol, or returns "" if the symbol does not decode.
func UnderlyingFromOption(symbol string) string {
	parsed, err := ParseOptionSymbol(symbol)
	if err != nil {
		return ""
	}
	return parsed.Underlying
}

// IsOptionSymbol classifies a position symbol as an option by comparing
// its length against the plain underlying ticker. This is the documented
// convention, not a validated schema: it misclassifies any underlying
// whose ticker is longer than the configured one, and any non-option
// instrument with a long symbol. Kept as-is pending product
// clarification; do not strengthen silently.
func IsOptionSymbol(symbol, underlying string) bool {
	return len(symbol) > len(underlying)
}

package convo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParsePrice converts a user-entered price string to minor currency units.
// Accepts plain integers ("20" → 2000) and decimals with up to two fraction
// digits using either separator ("19.99", "19,99" → 1999). Rejects zero,
// negatives and malformed input.
func ParsePrice(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("empty price")
	}
	text = strings.ReplaceAll(text, ",", ".")

	whole, frac, hasFrac := strings.Cut(text, ".")
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", text)
	}
	if units < 0 {
		return 0, fmt.Errorf("price must be positive")
	}

	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 || strings.ContainsAny(frac, ".") {
			return 0, fmt.Errorf("invalid price %q", text)
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, fmt.Errorf("invalid price %q", text)
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("price too large")
	}
	minor := units*100 + cents
	if minor <= 0 {
		return 0, fmt.Errorf("price must be positive")
	}
	return minor, nil
}

// FormatPrice renders minor units back to a decimal string, reproducing the
// original input to the cent ("1999" → "19.99").
func FormatPrice(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// FormatAmount renders a price with its currency code for display.
func FormatAmount(minor int64, currency string) string {
	return strings.ToUpper(currency) + " " + FormatPrice(minor)
}

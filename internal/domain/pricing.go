package domain

import (
	"errors"
	"fmt"
)

// BookFormat is the delivery medium for a book. Each format carries a fixed
// price; the catalog below is the single source of truth for both.
type BookFormat string

const (
	// FormatPDF is a digital-only copy.
	FormatPDF BookFormat = "pdf"
	// FormatPrint is a standard printed copy.
	FormatPrint BookFormat = "print"
	// FormatPremiumPrint is a hardcover printed copy.
	FormatPremiumPrint BookFormat = "premium_print"
)

// DefaultCurrency is the currency every catalog price is denominated in.
const DefaultCurrency = "EUR"

// ErrInvalidFormat is returned when a format is not part of the catalog.
var ErrInvalidFormat = errors.New("pricing: invalid format")

// Prices in minor units (euro cents).
var formatPrices = map[BookFormat]int64{
	FormatPDF:          999,
	FormatPrint:        2499,
	FormatPremiumPrint: 3499,
}

// Formats returns the valid format set in stable order, for error messages
// and input validation.
func Formats() []BookFormat {
	return []BookFormat{FormatPDF, FormatPrint, FormatPremiumPrint}
}

// PriceFor resolves the fixed price for a format in minor units.
func PriceFor(format BookFormat) (int64, error) {
	price, ok := formatPrices[format]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, string(format))
	}
	return price, nil
}

// Physical reports whether the format requires a shipping address at checkout.
func (f BookFormat) Physical() bool {
	return f == FormatPrint || f == FormatPremiumPrint
}

// FormatAmount renders a minor-unit amount as a decimal string ("9.99") for
// API payloads.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Package textutil holds small string-cleaning helpers shared by the payment
// layer.
package textutil

import "strings"

// NormalizeStringMap returns a copy of values with surrounding whitespace
// stripped from keys and values. Entries whose key trims to the empty string
// are dropped; a map that ends up empty comes back as nil so callers can test
// len() without caring which case they hit. Checkout metadata goes through
// this before it is handed to Stripe.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		normalized[key] = strings.TrimSpace(value)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

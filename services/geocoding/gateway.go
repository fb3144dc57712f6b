// Package geocoding adapts a forward/reverse geocoding provider. Debouncing
// is the caller's job; this package only enforces the minimum query length
// and the provider's request rate.
package geocoding

import (
	"context"
	"strings"
	"unicode/utf8"

	"homehelp/models"
)

// MinQueryLength is the shortest forward query worth sending to the provider.
const MinQueryLength = 3

// Geocoder converts between coordinates and human-readable addresses.
type Geocoder interface {
	// ReverseGeocode returns the address at lat/lng or an AddressUnavailable error.
	ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error)
	// ForwardGeocode returns suggestions for query; short queries yield an empty list.
	ForwardGeocode(ctx context.Context, query string) ([]models.GeocodeHit, error)
}

// QueryTooShort reports whether query is below MinQueryLength once trimmed.
func QueryTooShort(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) < MinQueryLength
}

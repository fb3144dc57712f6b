// File: utils/constants.go
package utils

import "time"

// GeocodeCachePrefix is the prefix used for Redis geocode cache keys.
const GeocodeCachePrefix = "geo:"

// DefaultGeocodeCacheTTL is used when GEOCODE_CACHE_TTL is unset or invalid.
const DefaultGeocodeCacheTTL = 24 * time.Hour

// SessionTeardownTimeout bounds the work done when a discovery session closes.
const SessionTeardownTimeout = 5 * time.Second

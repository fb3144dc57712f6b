package models

import (
	"errors"
	"time"
)

// SavedLocation is a named location a customer can recall later ("Home").
// Name is unique per customer, compared case-insensitively.
type SavedLocation struct {
	ID        string           `bson:"id" json:"id"`
	Name      string           `bson:"name" json:"name"`
	Location  ResolvedLocation `bson:"location" json:"location"`
	UpdatedAt time.Time        `bson:"updatedAt" json:"updatedAt,omitzero"`
}

// CustomerPreferenceRecord is the remote per-customer settings document. The
// saved locations array is always written whole.
type CustomerPreferenceRecord struct {
	CustomerID     string          `bson:"customerId" json:"customerId"`
	SavedLocations []SavedLocation `bson:"savedLocations" json:"savedLocations"`
	Version        int64           `bson:"version" json:"version,omitempty"`
}

// Preference backend sentinels.
var (
	// ErrPreferencesNotFound means the customer has never saved preferences.
	ErrPreferencesNotFound = errors.New("preferences not found")
	// ErrPreferenceVersionConflict means the record changed since it was read.
	ErrPreferenceVersionConflict = errors.New("preference record version conflict")
)

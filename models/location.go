package models

import (
	"encoding/json"
	"strings"
)

// AcquisitionMethod tags how a ResolvedLocation was obtained.
type AcquisitionMethod string

const (
	MethodAuto   AcquisitionMethod = "auto"
	MethodManual AcquisitionMethod = "manual"
)

// Valid reports whether m is one of the known acquisition methods.
func (m AcquisitionMethod) Valid() bool {
	return m == MethodAuto || m == MethodManual
}

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `bson:"lat" json:"lat"`
	Longitude float64 `bson:"lng" json:"lng"`
}

// IsZero reports the 0/0 sentinel used for "no location resolved".
func (c Coordinates) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// InRange reports whether both components are valid WGS84 values.
func (c Coordinates) InRange() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// ResolvedLocation is the current best-known service address. It is a value:
// a new resolution replaces it wholesale.
type ResolvedLocation struct {
	FormattedAddress   string            `bson:"formattedAddress" json:"formattedAddress"`
	Latitude           float64           `bson:"latitude" json:"latitude"`
	Longitude          float64           `bson:"longitude" json:"longitude"`
	AcquisitionMethod  AcquisitionMethod `bson:"acquisitionMethod" json:"acquisitionMethod"`
	RawProviderPayload json.RawMessage   `bson:"rawProviderPayload,omitempty" json:"rawProviderPayload,omitempty"`
}

// Coordinates returns the location's coordinate pair.
func (l ResolvedLocation) Coordinates() Coordinates {
	return Coordinates{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Complete reports whether every required field is populated.
func (l ResolvedLocation) Complete() bool {
	c := l.Coordinates()
	return strings.TrimSpace(l.FormattedAddress) != "" &&
		!c.IsZero() &&
		c.InRange() &&
		l.AcquisitionMethod.Valid()
}

// GeocodeHit is one forward-geocoding suggestion.
type GeocodeHit struct {
	DisplayName string  `json:"displayName"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// Address is a reverse-geocoding result.
type Address struct {
	DisplayName string
	Raw         json.RawMessage
}

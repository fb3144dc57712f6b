package models

import "time"

// DiscoveryStatus is the coarse phase the presentation layer renders.
type DiscoveryStatus string

const (
	StatusIdle      DiscoveryStatus = "idle"
	StatusResolving DiscoveryStatus = "resolving"
	StatusSearching DiscoveryStatus = "searching"
	StatusSuccess   DiscoveryStatus = "success"
	StatusEmpty     DiscoveryStatus = "empty"
	StatusError     DiscoveryStatus = "error"
)

// DiscoveryState is the single value the presentation layer observes.
type DiscoveryState struct {
	Status      DiscoveryStatus     `json:"status"`
	Candidates  []ProviderCandidate `json:"candidates"`
	Error       *ErrorKind          `json:"error,omitempty"`
	NetworkKind NetworkKind         `json:"networkKind,omitempty"`
	Location    *ResolvedLocation   `json:"location,omitempty"`
	Query       *BookingQuery       `json:"query,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

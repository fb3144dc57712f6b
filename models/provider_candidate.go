package models

// AvailabilityException is a day inside the requested range on which the
// provider cannot work at the preferred time.
type AvailabilityException struct {
	Date          string  `json:"date"`
	Reason        string  `json:"reason"`
	SuggestedTime *string `json:"suggestedTime,omitempty"`
}

// MonthlyAvailability summarises a provider's schedule for the requested range.
type MonthlyAvailability struct {
	FullyAvailable bool                    `json:"fullyAvailable"`
	PreferredTime  string                  `json:"preferredTime"`
	Exceptions     []AvailabilityException `json:"exceptions"`
}

// ProviderCandidate is a read-only projection of one search hit. Ranking is
// owned by the server; BestMatch is passed through untouched.
type ProviderCandidate struct {
	ProviderID          string              `json:"providerId"`
	Name                string              `json:"name"`
	Role                Role                `json:"role"`
	Rating              float64             `json:"rating"`
	ExperienceYears     float64             `json:"experienceYears"`
	DistanceKm          float64             `json:"distanceKm"`
	MonthlyAvailability MonthlyAvailability `json:"monthlyAvailability"`
	BestMatch           bool                `json:"bestMatch"`
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the kind of household service provider being booked.
type Role string

const (
	RoleCook  Role = "COOK"
	RoleMaid  Role = "MAID"
	RoleNanny Role = "NANNY"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ParseRole accepts any casing of a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCook, RoleMaid, RoleNanny:
		return true
	}
	return false
}

// BookingQuery holds the parameters of one availability search. It is built
// fresh per search and never persisted.
type BookingQuery struct {
	Role               Role        `json:"role"`
	StartDate          string      `json:"startDate"`
	EndDate            string      `json:"endDate"`
	PreferredStartTime string      `json:"preferredStartTime,omitempty"`
	DurationMinutes    int         `json:"durationMinutes,omitempty"`
	Location           Coordinates `json:"location"`
	RadiusKm           float64     `json:"radiusKm,omitempty"`
}

// Complete reports whether the query has a role and a valid date range. The
// location is supplied separately by the resolver.
func (q BookingQuery) Complete() bool {
	return q.Validate() == nil
}

// Validate explains why a query is not complete.
func (q BookingQuery) Validate() error {
	if !q.Role.Valid() {
		return fmt.Errorf("role must be one of COOK, MAID, NANNY")
	}
	start, err := time.Parse(DateLayout, q.StartDate)
	if err != nil {
		return fmt.Errorf("invalid startDate %q", q.StartDate)
	}
	end, err := time.Parse(DateLayout, q.EndDate)
	if err != nil {
		return fmt.Errorf("invalid endDate %q", q.EndDate)
	}
	if end.Before(start) {
		return fmt.Errorf("endDate %s is before startDate %s", q.EndDate, q.StartDate)
	}
	if q.PreferredStartTime != "" {
		if _, err := time.Parse(TimeLayout, q.PreferredStartTime); err != nil {
			return fmt.Errorf("invalid preferredStartTime %q", q.PreferredStartTime)
		}
	}
	if q.DurationMinutes < 0 {
		return fmt.Errorf("durationMinutes must not be negative")
	}
	return nil
}

// WithLocation returns a copy anchored at c.
func (q BookingQuery) WithLocation(c Coordinates) BookingQuery {
	q.Location = c
	return q
}

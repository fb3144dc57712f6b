package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvedLocation_Complete(t *testing.T) {
	full := ResolvedLocation{
		FormattedAddress:  "12 Kilimani Rd, Nairobi",
		Latitude:          -1.29,
		Longitude:         36.78,
		AcquisitionMethod: MethodManual,
	}
	assert.True(t, full.Complete())

	noAddr := full
	noAddr.FormattedAddress = "  "
	assert.False(t, noAddr.Complete())

	zero := full
	zero.Latitude, zero.Longitude = 0, 0
	assert.False(t, zero.Complete())

	badMethod := full
	badMethod.AcquisitionMethod = "gps"
	assert.False(t, badMethod.Complete())

	outOfRange := full
	outOfRange.Latitude = 91
	assert.False(t, outOfRange.Complete())
}

func TestBookingQuery_Validate(t *testing.T) {
	q := BookingQuery{Role: RoleMaid, StartDate: "2026-11-01", EndDate: "2026-11-30", PreferredStartTime: "08:30"}
	assert.True(t, q.Complete())

	cases := map[string]BookingQuery{
		"missing role":  {StartDate: "2026-11-01", EndDate: "2026-11-30"},
		"bad start":     {Role: RoleCook, StartDate: "01/11/2026", EndDate: "2026-11-30"},
		"reversed":      {Role: RoleCook, StartDate: "2026-11-30", EndDate: "2026-11-01"},
		"bad time":      {Role: RoleNanny, StartDate: "2026-11-01", EndDate: "2026-11-02", PreferredStartTime: "8am"},
		"negative mins": {Role: RoleNanny, StartDate: "2026-11-01", EndDate: "2026-11-02", DurationMinutes: -5},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, q.Complete())
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" nanny ")
	assert.NoError(t, err)
	assert.Equal(t, RoleNanny, r)

	_, err = ParseRole("gardener")
	assert.Error(t, err)
}

func TestDiscoveryError_IsAndKindOf(t *testing.T) {
	err := fmt.Errorf("search: %w", NewSearchFailed(503, "upstream down", nil))

	assert.True(t, errors.Is(err, ErrSearchFailed))
	assert.False(t, errors.Is(err, ErrMissingCoordinates))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ErrKindSearchFailed, kind)
	assert.Equal(t, NetworkKindServer, NetworkKindOf(err))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestNetworkKindForStatus(t *testing.T) {
	assert.Equal(t, NetworkKindNetwork, NetworkKindForStatus(0))
	assert.Equal(t, NetworkKindClient, NetworkKindForStatus(404))
	assert.Equal(t, NetworkKindServer, NetworkKindForStatus(502))
}

func TestPrincipal_Authenticated(t *testing.T) {
	assert.False(t, Principal{}.Authenticated())
	assert.False(t, Principal{CustomerID: "c1"}.Authenticated())
	assert.True(t, Principal{CustomerID: "c1", Token: "t"}.Authenticated())
}

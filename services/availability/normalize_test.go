package availability

import (
	"testing"

	"homehelp/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoProviders = `[
	{"providerId":"p1","name":"Achieng","role":"cook","rating":4.8,"experienceYears":6,"distanceKm":1.2,
	 "monthlyAvailability":{"fullyAvailable":true,"preferredTime":"08:00","exceptions":[]},"bestMatch":true},
	{"providerId":"p2","name":"Wanjiru","role":"COOK","rating":4.1,"experienceYears":2,"distanceKm":3.4,
	 "monthlyAvailability":{"fullyAvailable":false,"preferredTime":"08:00",
	  "exceptions":[{"date":"2026-11-03","reason":"booked","suggestedTime":"10:00"},{"date":"2026-11-04","reason":"leave"}]},
	 "bestMatch":false}
]`

func TestNormalize_EnvelopeAndArrayAreIdentical(t *testing.T) {
	fromArray := Normalize([]byte(twoProviders))
	fromEnvelope := Normalize([]byte(`{"providers":` + twoProviders + `}`))

	require.Len(t, fromArray, 2)
	assert.Equal(t, fromArray, fromEnvelope)

	assert.Equal(t, models.RoleCook, fromArray[0].Role)
	assert.True(t, fromArray[0].BestMatch)
	require.Len(t, fromArray[1].MonthlyAvailability.Exceptions, 2)
	require.NotNil(t, fromArray[1].MonthlyAvailability.Exceptions[0].SuggestedTime)
	assert.Equal(t, "10:00", *fromArray[1].MonthlyAvailability.Exceptions[0].SuggestedTime)
	assert.Nil(t, fromArray[1].MonthlyAvailability.Exceptions[1].SuggestedTime)
}

func TestNormalize_PreservesServerOrder(t *testing.T) {
	got := Normalize([]byte(`[{"providerId":"z","distanceKm":9},{"providerId":"a","distanceKm":1}]`))
	require.Len(t, got, 2)
	assert.Equal(t, "z", got[0].ProviderID)
	assert.Equal(t, "a", got[1].ProviderID)
}

func TestNormalize_UnknownShapesAreEmpty(t *testing.T) {
	bodies := []string{
		``,
		`null`,
		`"providers"`,
		`{"data":[{"providerId":"p1"}]}`,
		`{"providers":null}`,
		`{"providers":{"p1":{}}}`,
		`{not json`,
	}
	for _, body := range bodies {
		got := Normalize([]byte(body))
		assert.NotNil(t, got, body)
		assert.Empty(t, got, body)
	}
}

func TestNormalize_SkipsUndecodableEntries(t *testing.T) {
	got := Normalize([]byte(`[{"providerId":"p1"}, 42, {"providerId":"p2","rating":"high"}]`))
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ProviderID)
}

func TestClassify(t *testing.T) {
	shape, _ := Classify([]byte(" [] "))
	assert.Equal(t, ShapeBareArray, shape)
	shape, _ = Classify([]byte(`{"providers":[]}`))
	assert.Equal(t, ShapeEnvelope, shape)
	shape, _ = Classify([]byte(`{}`))
	assert.Equal(t, ShapeUnknown, shape)
	assert.Equal(t, "unknown", shape.String())
}

package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGeoPoint_DistanceMiles(t *testing.T) {
	chicago := GeoPoint{Latitude: 41.8781, Longitude: -87.6298}
	milwaukee := GeoPoint{Latitude: 43.0389, Longitude: -87.9065}

	d := chicago.DistanceMiles(milwaukee)
	assert.InDelta(t, 81.5, d, 1.5)
	assert.InDelta(t, 0, chicago.DistanceMiles(chicago), 1e-9)
	assert.InDelta(t, d, milwaukee.DistanceMiles(chicago), 1e-9)
}

func TestPatient_AgeAndDemographics(t *testing.T) {
	dob := time.Date(1926, 6, 1, 0, 0, 0, 0, time.UTC)
	p := &Patient{DateOfBirth: &dob, Address: "1 Main St", Phone: "555-0100"}

	assert.Equal(t, 99, p.AgeAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 100, p.AgeAt(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.HasCompleteDemographics())

	p.Phone = " "
	assert.False(t, p.HasCompleteDemographics())
	assert.Equal(t, -1, (&Patient{}).AgeAt(time.Now()))
}

func TestProvider_Normalization(t *testing.T) {
	a := &Provider{Address: "100  Main St,   Suite 4", Phone: "+1 (312) 555-0100"}
	b := &Provider{Address: "100 main st, suite 4", Phone: "312.555.0100"}

	assert.Equal(t, a.NormalizedAddress(), b.NormalizedAddress())
	assert.Equal(t, "3125550100", a.NormalizedPhone())
	assert.Equal(t, a.NormalizedPhone(), b.NormalizedPhone())
}

package provider

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderType drives volume capacity limits.
type ProviderType string

const (
	TypePhysician  ProviderType = "PHYSICIAN"
	TypeHospital   ProviderType = "HOSPITAL"
	TypeClinic     ProviderType = "CLINIC"
	TypeLaboratory ProviderType = "LABORATORY"
	TypeTherapist  ProviderType = "THERAPIST"
	TypeDME        ProviderType = "DME"
)

// Valid reports whether t is one of the known provider types.
func (t ProviderType) Valid() bool {
	switch t {
	case TypePhysician, TypeHospital, TypeClinic, TypeLaboratory, TypeTherapist, TypeDME:
		return true
	}
	return false
}

// Provider is the billing entity read from the provider directory.
type Provider struct {
	ID        uuid.UUID    `json:"id"`
	TenantID  uuid.UUID    `json:"tenant_id"`
	NPI       string       `json:"npi"`
	Name      string       `json:"name"`
	Type      ProviderType `json:"type"`
	Specialty string       `json:"specialty"`
	Address   string       `json:"address"`
	Phone     string       `json:"phone"`
	Location  *GeoPoint    `json:"location,omitempty"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
}

// NormalizedAddress collapses case and whitespace so that two spellings of
// the same street address compare equal.
func (p *Provider) NormalizedAddress() string {
	return normalizeAddress(p.Address)
}

// NormalizedPhone keeps digits only.
func (p *Provider) NormalizedPhone() string {
	return normalizePhone(p.Phone)
}

// Patient is the demographic record read from the member directory.
type Patient struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Location    *GeoPoint  `json:"location,omitempty"`
}

// HasCompleteDemographics requires DOB, address and phone.
func (p *Patient) HasCompleteDemographics() bool {
	return p.DateOfBirth != nil && strings.TrimSpace(p.Address) != "" && strings.TrimSpace(p.Phone) != ""
}

// AgeAt returns the age in whole years, or -1 without a birth date.
func (p *Patient) AgeAt(at time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	age := at.Year() - dob.Year()
	if at.YearDay() < dob.YearDay() {
		age--
	}
	return age
}

// NormalizedPhone keeps digits only.
func (p *Patient) NormalizedPhone() string {
	return normalizePhone(p.Phone)
}

// NormalizedAddress collapses case and whitespace.
func (p *Patient) NormalizedAddress() string {
	return normalizeAddress(p.Address)
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

const earthRadiusMiles = 3958.8

// DistanceMiles returns the great-circle distance using the haversine formula.
func (g GeoPoint) DistanceMiles(other GeoPoint) float64 {
	lat1 := g.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - g.Latitude) * math.Pi / 180
	dLon := (other.Longitude - g.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

func normalizeAddress(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	// drop a leading US country code
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

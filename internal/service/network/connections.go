package network

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

// Connection strength contributions
const (
	strengthSharedAddress   = 30.0
	strengthSharedPhone     = 25.0
	strengthPerPatient      = 5.0
	strengthPatientsCap     = 40.0
	strengthPerReferral     = 5.0
	strengthReferralCap     = 35.0
	strengthCoordinated     = 30.0
	suspiciousConnectionAdd = 20.0
)

type patientDay struct {
	patient uuid.UUID
	day     time.Time
}

type visit struct {
	provider uuid.UUID
	day      time.Time
}

// providerIndex is the per-provider view the pairwise scan reads.
type providerIndex struct {
	provider    *provider.Provider
	address     string
	phone       string
	patients    map[uuid.UUID]struct{}
	patientDays map[patientDay]struct{}
}

func buildIndex(providers []*provider.Provider, claims []*claim.Claim) map[uuid.UUID]*providerIndex {
	idx := make(map[uuid.UUID]*providerIndex, len(providers))
	for _, p := range providers {
		idx[p.ID] = &providerIndex{
			provider:    p,
			address:     p.NormalizedAddress(),
			phone:       p.NormalizedPhone(),
			patients:    map[uuid.UUID]struct{}{},
			patientDays: map[patientDay]struct{}{},
		}
	}
	for _, c := range claims {
		pi, ok := idx[c.ProviderID]
		if !ok {
			continue
		}
		pi.patients[c.PatientID] = struct{}{}
		pi.patientDays[patientDay{patient: c.PatientID, day: claim.TruncateDay(c.ServiceDate)}] = struct{}{}
	}
	return idx
}

// inferReferrals counts directed referral events: a patient seen by A and
// then by B within the window. Each A visit counts at most once per B.
func inferReferrals(claims []*claim.Claim, known map[uuid.UUID]*providerIndex, window time.Duration) map[Referral]int {
	byPatient := make(map[uuid.UUID][]visit)
	for _, c := range claims {
		if _, ok := known[c.ProviderID]; !ok {
			continue
		}
		byPatient[c.PatientID] = append(byPatient[c.PatientID], visit{provider: c.ProviderID, day: claim.TruncateDay(c.ServiceDate)})
	}

	out := make(map[Referral]int)
	for _, visits := range byPatient {
		sort.Slice(visits, func(i, j int) bool { return visits[i].day.Before(visits[j].day) })
		for i, from := range visits {
			seen := make(map[uuid.UUID]struct{})
			for _, to := range visits[i+1:] {
				gap := to.day.Sub(from.day)
				if gap > window {
					break
				}
				if gap <= 0 || to.provider == from.provider {
					continue
				}
				if _, dup := seen[to.provider]; dup {
					continue
				}
				seen[to.provider] = struct{}{}
				out[Referral{From: from.provider, To: to.provider}]++
			}
		}
	}
	return out
}

// connect scores the relationship between two providers. It returns false
// when nothing links them.
func (a *Analyzer) connect(x, y *providerIndex, referrals map[Referral]int) (Connection, bool) {
	conn := Connection{ProviderA: x.provider.ID, ProviderB: y.provider.ID}
	var strength float64

	sharedAddress := x.address != "" && x.address == y.address
	sharedPhone := x.phone != "" && x.phone == y.phone
	if sharedAddress {
		strength += strengthSharedAddress
		conn.Types = append(conn.Types, RelationshipSharedAddress)
		conn.Indicators = append(conn.Indicators, IndicatorSharedAddress)
	}
	if sharedPhone {
		strength += strengthSharedPhone
		conn.Types = append(conn.Types, RelationshipSharedPhone)
		conn.Indicators = append(conn.Indicators, IndicatorSharedPhone)
	}
	if sharedAddress && sharedPhone {
		conn.Types = append(conn.Types, RelationshipSharedFacility)
	}

	small, large := x.patients, y.patients
	if len(small) > len(large) {
		small, large = large, small
	}
	for id := range small {
		if _, ok := large[id]; ok {
			conn.SharedPatients++
		}
	}
	if conn.SharedPatients > 0 {
		strength += math.Min(strengthPatientsCap, strengthPerPatient*float64(conn.SharedPatients))
		conn.Types = append(conn.Types, RelationshipSharedPatients)
		if conn.SharedPatients >= a.cfg.HighPatientOverlap {
			conn.Indicators = append(conn.Indicators, IndicatorHighPatientOverlap)
		}
	}

	forward := referrals[Referral{From: x.provider.ID, To: y.provider.ID}]
	backward := referrals[Referral{From: y.provider.ID, To: x.provider.ID}]
	conn.ReferralEvents = forward + backward
	if conn.ReferralEvents > a.cfg.ReferralEventThreshold {
		strength += math.Min(strengthReferralCap, strengthPerReferral*float64(conn.ReferralEvents))
		conn.Types = append(conn.Types, RelationshipExcessiveReferrals)
		conn.Indicators = append(conn.Indicators, IndicatorExcessiveReferrals)
	}
	if forward >= a.cfg.ReferralLoopMinimum && backward >= a.cfg.ReferralLoopMinimum {
		conn.Types = append(conn.Types, RelationshipReferralLoop)
		conn.Indicators = append(conn.Indicators, IndicatorReferralLoop)
	}

	fewer, more := x.patientDays, y.patientDays
	if len(fewer) > len(more) {
		fewer, more = more, fewer
	}
	for pd := range fewer {
		if _, ok := more[pd]; ok {
			conn.CoordinatedDates++
		}
	}
	if conn.CoordinatedDates >= a.cfg.CoordinatedBillingDays {
		strength += strengthCoordinated
		conn.Types = append(conn.Types, RelationshipPatternMatching)
		conn.Indicators = append(conn.Indicators, IndicatorCoordinatedBilling)
	}

	if strength == 0 && len(conn.Types) == 0 {
		return Connection{}, false
	}

	conn.Strength = math.Min(100, strength)
	conn.IsSuspicious = conn.Strength > a.cfg.SuspiciousStrength || intersectsSuspicious(conn.Types)
	conn.RiskScore = conn.Strength
	if conn.IsSuspicious {
		conn.RiskScore = math.Min(100, conn.Strength+suspiciousConnectionAdd)
	}
	return conn, true
}

func intersectsSuspicious(types []RelationshipType) bool {
	for _, t := range types {
		for _, s := range SuspiciousRelationships {
			if t == s {
				return true
			}
		}
	}
	return false
}

package network

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
)

// Archetype is a known fraud-ring shape.
type Archetype struct {
	Name         string
	MinProviders int
	Indicators   []string
	Confidence   float64
	Description  string
}

// Archetypes are matched against every cluster; a match needs the minimum
// provider count and at least two of the named indicators.
var Archetypes = []Archetype{
	{
		Name:         "REFERRAL_MILL",
		MinProviders: 3,
		Indicators:   []string{IndicatorExcessiveReferrals, IndicatorReferralLoop, IndicatorHighPatientOverlap},
		Confidence:   85,
		Description:  "Providers cycling patients through each other to generate referrals",
	},
	{
		Name:         "SHARED_FACILITY_SCHEME",
		MinProviders: 2,
		Indicators:   []string{IndicatorSharedAddress, IndicatorSharedPhone, IndicatorCoordinatedBilling},
		Confidence:   80,
		Description:  "Nominally separate providers operating from one facility",
	},
	{
		Name:         "KICKBACK_RING",
		MinProviders: 3,
		Indicators:   []string{IndicatorExcessiveReferrals, IndicatorCoordinatedBilling, IndicatorHighFlagRate},
		Confidence:   75,
		Description:  "Referral volume consistent with paid patient steering",
	},
	{
		Name:         "IDENTITY_THEFT_RING",
		MinProviders: 2,
		Indicators:   []string{IndicatorHighPatientOverlap, IndicatorCoordinatedBilling, IndicatorHighFlagRate},
		Confidence:   70,
		Description:  "Shared patient identities billed by several providers on the same days",
	},
}

const minArchetypeIndicators = 2

// cluster groups nodes into connected components over edges stronger than
// the configured threshold. Singletons are discarded.
func (a *Analyzer) cluster(nodes map[uuid.UUID]*ProviderNode, connections []Connection) []Cluster {
	adjacency := make(map[uuid.UUID][]uuid.UUID)
	for _, c := range connections {
		if c.Strength <= a.cfg.ClusterEdgeStrength {
			continue
		}
		adjacency[c.ProviderA] = append(adjacency[c.ProviderA], c.ProviderB)
		adjacency[c.ProviderB] = append(adjacency[c.ProviderB], c.ProviderA)
	}

	starts := make([]uuid.UUID, 0, len(adjacency))
	for id := range adjacency {
		starts = append(starts, id)
	}
	sortIDs(starts)

	visited := make(map[uuid.UUID]bool, len(adjacency))
	var clusters []Cluster
	for _, start := range starts {
		if visited[start] {
			continue
		}

		var members []uuid.UUID
		queue := []uuid.UUID{start}
		visited[start] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			members = append(members, id)
			for _, next := range adjacency[id] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}

		if len(members) < 2 {
			continue
		}
		clusters = append(clusters, a.buildCluster(members, nodes, connections))
	}

	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].RiskScore > clusters[j].RiskScore })
	return clusters
}

func (a *Analyzer) buildCluster(members []uuid.UUID, nodes map[uuid.UUID]*ProviderNode, connections []Connection) Cluster {
	sortIDs(members)
	inCluster := make(map[uuid.UUID]bool, len(members))
	for _, id := range members {
		inCluster[id] = true
	}

	c := Cluster{
		ID:          clusterID(members),
		TotalBilled: values.Zero(values.USD),
	}

	indicators := make(map[string]struct{})
	var nodeRiskSum float64
	for _, id := range members {
		n := nodes[id]
		c.Providers = append(c.Providers, *n)
		c.TotalClaims += n.TotalClaims
		c.FlaggedClaims += n.FlaggedClaims
		if sum, err := c.TotalBilled.Add(n.TotalBilled); err == nil {
			c.TotalBilled = sum
		}
		nodeRiskSum += n.RiskScore
		if n.RiskScore > a.cfg.HighFlagRate {
			indicators[IndicatorHighFlagRate] = struct{}{}
		}
	}

	var suspicious int
	for _, conn := range connections {
		if !inCluster[conn.ProviderA] || !inCluster[conn.ProviderB] {
			continue
		}
		c.Connections = append(c.Connections, conn)
		if conn.IsSuspicious {
			suspicious++
		}
		for _, ind := range conn.Indicators {
			indicators[ind] = struct{}{}
		}
	}
	for ind := range indicators {
		c.Indicators = append(c.Indicators, ind)
	}
	sort.Strings(c.Indicators)

	avgRisk := nodeRiskSum / float64(len(members))
	if len(c.Connections) > 0 {
		c.SuspiciousRate = float64(suspicious) / float64(len(c.Connections))
	}
	var flaggedRatio float64
	if c.TotalClaims > 0 {
		flaggedRatio = float64(c.FlaggedClaims) / float64(c.TotalClaims)
	}
	c.RiskScore = math.Round(math.Max(avgRisk, math.Max(c.SuspiciousRate*100, flaggedRatio*100))*100) / 100
	return c
}

// matchArchetypes records matched archetype names on the cluster and
// returns one ring per match.
func matchArchetypes(c *Cluster) []FraudRing {
	present := make(map[string]bool, len(c.Indicators))
	for _, ind := range c.Indicators {
		present[ind] = true
	}

	var rings []FraudRing
	for _, arch := range Archetypes {
		if len(c.Providers) < arch.MinProviders {
			continue
		}
		var matched []string
		for _, ind := range arch.Indicators {
			if present[ind] {
				matched = append(matched, ind)
			}
		}
		if len(matched) < minArchetypeIndicators {
			continue
		}

		c.FraudPatterns = append(c.FraudPatterns, arch.Name)
		rings = append(rings, FraudRing{
			ID:          uuid.NewSHA1(c.ID, []byte(arch.Name)),
			Archetype:   arch.Name,
			ClusterID:   c.ID,
			Providers:   c.ProviderIDs(),
			Confidence:  arch.Confidence,
			Indicators:  matched,
			TotalBilled: c.TotalBilled,
			Description: fmt.Sprintf("%s across %d providers", arch.Description, len(c.Providers)),
		})
	}
	return rings
}

// clusterID is stable for the same member set across runs.
func clusterID(members []uuid.UUID) uuid.UUID {
	parts := make([]string, len(members))
	for i, id := range members {
		parts[i] = id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, ",")))
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

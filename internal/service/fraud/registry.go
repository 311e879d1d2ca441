package fraud

import (
	"fmt"
	"sync"
)

// Pattern is a data-described detection rule evaluated over an analysis
// context of type C.
type Pattern[C any] struct {
	ID             string
	Description    string
	Weight         float64
	Recommendation string
	AuditTrigger   string
	// Match reports whether the pattern fires and returns its evidence.
	Match func(c *C) (bool, map[string]interface{})
}

// Registry holds the patterns for one detector. New patterns are added by
// registration; detector control flow does not change.
type Registry[C any] struct {
	mu       sync.RWMutex
	patterns []Pattern[C]
	index    map[string]int
}

// NewRegistry registers patterns in order and panics on duplicate ids, which
// only happens with a broken built-in table.
func NewRegistry[C any](patterns ...Pattern[C]) *Registry[C] {
	r := &Registry[C]{index: make(map[string]int, len(patterns))}
	for _, p := range patterns {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a pattern.
func (r *Registry[C]) Register(p Pattern[C]) error {
	if p.ID == "" || p.Match == nil {
		return fmt.Errorf("pattern requires an id and a matcher")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[p.ID]; exists {
		return fmt.Errorf("pattern %s already registered", p.ID)
	}
	r.index[p.ID] = len(r.patterns)
	r.patterns = append(r.patterns, p)
	return nil
}

// Reweight overrides weights for known ids.
func (r *Registry[C]) Reweight(weights map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range weights {
		if i, ok := r.index[id]; ok {
			r.patterns[i].Weight = w
		}
	}
}

// IDs returns the registered pattern ids in registration order.
func (r *Registry[C]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		ids[i] = p.ID
	}
	return ids
}

// Evaluation is the outcome of running every pattern against a context.
type Evaluation struct {
	Matches         []MatchedPattern
	Recommendations []string
	AuditTriggers   []string
}

// Confidence is the mean weight of the matched patterns, 0 when none matched.
func (e Evaluation) Confidence() float64 {
	if len(e.Matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range e.Matches {
		sum += m.Weight
	}
	return sum / float64(len(e.Matches))
}

// Evaluate runs each pattern independently.
func (r *Registry[C]) Evaluate(c *C) Evaluation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eval := Evaluation{Matches: []MatchedPattern{}}
	for _, p := range r.patterns {
		ok, evidence := p.Match(c)
		if !ok {
			continue
		}
		eval.Matches = append(eval.Matches, MatchedPattern{
			ID:          p.ID,
			Description: p.Description,
			Weight:      p.Weight,
			Evidence:    evidence,
		})
		if p.Recommendation != "" {
			eval.Recommendations = append(eval.Recommendations, p.Recommendation)
		}
		if p.AuditTrigger != "" {
			eval.AuditTriggers = appendUnique(eval.AuditTriggers, p.AuditTrigger)
		}
	}
	return eval
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

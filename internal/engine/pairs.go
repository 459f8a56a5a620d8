package engine

import (
	"context"
	"log"
	"strings"

	"signal-enginev1/internal/model"
)

// PairSet resolves the pairs scanned each cycle: the configured pairs in
// their configured order, followed by any subscribed pair not configured,
// in the order the subscription store returns them (sorted).
type PairSet struct {
	configured []string
	tracked    model.PairSource
}

// NewPairSet creates a PairSet. tracked may be nil.
func NewPairSet(configured []string, tracked model.PairSource) *PairSet {
	seen := make(map[string]bool, len(configured))
	out := make([]string, 0, len(configured))
	for _, p := range configured {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return &PairSet{configured: out, tracked: tracked}
}

// Pairs returns the current pair list. A subscription store failure falls
// back to the configured pairs.
func (s *PairSet) Pairs(ctx context.Context) []string {
	out := make([]string, len(s.configured), len(s.configured)+8)
	copy(out, s.configured)
	if s.tracked == nil {
		return out
	}

	tracked, err := s.tracked.TrackedPairs(ctx)
	if err != nil {
		log.Printf("[engine] tracked pairs: %v", err)
		return out
	}

	seen := make(map[string]bool, len(out)+len(tracked))
	for _, p := range out {
		seen[p] = true
	}
	for _, p := range tracked {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CombinationPair is one clinically observed (condition, drug) pairing.
type CombinationPair struct {
	Condition string `json:"condition"`
	DrugName  string `json:"drug_name"`
}

// CombinationSet is the set of (condition, drug) pairs observed in the
// training data. Not every drug treats every condition, so the set acts as
// an acceptance filter beyond per-field enum checks. It is derived once
// during pipeline preprocessing, persisted next to the model, and
// read-only at inference time.
type CombinationSet struct {
	pairs map[CombinationPair]struct{}
}

// NewCombinationSet returns an empty combination set.
func NewCombinationSet() *CombinationSet {
	return &CombinationSet{pairs: make(map[CombinationPair]struct{})}
}

// Add records a (condition, drug) pair as observed.
func (s *CombinationSet) Add(condition, drug string) {
	s.pairs[CombinationPair{Condition: condition, DrugName: drug}] = struct{}{}
}

// Contains reports whether the pair has training precedent.
func (s *CombinationSet) Contains(condition, drug string) bool {
	_, ok := s.pairs[CombinationPair{Condition: condition, DrugName: drug}]
	return ok
}

// Len returns the number of distinct pairs.
func (s *CombinationSet) Len() int {
	return len(s.pairs)
}

// Pairs returns all pairs in deterministic order.
func (s *CombinationSet) Pairs() []CombinationPair {
	out := make([]CombinationPair, 0, len(s.pairs))
	for p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Condition != out[j].Condition {
			return out[i].Condition < out[j].Condition
		}
		return out[i].DrugName < out[j].DrugName
	})
	return out
}

// DeriveCombinations builds the combination set from validated records.
func DeriveCombinations(records []Record) *CombinationSet {
	s := NewCombinationSet()
	for i := range records {
		s.Add(records[i].Condition, records[i].DrugName)
	}
	return s
}

// MarshalJSON encodes the set as a sorted pair list so that the persisted
// artifact is byte-stable across runs.
func (s *CombinationSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Pairs())
}

// UnmarshalJSON decodes a pair list produced by MarshalJSON.
func (s *CombinationSet) UnmarshalJSON(data []byte) error {
	var pairs []CombinationPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("failed to decode combination set: %w", err)
	}
	s.pairs = make(map[CombinationPair]struct{}, len(pairs))
	for _, p := range pairs {
		s.pairs[p] = struct{}{}
	}
	return nil
}

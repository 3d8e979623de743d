package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/treatment-outcome-server/internal/domain"
)

// CachedPrediction is one memoized prediction result.
type CachedPrediction struct {
	Score        float64
	ModelVersion string
}

// PredictionCache memoizes scores for identical validated records. The
// model is deterministic over immutable weights, so a repeated record under
// the same model version always yields the same score. Keys include the
// model version, which makes the cache self-invalidating across hot swaps.
type PredictionCache struct {
	cache  *lru.Cache[string, CachedPrediction]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewPredictionCache creates an LRU prediction cache holding up to size
// entries.
func NewPredictionCache(size int) (*PredictionCache, error) {
	cache, err := lru.New[string, CachedPrediction](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction cache: %w", err)
	}
	return &PredictionCache{cache: cache}, nil
}

// Key derives the cache key for a validated record under a model version.
func (pc *PredictionCache) Key(rec *domain.Record, modelVersion string) string {
	// Record is a fixed-field struct; its JSON encoding is deterministic.
	data, _ := json.Marshal(rec)
	sum := sha256.Sum256(append([]byte(modelVersion+"::"), data...))
	return hex.EncodeToString(sum[:])
}

// Get returns a memoized prediction if present.
func (pc *PredictionCache) Get(key string) (CachedPrediction, bool) {
	v, ok := pc.cache.Get(key)
	if ok {
		pc.hits.Add(1)
	} else {
		pc.misses.Add(1)
	}
	return v, ok
}

// Put stores a prediction result.
func (pc *PredictionCache) Put(key string, p CachedPrediction) {
	pc.cache.Add(key, p)
}

// Stats returns hit and miss counts.
func (pc *PredictionCache) Stats() (hits, misses int64) {
	return pc.hits.Load(), pc.misses.Load()
}

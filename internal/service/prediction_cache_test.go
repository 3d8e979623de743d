package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-outcome-server/internal/domain"
)

func TestPredictionCache(t *testing.T) {
	pc, err := NewPredictionCache(4)
	require.NoError(t, err)

	rec := &domain.Record{PatientID: "P1", Age: 45, Condition: "Asthma", DrugName: "Albuterol"}
	key := pc.Key(rec, "v-1")

	_, ok := pc.Get(key)
	assert.False(t, ok)

	pc.Put(key, CachedPrediction{Score: 7.25, ModelVersion: "v-1"})
	got, ok := pc.Get(key)
	require.True(t, ok)
	assert.Equal(t, 7.25, got.Score)
	assert.Equal(t, "v-1", got.ModelVersion)

	hits, misses := pc.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestPredictionCache_KeyIncludesModelVersion(t *testing.T) {
	pc, err := NewPredictionCache(4)
	require.NoError(t, err)

	rec := &domain.Record{PatientID: "P1", Age: 45}
	assert.NotEqual(t, pc.Key(rec, "v-1"), pc.Key(rec, "v-2"))

	other := &domain.Record{PatientID: "P1", Age: 46}
	assert.NotEqual(t, pc.Key(rec, "v-1"), pc.Key(other, "v-1"))
	assert.Equal(t, pc.Key(rec, "v-1"), pc.Key(rec, "v-1"))
}

func TestPredictionCache_InvalidSize(t *testing.T) {
	_, err := NewPredictionCache(0)
	assert.Error(t, err)
}

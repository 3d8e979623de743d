// Package rforest implements a seeded random-forest regressor: bagged CART
// trees with variance-reduction splits. Training is fully deterministic for
// a given seed, and fitted forests marshal to JSON for artifact storage.
package rforest

import (
	"fmt"
	"math/rand"
)

// Params are the training hyperparameters. Zero values are replaced by
// DefaultParams.
type Params struct {
	NumTrees        int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Seed            int64 `json:"random_seed"`
}

// DefaultParams returns the training defaults.
func DefaultParams() Params {
	return Params{
		NumTrees:        100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Forest is a fitted random-forest regressor. Immutable after Fit; safe
// for concurrent Predict calls.
type Forest struct {
	Params      Params    `json:"params"`
	NFeatures   int       `json:"n_features"`
	Trees       []*Tree   `json:"trees"`
	Importances []float64 `json:"feature_importances"`
}

// Fit trains a forest on x (rows of equal width) and y. Training is
// deterministic for a given Params.Seed: tree i draws its bootstrap sample
// from an rng seeded with Seed+i, so fitting twice on the same data yields
// identical forests regardless of timing or parallelism elsewhere.
func Fit(x [][]float64, y []float64, params Params) (*Forest, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("empty training set")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("feature/label length mismatch: %d != %d", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return nil, fmt.Errorf("zero-width feature vectors")
	}
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has width %d, expected %d", i, len(row), width)
		}
	}

	if params.NumTrees <= 0 {
		params.NumTrees = DefaultParams().NumTrees
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = DefaultParams().MaxDepth
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}

	f := &Forest{
		Params:      params,
		NFeatures:   width,
		Trees:       make([]*Tree, 0, params.NumTrees),
		Importances: make([]float64, width),
	}

	for t := 0; t < params.NumTrees; t++ {
		rng := rand.New(rand.NewSource(params.Seed + int64(t)))

		// Bootstrap sample with replacement, same size as the input.
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}

		b := &treeBuilder{
			x:          x,
			y:          y,
			params:     params,
			importance: make([]float64, width),
		}
		b.grow(idx, 0)

		f.Trees = append(f.Trees, &Tree{Nodes: b.nodes})
		for i, imp := range b.importance {
			f.Importances[i] += imp
		}
	}

	// Normalize importances to sum to 1 when any split occurred.
	var total float64
	for _, imp := range f.Importances {
		total += imp
	}
	if total > 0 {
		for i := range f.Importances {
			f.Importances[i] /= total
		}
	}

	return f, nil
}

// Predict returns the mean prediction of all trees. The output is the raw
// ensemble value; any range clamping belongs to the caller.
func (f *Forest) Predict(features []float64) (float64, error) {
	if len(features) != f.NFeatures {
		return 0, fmt.Errorf("feature width mismatch: got %d, model expects %d",
			len(features), f.NFeatures)
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("forest has no trees")
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(features)
	}
	return sum / float64(len(f.Trees)), nil
}

// NumFeatures returns the feature width the forest was fit with.
func (f *Forest) NumFeatures() int {
	return f.NFeatures
}

// FeatureImportances returns normalized impurity-decrease importances,
// one per feature column.
func (f *Forest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

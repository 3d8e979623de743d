package rforest

import (
	"sort"
)

// Node is one node of a regression tree, stored in a flat slice so trees
// serialize to JSON without pointer cycles. Leaf nodes carry the mean
// target value of their training samples; internal nodes split on
// Feature <= Threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a CART regression tree.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for one feature vector.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

type treeBuilder struct {
	x          [][]float64
	y          []float64
	params     Params
	nodes      []Node
	importance []float64
}

// grow builds a subtree over the sample indices idx and returns its node
// index within the flat slice.
func (b *treeBuilder) grow(idx []int, depth int) int {
	mean, variance := meanVariance(b.y, idx)

	if depth >= b.params.MaxDepth ||
		len(idx) < b.params.MinSamplesSplit ||
		variance == 0 {
		return b.appendLeaf(mean)
	}

	feature, threshold, gain, left, right := b.bestSplit(idx, variance)
	if gain <= 0 || len(left) < b.params.MinSamplesLeaf || len(right) < b.params.MinSamplesLeaf {
		return b.appendLeaf(mean)
	}

	b.importance[feature] += gain * float64(len(idx))

	// Reserve the internal node before recursing so child indices land
	// after it.
	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: feature, Threshold: threshold})
	leftIdx := b.grow(left, depth+1)
	rightIdx := b.grow(right, depth+1)
	b.nodes[nodeIdx].Left = leftIdx
	b.nodes[nodeIdx].Right = rightIdx
	return nodeIdx
}

func (b *treeBuilder) appendLeaf(value float64) int {
	b.nodes = append(b.nodes, Node{Leaf: true, Value: value})
	return len(b.nodes) - 1
}

// bestSplit finds the (feature, threshold) pair with the largest variance
// reduction over the candidate samples. Thresholds are midpoints between
// consecutive distinct sorted feature values, so the search is exhaustive
// and independent of sample order.
func (b *treeBuilder) bestSplit(idx []int, parentVar float64) (feature int, threshold, gain float64, left, right []int) {
	n := float64(len(idx))
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	order := make([]int, len(idx))
	for f := 0; f < len(b.x[0]); f++ {
		copy(order, idx)
		sort.Slice(order, func(i, j int) bool { return b.x[order[i]][f] < b.x[order[j]][f] })

		// Running sums for O(n) variance of both partitions per cut.
		var sumL, sumSqL float64
		sumR, sumSqR := 0.0, 0.0
		for _, i := range order {
			sumR += b.y[i]
			sumSqR += b.y[i] * b.y[i]
		}

		for k := 0; k < len(order)-1; k++ {
			yi := b.y[order[k]]
			sumL += yi
			sumSqL += yi * yi
			sumR -= yi
			sumSqR -= yi * yi

			vCur, vNext := b.x[order[k]][f], b.x[order[k+1]][f]
			if vCur == vNext {
				continue
			}

			nL := float64(k + 1)
			nR := n - nL
			varL := sumSqL/nL - (sumL/nL)*(sumL/nL)
			varR := sumSqR/nR - (sumR/nR)*(sumR/nR)
			g := parentVar - (nL/n)*varL - (nR/n)*varR
			if g > bestGain {
				bestGain = g
				bestFeature = f
				bestThreshold = (vCur + vNext) / 2
			}
		}
	}

	if bestFeature < 0 {
		return -1, 0, 0, nil, nil
	}
	for _, i := range idx {
		if b.x[i][bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return bestFeature, bestThreshold, bestGain, left, right
}

func meanVariance(y []float64, idx []int) (mean, variance float64) {
	n := float64(len(idx))
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, i := range idx {
		sum += y[i]
		sumSq += y[i] * y[i]
	}
	mean = sum / n
	variance = sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

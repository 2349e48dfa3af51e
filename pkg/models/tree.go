package models

import (
	"cmp"
	"math"
	"slices"

	"github.com/HatiCode/vmpredict/pkg/features"
)

const leafFeature = -1

// Node is one node of a flattened regression tree. Leaves have Feature == -1.
// Internal nodes send x to Left when x[Feature] <= Threshold and to Right
// otherwise; Value on an internal node is the (bounded) mean of its samples.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree stored as a node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for x.
func (t Tree) Predict(x [features.NumFeatures]float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature == leafFeature {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeBuilder grows one tree over a fixed sample matrix.
//
// With monotone set, every split must satisfy mean(left) <= mean(right) and
// the midpoint of the two becomes an upper bound for the left subtree and a
// lower bound for the right subtree. Leaf values are clamped to their bounds,
// so the resulting function is non-decreasing in every feature.
type treeBuilder struct {
	x          [][features.NumFeatures]float64
	y          []float64
	maxDepth   int
	minLeaf    int
	monotone   bool
	nodes      []Node
	importance [features.NumFeatures]float64
}

type split struct {
	feature    int
	threshold  float64
	pos        int // number of samples going left in the sorted order
	gain       float64
	leftValue  float64
	rightValue float64
}

func (b *treeBuilder) grow(idx []int) Tree {
	b.nodes = b.nodes[:0]
	b.importance = [features.NumFeatures]float64{}
	b.build(idx, 0, math.Inf(-1), math.Inf(1))
	return Tree{Nodes: slices.Clone(b.nodes)}
}

func (b *treeBuilder) build(idx []int, depth int, lo, hi float64) int {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	value := clamp(sum/float64(len(idx)), lo, hi)

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leafFeature, Value: value})

	if len(idx) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return id
	}

	s, ok := b.bestSplit(idx, sum, lo, hi)
	if !ok {
		return id
	}
	b.importance[s.feature] += s.gain

	sortByFeature(idx, b.x, s.feature)
	left, right := idx[:s.pos], idx[s.pos:]

	leftHi, rightLo := hi, lo
	if b.monotone {
		mid := (s.leftValue + s.rightValue) / 2
		leftHi, rightLo = mid, mid
	}

	l := b.build(left, depth+1, lo, leftHi)
	r := b.build(right, depth+1, rightLo, hi)

	b.nodes[id] = Node{Feature: s.feature, Threshold: s.threshold, Left: l, Right: r, Value: value}
	return id
}

// bestSplit finds the split maximizing the reduction in squared error.
// idx is reordered as a side effect.
func (b *treeBuilder) bestSplit(idx []int, total float64, lo, hi float64) (split, bool) {
	n := len(idx)
	parent := total * total / float64(n)

	best := split{gain: 1e-9}
	found := false
	for f := 0; f < features.NumFeatures; f++ {
		sortByFeature(idx, b.x, f)

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += b.y[idx[k-1]]
			if k < b.minLeaf || n-k < b.minLeaf {
				continue
			}
			a, c := b.x[idx[k-1]][f], b.x[idx[k]][f]
			if a == c {
				continue
			}

			rightSum := total - leftSum
			nl, nr := float64(k), float64(n-k)
			gain := leftSum*leftSum/nl + rightSum*rightSum/nr - parent
			if gain <= best.gain {
				continue
			}

			lv, rv := clamp(leftSum/nl, lo, hi), clamp(rightSum/nr, lo, hi)
			if b.monotone && lv > rv {
				continue
			}
			threshold := a + (c-a)/2
			if threshold >= c {
				threshold = a
			}
			best = split{
				feature:    f,
				threshold:  threshold,
				pos:        k,
				gain:       gain,
				leftValue:  lv,
				rightValue: rv,
			}
			found = true
		}
	}
	return best, found
}

func sortByFeature(idx []int, x [][features.NumFeatures]float64, f int) {
	slices.SortStableFunc(idx, func(a, b int) int {
		if c := cmp.Compare(x[a][f], x[b][f]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

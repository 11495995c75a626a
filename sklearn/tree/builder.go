package tree

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// builder grows a tree depth-first over a private copy of the sampled rows.
type builder struct {
	dt *DecisionTreeRegressor

	cols [][]float64 // cols[feature][local row]
	y    []float64

	nodes    []Node
	decrease []float64
	maxDepth int

	rng      *rand.Rand
	features []int
	order    []int
}

func newBuilder(dt *DecisionTreeRegressor, X, y mat.Matrix, sample []int) *builder {
	_, nFeatures := X.Dims()
	m := len(sample)

	b := &builder{
		dt:       dt,
		cols:     make([][]float64, nFeatures),
		y:        make([]float64, m),
		decrease: make([]float64, nFeatures),
		rng:      rand.New(rand.NewPCG(dt.RandomState, dt.RandomState)),
		features: make([]int, nFeatures),
		order:    make([]int, m),
	}
	for j := range b.cols {
		b.cols[j] = make([]float64, m)
		b.features[j] = j
	}
	for k, row := range sample {
		for j := 0; j < nFeatures; j++ {
			b.cols[j][k] = X.At(row, j)
		}
		b.y[k] = y.At(row, 0)
	}
	return b
}

func (b *builder) build() {
	idx := make([]int, len(b.y))
	for i := range idx {
		idx[i] = i
	}
	b.grow(idx, 0)
}

type split struct {
	feature   int
	threshold float64
	nLeft     int
}

func (b *builder) grow(idx []int, depth int) int {
	n := len(idx)
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	mean := sum / float64(n)
	var ss float64
	for _, i := range idx {
		d := b.y[i] - mean
		ss += d * d
	}
	impurity := ss / float64(n)

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: mean, NSamples: n, Impurity: impurity})
	if depth > b.maxDepth {
		b.maxDepth = depth
	}

	dt := b.dt
	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) ||
		n < dt.MinSamplesSplit ||
		n < 2*dt.MinSamplesLeaf ||
		impurity == 0 {
		return id
	}

	s, ok := b.bestSplit(idx, sum)
	if !ok {
		return id
	}

	// partition idx in place around the threshold
	col := b.cols[s.feature]
	lo := 0
	for k := range idx {
		if col[idx[k]] <= s.threshold {
			idx[lo], idx[k] = idx[k], idx[lo]
			lo++
		}
	}

	left := b.grow(idx[:lo], depth+1)
	right := b.grow(idx[lo:], depth+1)

	l, r := b.nodes[left], b.nodes[right]
	b.decrease[s.feature] += float64(n)*impurity -
		float64(l.NSamples)*l.Impurity - float64(r.NSamples)*r.Impurity

	node := &b.nodes[id]
	node.Feature = s.feature
	node.Threshold = s.threshold
	node.Left = left
	node.Right = right
	return id
}

// bestSplit maximises sumL²/nL + sumR²/nR, which is equivalent to
// minimising the weighted child variance.
func (b *builder) bestSplit(idx []int, sum float64) (split, bool) {
	n := len(idx)
	minLeaf := b.dt.MinSamplesLeaf

	candidates := b.features
	if k := b.dt.MaxFeatures; k > 0 && k < len(b.features) {
		for i := 0; i < k; i++ {
			j := i + b.rng.IntN(len(b.features)-i)
			b.features[i], b.features[j] = b.features[j], b.features[i]
		}
		candidates = b.features[:k]
	}

	parent := sum * sum / float64(n)
	best := parent
	tol := 1e-12 * max(1, parent)
	var out split
	found := false

	order := b.order[:n]
	for _, f := range candidates {
		col := b.cols[f]
		copy(order, idx)
		slices.SortFunc(order, func(a, c int) int { return cmp.Compare(col[a], col[c]) })

		var leftSum float64
		for i := 1; i < n; i++ {
			leftSum += b.y[order[i-1]]
			if i < minLeaf || n-i < minLeaf {
				continue
			}
			lo, hi := col[order[i-1]], col[order[i]]
			if lo == hi {
				continue
			}
			rightSum := sum - leftSum
			proxy := leftSum*leftSum/float64(i) + rightSum*rightSum/float64(n-i)
			if proxy > best+tol {
				best = proxy
				threshold := lo/2 + hi/2
				if threshold >= hi {
					threshold = lo
				}
				out = split{feature: f, threshold: threshold, nLeft: i}
				found = true
			}
		}
	}
	return out, found
}

func (b *builder) importances() []float64 {
	out := make([]float64, len(b.decrease))
	var total float64
	for _, d := range b.decrease {
		total += d
	}
	if total <= 0 {
		return out
	}
	for j, d := range b.decrease {
		out[j] = d / total
	}
	return out
}

package tree

import (
	"container/heap"
	"math"
	"math/rand/v2"
)

// Node is one node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Impurity  float64
	Samples   int
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool {
	return n.Feature < 0
}

type growItem struct {
	node  int
	inx   []int
	depth int
	split candidate
	ok    bool
}

// builder grows a tree over column-major data.
type builder struct {
	cols     [][]float64
	y        []float64
	cfg      Config
	maxDepth int
	minLeaf  int
	minSplit int
	sp       *splitter
	nodes    []Node
}

func newBuilder(cols [][]float64, y []float64, cfg Config, maxDepth int, rng *rand.Rand) *builder {
	n := len(y)
	minLeaf := cfg.MinSamplesLeaf
	if byWeight := int(math.Ceil(cfg.MinWeightFractionLeaf * float64(n))); byWeight > minLeaf {
		minLeaf = byWeight
	}
	minSplit := max(cfg.MinSamplesSplit, 2*minLeaf)

	return &builder{
		cols:     cols,
		y:        y,
		cfg:      cfg,
		maxDepth: maxDepth,
		minLeaf:  minLeaf,
		minSplit: minSplit,
		sp:       newSplitter(cols, y, cfg, minLeaf, rng),
	}
}

// open appends a node for inx and evaluates its best split.
func (b *builder) open(inx []int, depth int) *growItem {
	sum, sumSq := b.sp.sums(inx)
	n := float64(len(inx))
	mean := sum / n
	impurity := math.Max(sumSq/n-mean*mean, 0)

	b.nodes = append(b.nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Value:    mean,
		Impurity: impurity,
		Samples:  len(inx),
	})
	item := &growItem{node: len(b.nodes) - 1, inx: inx, depth: depth}

	if len(inx) < b.minSplit || (b.maxDepth > 0 && depth >= b.maxDepth) || impurity <= impurityEps*sumSq/n {
		return item
	}
	item.split, item.ok = b.sp.find(inx, sum)
	return item
}

// apply turns the node of item into an internal node and opens its children.
func (b *builder) apply(item *growItem) (left, right *growItem) {
	f, t := item.split.feature, item.split.threshold
	nLeft := partition(b.cols[f], item.inx, t)

	left = b.open(item.inx[:nLeft], item.depth+1)
	right = b.open(item.inx[nLeft:], item.depth+1)

	nd := &b.nodes[item.node]
	nd.Feature = f
	nd.Threshold = t
	nd.Left = left.node
	nd.Right = right.node
	return left, right
}

// build grows depth-first, or best-first when MaxLeafNodes is set.
func (b *builder) build() []Node {
	inx := make([]int, len(b.y))
	for i := range inx {
		inx[i] = i
	}
	root := b.open(inx, 0)

	if b.cfg.MaxLeafNodes > 0 {
		b.buildBestFirst(root)
	} else {
		b.buildDepthFirst(root)
	}
	return b.nodes
}

func (b *builder) buildDepthFirst(root *growItem) {
	stack := []*growItem{root}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !item.ok {
			continue
		}
		left, right := b.apply(item)
		stack = append(stack, right, left)
	}
}

func (b *builder) buildBestFirst(root *growItem) {
	frontier := &growHeap{}
	heap.Push(frontier, root)
	leaves := 1

	for frontier.Len() > 0 && leaves < b.cfg.MaxLeafNodes {
		item := heap.Pop(frontier).(*growItem)
		if !item.ok {
			continue
		}
		left, right := b.apply(item)
		leaves++
		heap.Push(frontier, left)
		heap.Push(frontier, right)
	}
}

// growHeap orders by improvement, then by node index for a stable order.
type growHeap []*growItem

func (h growHeap) Len() int { return len(h) }
func (h growHeap) Less(i, j int) bool {
	if h[i].ok != h[j].ok {
		return h[i].ok
	}
	if h[i].split.improvement != h[j].split.improvement {
		return h[i].split.improvement > h[j].split.improvement
	}
	return h[i].node < h[j].node
}
func (h growHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *growHeap) Push(x any)   { *h = append(*h, x.(*growItem)) }
func (h *growHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}

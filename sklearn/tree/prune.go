package tree

import "math"

// prune applies minimal cost-complexity pruning: while the weakest link has
// effective alpha <= ccpAlpha it is collapsed into a leaf. The result is
// compacted so that only reachable nodes remain.
func prune(nodes []Node, ccpAlpha float64) []Node {
	if ccpAlpha <= 0 || len(nodes) <= 1 {
		return nodes
	}
	total := float64(nodes[0].Samples)

	// node cost as a leaf: R(t) = impurity × N_t / N
	cost := func(i int) float64 {
		return nodes[i].Impurity * float64(nodes[i].Samples) / total
	}

	subtreeCost := make([]float64, len(nodes))
	subtreeLeaves := make([]int, len(nodes))

	for {
		// children always come after their parent, so a reverse scan is bottom-up
		for i := len(nodes) - 1; i >= 0; i-- {
			nd := nodes[i]
			if nd.IsLeaf() {
				subtreeCost[i] = cost(i)
				subtreeLeaves[i] = 1
				continue
			}
			subtreeCost[i] = subtreeCost[nd.Left] + subtreeCost[nd.Right]
			subtreeLeaves[i] = subtreeLeaves[nd.Left] + subtreeLeaves[nd.Right]
		}

		weakest, weakestAlpha := -1, math.Inf(1)
		for _, i := range reachable(nodes) {
			if nodes[i].IsLeaf() {
				continue
			}
			alpha := (cost(i) - subtreeCost[i]) / float64(subtreeLeaves[i]-1)
			if alpha < weakestAlpha {
				weakest, weakestAlpha = i, alpha
			}
		}
		if weakest < 0 || weakestAlpha > ccpAlpha {
			break
		}
		nodes[weakest].Feature = -1
		nodes[weakest].Left = -1
		nodes[weakest].Right = -1
	}
	return compact(nodes)
}

// reachable lists node indices reachable from the root in preorder.
func reachable(nodes []Node) []int {
	var out []int
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, i)
		if !nodes[i].IsLeaf() {
			stack = append(stack, nodes[i].Right, nodes[i].Left)
		}
	}
	return out
}

func compact(nodes []Node) []Node {
	order := reachable(nodes)
	remap := make(map[int]int, len(order))
	for newIdx, oldIdx := range order {
		remap[oldIdx] = newIdx
	}

	out := make([]Node, len(order))
	for newIdx, oldIdx := range order {
		nd := nodes[oldIdx]
		if !nd.IsLeaf() {
			nd.Left = remap[nd.Left]
			nd.Right = remap[nd.Right]
		}
		out[newIdx] = nd
	}
	return out
}

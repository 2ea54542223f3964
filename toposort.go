package labcore

import (
	"fmt"
	"slices"
)

// Toposort produces an order over all nodes of deps such that every
// node appears after all nodes it depends on. deps maps a node to the
// nodes it depends on; nodes appearing only as dependencies are
// included in the output. The order is deterministic: ready nodes are
// considered in lexicographic name order.
//
// cost, when non-nil, assigns a per-node cost and biases the order so
// that independent branches with the highest total downstream cost
// come first. The total branch cost of a node is the sum of cost over
// every node that transitively depends on it, itself included.
// Starting the most expensive branch earliest minimizes wall-clock
// time when branches can proceed in parallel.
//
// A cyclic graph yields ErrDependencyCycle and no partial order.
func Toposort(deps map[string][]string, cost map[string]float64) ([]string, error) {
	// Normalize: every node referenced as a dependency gets an entry.
	work := make(map[string][]string, len(deps))
	for k, v := range deps {
		work[k] = slices.Clone(v)
		for _, d := range v {
			if _, ok := work[d]; !ok {
				work[d] = nil
			}
		}
	}
	nodes := make([]string, 0, len(work))
	for n := range work {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)

	// With cost given, run an unweighted pass to establish a traversal,
	// then accumulate each node's downstream set in reverse order and
	// sum costs over it.
	var totalCost map[string]float64
	if cost != nil {
		order, err := Toposort(deps, nil)
		if err != nil {
			return nil, err
		}
		downstream := make(map[string]map[string]struct{}, len(order))
		for _, n := range order {
			downstream[n] = map[string]struct{}{n: {}}
		}
		for i := len(order) - 1; i >= 0; i-- {
			n := order[i]
			for _, dep := range work[n] {
				for m := range downstream[n] {
					downstream[dep][m] = struct{}{}
				}
			}
		}
		totalCost = make(map[string]float64, len(downstream))
		for n, set := range downstream {
			var sum float64
			for m := range set {
				sum += cost[m]
			}
			totalCost[n] = sum
		}
	}

	order := make([]string, 0, len(work))
	for len(work) > 0 {
		var ready []string
		for _, n := range nodes {
			if lst, ok := work[n]; ok && len(lst) == 0 {
				ready = append(ready, n)
			}
		}
		// No ready node while nodes remain means a cycle.
		if len(ready) == 0 {
			return nil, fmt.Errorf("%w (%d unresolved nodes)", ErrDependencyCycle, len(work))
		}

		pick := ready[0]
		if totalCost != nil {
			for _, n := range ready[1:] {
				if totalCost[n] > totalCost[pick] {
					pick = n
				}
			}
		}

		order = append(order, pick)
		delete(work, pick)
		for n, lst := range work {
			work[n] = slices.DeleteFunc(lst, func(s string) bool { return s == pick })
		}
	}
	return order, nil
}

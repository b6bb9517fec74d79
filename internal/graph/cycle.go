package graph

// cycleChecker answers whether adding a directed dependency would close a
// cycle, given the edges already committed plus the edges accepted so far
// in the current batch.
type cycleChecker struct {
	adj map[string]map[string]bool
}

func newCycleChecker(existing []KeyPair) *cycleChecker {
	c := &cycleChecker{adj: make(map[string]map[string]bool)}
	for _, p := range existing {
		c.add(p.From, p.To)
	}
	return c
}

func (c *cycleChecker) add(from, to string) {
	next := c.adj[from]
	if next == nil {
		next = make(map[string]bool)
		c.adj[from] = next
	}
	next[to] = true
}

// wouldCycle reports whether from -> to closes a cycle, i.e. whether from
// is already reachable from to. A self-dependency is always a cycle.
func (c *cycleChecker) wouldCycle(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{to}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == from {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for next := range c.adj[cur] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

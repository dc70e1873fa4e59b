package deadcode

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DeadCycles finds groups of dead symbols that only keep each other alive:
// strongly connected components of the dead subgraph with more than one
// member, plus dead symbols that reference themselves. Members are ordered by
// FQN and groups by their first member.
func DeadCycles(g *Graph, res *Result) [][]*Symbol {
	dead := res.DeadIndices()
	if len(dead) == 0 {
		return nil
	}
	isDead := make(map[uint32]bool, len(dead))
	dg := simple.NewDirectedGraph()
	for _, idx := range dead {
		isDead[idx] = true
		dg.AddNode(simple.Node(int64(idx)))
	}

	selfLoop := make(map[uint32]bool)
	for _, ref := range g.refs {
		if ref.Confidence == EdgeUnresolved || !isDead[ref.Source] {
			continue
		}
		for _, t := range ref.Targets {
			if !isDead[t] {
				continue
			}
			if t == ref.Source {
				selfLoop[t] = true
				continue
			}
			from, to := int64(ref.Source), int64(t)
			if !dg.HasEdgeFromTo(from, to) {
				dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
			}
		}
	}

	var cycles [][]*Symbol
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) == 1 && !selfLoop[uint32(scc[0].ID())] {
			continue
		}
		members := make([]*Symbol, len(scc))
		for i, node := range scc {
			members[i] = g.symbols[node.ID()]
		}
		sort.Slice(members, func(i, j int) bool {
			return before(g, members[i].Index, members[j].Index)
		})
		cycles = append(cycles, members)
	}
	sort.Slice(cycles, func(i, j int) bool {
		return before(g, cycles[i][0].Index, cycles[j][0].Index)
	})
	return cycles
}

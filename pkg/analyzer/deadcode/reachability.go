package deadcode

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

// HierarchicalBitSet provides bitmap-based reachability tracking using Roaring bitmaps
// over dense symbol indices.
type HierarchicalBitSet struct {
	bitmap     *roaring.Bitmap
	totalNodes uint32
}

// NewHierarchicalBitSet creates a new hierarchical bitset with the given capacity.
func NewHierarchicalBitSet(capacity uint32) *HierarchicalBitSet {
	return &HierarchicalBitSet{
		bitmap:     roaring.New(),
		totalNodes: capacity,
	}
}

// Set marks a node as reachable.
func (h *HierarchicalBitSet) Set(index uint32) {
	h.bitmap.Add(index)
}

// IsSet checks if a node is reachable.
func (h *HierarchicalBitSet) IsSet(index uint32) bool {
	return h.bitmap.Contains(index)
}

// CountSet returns the number of reachable nodes.
func (h *HierarchicalBitSet) CountSet() uint64 {
	return h.bitmap.GetCardinality()
}

// SetBatch marks multiple nodes as reachable efficiently.
func (h *HierarchicalBitSet) SetBatch(indices []uint32) {
	h.bitmap.AddMany(indices)
}

// Unset returns the indices below capacity that are not set.
func (h *HierarchicalBitSet) Unset() []uint32 {
	all := roaring.New()
	all.AddRange(0, uint64(h.totalNodes))
	all.AndNot(h.bitmap)
	return all.ToArray()
}

// Entry is the verdict for one symbol.
type Entry struct {
	Symbol *Symbol
	Status Status
	// Path is the shortest justifying path, root first; empty when dead.
	Path       []SymbolID
	RootReason RootReason
	// Unresolved counts unresolved references emitted by the symbol.
	Unresolved int
	Confidence float64
	Level      ConfidenceLevel
}

// Result is the immutable outcome of a reachability run.
type Result struct {
	graph     *Graph
	entries   []Entry
	live      *HierarchicalBitSet
	reachable *HierarchicalBitSet
}

// Analyze computes the live/dead partition of g from roots.
//
// Phase one walks resolved references only and marks what it reaches live.
// Phase two also walks ambiguous references; anything it adds is
// live-via-ambiguous. Both phases are level-synchronous breadth-first
// searches, so every justifying path is a shortest one, and among parents at
// the same depth the one with the smallest FQN wins.
func Analyze(g *Graph, roots *RootSet) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := uint32(g.Len())
	for _, r := range roots.Indices() {
		if r >= n {
			return nil, fmt.Errorf("%w: root %d outside graph of %d symbols", ErrInternalInvariant, r, n)
		}
	}

	live, strictParent := traverse(g, roots, false)
	reachable, looseParent := traverse(g, roots, true)

	res := &Result{
		graph:     g,
		entries:   make([]Entry, n),
		live:      live,
		reachable: reachable,
	}
	unresolved := make([]int, n)
	for _, ref := range g.refs {
		if ref.Confidence == EdgeUnresolved {
			unresolved[ref.Source]++
		}
	}

	thresholds := DefaultConfidenceThresholds()
	for i, s := range g.symbols {
		idx := uint32(i)
		e := Entry{
			Symbol:     s,
			RootReason: roots.Reason(idx),
			Unresolved: unresolved[i],
		}
		switch {
		case live.IsSet(idx):
			e.Status = StatusLive
			e.Path = pathTo(g, strictParent, idx)
			e.Confidence = 1
		case reachable.IsSet(idx):
			e.Status = StatusLiveViaAmbiguous
			e.Path = pathTo(g, looseParent, idx)
			e.Confidence = 0.5
		default:
			e.Status = StatusDead
			e.Confidence = deadConfidence(g, s)
		}
		e.Level = thresholds.Level(e.Confidence)
		res.entries[i] = e
	}
	return res, nil
}

const noParent = -1

// traverse runs a level-synchronous BFS and returns the visited set and
// the chosen parent of every visited non-root node.
func traverse(g *Graph, roots *RootSet, withAmbiguous bool) (*HierarchicalBitSet, []int64) {
	n := uint32(g.Len())
	visited := NewHierarchicalBitSet(n)
	parent := make([]int64, n)
	for i := range parent {
		parent[i] = noParent
	}

	frontier := roots.Indices()
	visited.SetBatch(frontier)
	for len(frontier) > 0 {
		var next []uint32
		queued := roaring.New()
		for _, u := range frontier {
			for _, ri := range g.outgoing[u] {
				ref := &g.refs[ri]
				switch ref.Confidence {
				case EdgeResolved:
				case EdgeAmbiguous:
					if !withAmbiguous {
						continue
					}
				default:
					continue
				}
				for _, v := range ref.Targets {
					if visited.IsSet(v) {
						continue
					}
					if queued.CheckedAdd(v) {
						parent[v] = int64(u)
						next = append(next, v)
					} else if before(g, u, uint32(parent[v])) {
						parent[v] = int64(u)
					}
				}
			}
		}
		slices.Sort(next)
		visited.SetBatch(next)
		frontier = next
	}
	return visited, parent
}

// before orders symbols by FQN, then id.
func before(g *Graph, a, b uint32) bool {
	sa, sb := g.symbols[a], g.symbols[b]
	if sa.FQN != sb.FQN {
		return sa.FQN < sb.FQN
	}
	return sa.ID < sb.ID
}

func pathTo(g *Graph, parent []int64, idx uint32) []SymbolID {
	var path []SymbolID
	for cur := int64(idx); cur != noParent; cur = parent[cur] {
		path = append(path, g.symbols[cur].ID)
	}
	slices.Reverse(path)
	return path
}

// deadConfidence estimates how certain a dead verdict is.
func deadConfidence(g *Graph, s *Symbol) float64 {
	confidence := 0.95

	// Public symbols may be used from outside the analyzed files
	if s.Visibility == facts.Public {
		confidence -= 0.25
	}

	if s.Visibility == facts.Private {
		confidence += 0.03
	}

	if parser.IsTestFile(s.Location.File) {
		confidence -= 0.15
	}

	// Something calls this name but could not be resolved to any symbol
	if g.UnresolvedNamed(s.Name) > 0 {
		confidence -= 0.30
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.0 {
		confidence = 0.0
	}
	return confidence
}

// Len returns the number of entries.
func (r *Result) Len() int {
	return len(r.entries)
}

// Entry returns the verdict for the symbol at idx.
func (r *Result) Entry(idx uint32) Entry {
	return r.entries[idx]
}

// Entries returns every verdict in symbol index order.
func (r *Result) Entries() []Entry {
	return r.entries
}

// Status returns the status of the symbol with the given id.
func (r *Result) Status(id SymbolID) (Status, bool) {
	idx, ok := r.graph.byID[id]
	if !ok {
		return "", false
	}
	return r.entries[idx].Status, true
}

// Lookup returns every entry declared under a fully qualified name.
func (r *Result) Lookup(fqn string) []Entry {
	var out []Entry
	for _, idx := range r.graph.byFQN[fqn] {
		out = append(out, r.entries[idx])
	}
	return out
}

// LiveCount returns the number of symbols reachable over resolved references.
func (r *Result) LiveCount() int {
	return int(r.live.CountSet())
}

// ReachableCount returns the number of live and live-via-ambiguous symbols.
func (r *Result) ReachableCount() int {
	return int(r.reachable.CountSet())
}

// DeadIndices returns the indices of dead symbols in ascending order.
func (r *Result) DeadIndices() []uint32 {
	return r.reachable.Unset()
}

// WithThresholds returns a copy with confidence levels recomputed.
func (r *Result) WithThresholds(t ConfidenceThresholds) *Result {
	t = t.normalized()
	out := *r
	out.entries = make([]Entry, len(r.entries))
	for i, e := range r.entries {
		e.Level = t.Level(e.Confidence)
		out.entries[i] = e
	}
	return &out
}

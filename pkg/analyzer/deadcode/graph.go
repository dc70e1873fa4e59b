package deadcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Graph is the unified symbol graph for one run. Symbols are stored densely so
// reachability can track them in bitmaps; lookups by id, FQN, short name and
// file are O(1).
type Graph struct {
	symbols  []*Symbol
	refs     []Reference
	outgoing [][]int // symbol index -> reference indices
	incoming [][]int // symbol index -> reference indices (resolved and ambiguous)

	byID   map[SymbolID]uint32
	byFQN  map[string][]uint32
	byName map[string][]uint32
	byFile map[string][]uint32

	// unresolvedNames counts unresolved references per target name.
	unresolvedNames map[string]int

	// External is the number of references dropped because they bind to
	// modules outside the project.
	External int
	// Files lists the analyzed files in path order.
	Files []string
}

func newGraph() *Graph {
	return &Graph{
		byID:            make(map[SymbolID]uint32),
		byFQN:           make(map[string][]uint32),
		byName:          make(map[string][]uint32),
		byFile:          make(map[string][]uint32),
		unresolvedNames: make(map[string]int),
	}
}

// NewSymbolID derives the stable id for a symbol.
func NewSymbolID(fqn, file string, line uint32) SymbolID {
	h := xxhash.New()
	_, _ = h.WriteString(fqn)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(file)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatUint(uint64(line), 10))
	return SymbolID(fmt.Sprintf("%016x", h.Sum64()))
}

// addSymbol registers s and reports false when a symbol with the same id
// already exists.
func (g *Graph) addSymbol(s *Symbol) bool {
	if _, ok := g.byID[s.ID]; ok {
		return false
	}
	s.Index = uint32(len(g.symbols))
	g.symbols = append(g.symbols, s)
	g.outgoing = append(g.outgoing, nil)
	g.incoming = append(g.incoming, nil)
	g.byID[s.ID] = s.Index
	g.byFQN[s.FQN] = append(g.byFQN[s.FQN], s.Index)
	g.byName[s.Name] = append(g.byName[s.Name], s.Index)
	g.byFile[s.Location.File] = append(g.byFile[s.Location.File], s.Index)
	return true
}

func (g *Graph) addReference(ref Reference) {
	idx := len(g.refs)
	g.refs = append(g.refs, ref)
	if int(ref.Source) < len(g.outgoing) {
		g.outgoing[ref.Source] = append(g.outgoing[ref.Source], idx)
	}
	for _, t := range ref.Targets {
		if int(t) < len(g.incoming) {
			g.incoming[t] = append(g.incoming[t], idx)
		}
	}
	if ref.Confidence == EdgeUnresolved {
		g.unresolvedNames[ref.Name]++
	}
}

// Len returns the number of symbols.
func (g *Graph) Len() int {
	return len(g.symbols)
}

// Symbol returns the symbol at a dense index.
func (g *Graph) Symbol(idx uint32) *Symbol {
	if int(idx) >= len(g.symbols) {
		return nil
	}
	return g.symbols[idx]
}

// Symbols returns all symbols in index order.
func (g *Graph) Symbols() []*Symbol {
	return g.symbols
}

// Lookup finds a symbol by id.
func (g *Graph) Lookup(id SymbolID) (*Symbol, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.symbols[idx], true
}

// ByFQN returns every symbol declared under a fully qualified name.
func (g *Graph) ByFQN(fqn string) []*Symbol {
	return g.collect(g.byFQN[fqn])
}

// ByName returns every symbol with the given short name.
func (g *Graph) ByName(name string) []*Symbol {
	return g.collect(g.byName[name])
}

// SymbolsInFile returns the symbols declared in a file.
func (g *Graph) SymbolsInFile(path string) []*Symbol {
	return g.collect(g.byFile[path])
}

func (g *Graph) collect(indices []uint32) []*Symbol {
	out := make([]*Symbol, len(indices))
	for i, idx := range indices {
		out[i] = g.symbols[idx]
	}
	return out
}

// References returns every reference in build order.
func (g *Graph) References() []Reference {
	return g.refs
}

// Outgoing returns the references emitted by a symbol.
func (g *Graph) Outgoing(idx uint32) []Reference {
	if int(idx) >= len(g.outgoing) {
		return nil
	}
	out := make([]Reference, len(g.outgoing[idx]))
	for i, r := range g.outgoing[idx] {
		out[i] = g.refs[r]
	}
	return out
}

// Incoming returns the resolved and ambiguous references that may reach a symbol.
func (g *Graph) Incoming(idx uint32) []Reference {
	if int(idx) >= len(g.incoming) {
		return nil
	}
	out := make([]Reference, len(g.incoming[idx]))
	for i, r := range g.incoming[idx] {
		out[i] = g.refs[r]
	}
	return out
}

// UnresolvedNamed returns how many unresolved references use name.
func (g *Graph) UnresolvedNamed(name string) int {
	return g.unresolvedNames[name]
}

// Validate checks that every reference points at symbols in the graph and
// that only unresolved references lack targets.
func (g *Graph) Validate() error {
	n := uint32(len(g.symbols))
	for i, ref := range g.refs {
		if ref.Source >= n {
			return fmt.Errorf("%w: reference %d has source %d outside graph of %d symbols", ErrInternalInvariant, i, ref.Source, n)
		}
		for _, t := range ref.Targets {
			if t >= n {
				return fmt.Errorf("%w: reference %d has target %d outside graph of %d symbols", ErrInternalInvariant, i, t, n)
			}
		}
		switch ref.Confidence {
		case EdgeUnresolved:
		case EdgeResolved, EdgeAmbiguous:
			if len(ref.Targets) == 0 {
				return fmt.Errorf("%w: %s reference %d to %q has no target", ErrInternalInvariant, ref.Confidence, i, ref.Name)
			}
		default:
			return fmt.Errorf("%w: reference %d has unknown confidence %q", ErrInternalInvariant, i, ref.Confidence)
		}
	}
	return nil
}

// joinFQN joins name segments with dots, skipping empty segments.
func joinFQN(parts ...[]string) string {
	var b strings.Builder
	for _, p := range parts {
		for _, s := range p {
			if s == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s)
		}
	}
	return b.String()
}

package deadcode

import (
	"fmt"
	"path"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

// RootReason records why a symbol is reachable a priori.
type RootReason string

const (
	RootEntryPoint RootReason = "entry-point"
	RootSynthetic  RootReason = "synthetic"
	RootModuleInit RootReason = "module-init"
	RootLibrary    RootReason = "library-export"
	RootTest       RootReason = "test"
	RootPinned     RootReason = "pin"
)

// RootConfig controls root selection.
type RootConfig struct {
	// EntryPatterns are glob patterns matched against a function's name or FQN.
	EntryPatterns []string
	// Library makes every public symbol a root.
	Library bool
	// IncludeTests makes test functions roots.
	IncludeTests bool
	// TestPatterns are glob patterns for test function names.
	TestPatterns []string
	// Pins are glob patterns for symbols that are always roots.
	Pins []string
	// ModuleInitRoots makes top-level module code a root.
	ModuleInitRoots bool
}

// DefaultRootConfig returns the root policy for an application.
func DefaultRootConfig() RootConfig {
	return RootConfig{
		EntryPatterns:   []string{"main", facts.MainGuardName},
		IncludeTests:    true,
		TestPatterns:    []string{"test_*", "Test*", "Benchmark*", "Fuzz*", "Example*"},
		ModuleInitRoots: true,
	}
}

// RootSet is the set of symbols reachable without analysis.
type RootSet struct {
	bitmap  *roaring.Bitmap
	reasons map[uint32]RootReason
}

func newRootSet() *RootSet {
	return &RootSet{
		bitmap:  roaring.New(),
		reasons: make(map[uint32]RootReason),
	}
}

// add records idx with reason unless it is already a root.
func (r *RootSet) add(idx uint32, reason RootReason) {
	if r.bitmap.CheckedAdd(idx) {
		r.reasons[idx] = reason
	}
}

// Contains reports whether the symbol at idx is a root.
func (r *RootSet) Contains(idx uint32) bool {
	return r.bitmap.Contains(idx)
}

// Reason returns why idx is a root, or "" when it is not.
func (r *RootSet) Reason(idx uint32) RootReason {
	return r.reasons[idx]
}

// Len returns the number of roots.
func (r *RootSet) Len() int {
	return int(r.bitmap.GetCardinality())
}

// Indices returns the root indices in ascending order.
func (r *RootSet) Indices() []uint32 {
	return r.bitmap.ToArray()
}

// With returns a copy of the set with idx added as a pinned root.
func (r *RootSet) With(idx uint32) *RootSet {
	out := &RootSet{
		bitmap:  r.bitmap.Clone(),
		reasons: make(map[uint32]RootReason, len(r.reasons)+1),
	}
	for k, v := range r.reasons {
		out.reasons[k] = v
	}
	out.add(idx, RootPinned)
	return out
}

// SelectRoots applies the root policy to a graph. A symbol matching several
// rules keeps the reason of the first.
func SelectRoots(g *Graph, cfg RootConfig) (*RootSet, []Diagnostic) {
	roots := newRootSet()
	var diags []Diagnostic

	for _, s := range g.symbols {
		if reason, ok := rootReason(s, cfg); ok {
			roots.add(s.Index, reason)
		}
	}

	for _, pin := range cfg.Pins {
		matched := false
		for _, s := range g.symbols {
			if matches(pin, s) {
				roots.add(s.Index, RootPinned)
				matched = true
			}
		}
		if !matched {
			diags = append(diags, Diagnostic{
				Kind:     DiagUnmatchedPin,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("pinned symbol %q matches no declaration", pin),
			})
		}
	}

	if roots.Len() == 0 {
		diags = append(diags, Diagnostic{
			Kind:     DiagNoRoots,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("no roots found among %d symbols; every symbol will be reported dead (configure entry points, pins or library mode)", g.Len()),
		})
	}
	return roots, diags
}

func rootReason(s *Symbol, cfg RootConfig) (RootReason, bool) {
	if s.SyntheticRoot {
		return RootSynthetic, true
	}
	if s.Name == facts.ModuleInitName {
		if cfg.ModuleInitRoots {
			return RootModuleInit, true
		}
		return "", false
	}
	if s.Kind == facts.KindFunction && matchesAny(cfg.EntryPatterns, s) {
		return RootEntryPoint, true
	}
	if cfg.Library && s.Visibility == facts.Public {
		return RootLibrary, true
	}
	if cfg.IncludeTests && s.Kind.Callable() {
		if matchesAny(cfg.TestPatterns, s) || parser.IsTestFile(s.Location.File) {
			return RootTest, true
		}
	}
	return "", false
}

func matchesAny(patterns []string, s *Symbol) bool {
	for _, p := range patterns {
		if matches(p, s) {
			return true
		}
	}
	return false
}

// matches applies a glob pattern to a symbol's short name or FQN.
func matches(pattern string, s *Symbol) bool {
	if pattern == s.Name || pattern == s.FQN {
		return true
	}
	if ok, err := path.Match(pattern, s.Name); err == nil && ok {
		return true
	}
	ok, err := path.Match(pattern, s.FQN)
	return err == nil && ok
}

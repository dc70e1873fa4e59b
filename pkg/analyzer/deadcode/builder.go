package deadcode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neural-garage/tools/pkg/facts"
)

// Build merges per-file fact sets into one graph and resolves every reference.
// The result does not depend on the order of sets: they are processed in path
// order and symbol ids derive from name and location only.
func Build(sets []*facts.FactSet) (*Graph, []Diagnostic) {
	b := &builder{
		g:          newGraph(),
		localIndex: make(map[string][]uint32),
		modules:    make(map[string][]string),
		fragments:  make(map[string]bool),
	}
	ordered := make([]*facts.FactSet, 0, len(sets))
	for _, fs := range sets {
		if fs != nil {
			ordered = append(ordered, fs)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Path < ordered[j].Path
	})

	for _, fs := range ordered {
		b.register(fs)
	}
	b.reportDuplicates()
	for _, fs := range ordered {
		b.resolveFile(fs)
	}
	return b.g, b.diags
}

type builder struct {
	g     *Graph
	diags []Diagnostic

	// localIndex maps a module-relative qualified path (e.g. "C.m") to symbols.
	localIndex map[string][]uint32
	// modules maps a dotted module name to its segments.
	modules map[string][]string
	// fragments holds every contiguous run of module segments, dotted.
	fragments map[string]bool
}

// fileScope is the resolution context of one file.
type fileScope struct {
	set     *facts.FactSet
	module  []string
	modName string
	dir     []string
	imports map[string]facts.ImportFact
}

func moduleOf(fs *facts.FactSet) []string {
	if fs.Module != nil || fs.Path == "" {
		return fs.Module
	}
	return facts.ModuleSegments(fs.Language, fs.Path)
}

func (b *builder) register(fs *facts.FactSet) {
	module := moduleOf(fs)
	modName := joinFQN(module)
	b.modules[modName] = module
	for i := range module {
		for j := i + 1; j <= len(module); j++ {
			b.fragments[joinFQN(module[i:j])] = true
		}
	}
	b.g.Files = append(b.g.Files, fs.Path)

	for _, d := range fs.Declarations {
		qp := d.QualifiedPath()
		fqn := joinFQN(module, qp)
		loc := d.Location
		if loc.File == "" {
			loc.File = fs.Path
		}
		s := &Symbol{
			ID:            NewSymbolID(fqn, loc.File, loc.Line),
			Name:          d.Name,
			FQN:           fqn,
			Kind:          d.Kind,
			Scope:         append([]string(nil), d.ScopePath...),
			Module:        modName,
			Language:      fs.Language,
			Location:      loc,
			Visibility:    d.Visibility,
			SyntheticRoot: d.SyntheticRoot,
		}
		if b.g.addSymbol(s) {
			local := joinFQN(qp)
			b.localIndex[local] = append(b.localIndex[local], s.Index)
		}
	}
}

// reportDuplicates records one diagnostic per extra declaration of an FQN.
// Symbols that are all synthetic roots (several Go init functions) are fine.
func (b *builder) reportDuplicates() {
	for _, s := range b.g.symbols {
		same := b.g.byFQN[s.FQN]
		if len(same) < 2 || same[0] == s.Index {
			continue
		}
		allSynthetic := true
		for _, idx := range same {
			if !b.g.symbols[idx].SyntheticRoot {
				allSynthetic = false
				break
			}
		}
		if allSynthetic {
			continue
		}
		first := b.g.symbols[same[0]]
		b.diags = append(b.diags, Diagnostic{
			Kind:     DiagDuplicateDeclaration,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s is also declared at %s; references resolve as ambiguous", s.FQN, first.Location),
			File:     s.Location.File,
			Line:     s.Location.Line,
			Symbol:   s.ID,
		})
	}
}

func (b *builder) resolveFile(fs *facts.FactSet) {
	module := moduleOf(fs)
	ctx := &fileScope{
		set:     fs,
		module:  module,
		modName: joinFQN(module),
		dir:     facts.DirSegments(fs.Path),
		imports: make(map[string]facts.ImportFact, len(fs.Imports)),
	}
	for _, imp := range fs.Imports {
		ctx.imports[imp.Alias] = imp
	}

	qualified := make(map[[2]uint32]bool)
	for _, r := range fs.References {
		loc := r.Location
		if loc.File == "" {
			loc.File = fs.Path
		}
		src, ok := b.source(ctx, r.SourceScope, loc.Line)
		if !ok {
			b.diags = append(b.diags, Diagnostic{
				Kind:     DiagUnattributedReference,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("reference to %q from undeclared scope %q", r.TargetName, strings.Join(r.SourceScope, ".")),
				File:     loc.File,
				Line:     loc.Line,
			})
			continue
		}

		res := b.resolve(ctx, r)
		if res.external {
			b.g.External++
			continue
		}
		if res.skip {
			continue
		}
		for _, q := range res.qualifiers {
			key := [2]uint32{src, q}
			if q == src || qualified[key] {
				continue
			}
			qualified[key] = true
			b.g.addReference(Reference{
				Source:     src,
				Targets:    []uint32{q},
				Kind:       facts.RefAttribute,
				Confidence: EdgeResolved,
				Name:       b.g.symbols[q].Name,
				Location:   loc,
			})
		}

		b.g.addReference(Reference{
			Source:     src,
			Targets:    res.targets,
			Kind:       r.Kind,
			Confidence: res.confidence,
			Name:       r.TargetName,
			Qualifier:  r.Qualifier,
			Location:   loc,
		})
		if res.confidence == EdgeUnresolved {
			name := r.TargetName
			if r.Qualifier != "" {
				name = r.Qualifier + "." + name
			}
			b.diags = append(b.diags, Diagnostic{
				Kind:     DiagUnresolvedReference,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("unresolved %s reference to %q", r.Kind, name),
				File:     loc.File,
				Line:     loc.Line,
				Symbol:   b.g.symbols[src].ID,
			})
		}
	}
}

// source finds the symbol whose body holds a reference, walking outward from
// the recorded scope to the nearest declared enclosing symbol.
func (b *builder) source(ctx *fileScope, scope []string, line uint32) (uint32, bool) {
	if len(scope) == 0 {
		scope = []string{facts.ModuleInitName}
	}
	for k := len(scope); k >= 1; k-- {
		if idx, ok := b.pick(joinFQN(ctx.module, scope[:k]), ctx.set.Path, line); ok {
			return idx, true
		}
	}
	return 0, false
}

// pick chooses among same-named declarations the one in file whose line range
// contains line, then any in file, then the first.
func (b *builder) pick(fqn, file string, line uint32) (uint32, bool) {
	cands := b.g.byFQN[fqn]
	if len(cands) == 0 {
		return 0, false
	}
	inFile := -1
	for i, idx := range cands {
		s := b.g.symbols[idx]
		if s.Location.File != file {
			continue
		}
		if s.Location.Line <= line && line <= s.Location.EndLine {
			return idx, true
		}
		if inFile < 0 {
			inFile = i
		}
	}
	if inFile >= 0 {
		return cands[inFile], true
	}
	return cands[0], true
}

type resolution struct {
	targets    []uint32
	confidence EdgeConfidence
	// qualifiers are the declared symbols bound by the qualifier's first segment.
	qualifiers []uint32
	external   bool
	// skip marks a use of a project module alias, which is not a symbol.
	skip bool
}

func exact(cands []uint32) resolution {
	if len(cands) == 1 {
		return resolution{targets: cands, confidence: EdgeResolved}
	}
	return resolution{targets: cands, confidence: EdgeAmbiguous}
}

func (b *builder) resolve(ctx *fileScope, r facts.ReferenceFact) resolution {
	if r.Qualifier == "" {
		if c := b.visible(ctx, b.lookupScoped(ctx, r.SourceScope, r.TargetName)); len(c) > 0 {
			return exact(c)
		}
		if imp, ok := ctx.imports[r.TargetName]; ok {
			if b.isExternal(imp) {
				return resolution{external: true}
			}
			if imp.Name == "" {
				return resolution{skip: true}
			}
			if c := b.visible(ctx, b.resolveImport(ctx, imp, nil)); len(c) > 0 {
				return exact(c)
			}
		}
		return b.fallback(ctx, r)
	}

	q := strings.Split(r.Qualifier, ".")
	rest := make([]string, 0, len(q))
	rest = append(rest, q[1:]...)
	rest = append(rest, r.TargetName)

	var heads []uint32
	if heads = b.lookupScoped(ctx, r.SourceScope, q[0]); len(heads) > 0 {
		var c []uint32
		for _, h := range heads {
			c = append(c, b.g.byFQN[joinFQN([]string{b.g.symbols[h].FQN}, rest)]...)
		}
		if c = b.visible(ctx, dedupe(c)); len(c) > 0 {
			res := exact(c)
			res.qualifiers = heads
			return res
		}
	} else if imp, ok := ctx.imports[q[0]]; ok {
		if b.isExternal(imp) {
			return resolution{external: true}
		}
		if c := b.visible(ctx, b.resolveImport(ctx, imp, rest)); len(c) > 0 {
			return exact(c)
		}
	}
	res := b.fallback(ctx, r)
	res.qualifiers = heads
	return res
}

// lookupScoped resolves name from the innermost scope outward to module level.
func (b *builder) lookupScoped(ctx *fileScope, scope []string, name string) []uint32 {
	for k := len(scope); k >= 0; k-- {
		if c := b.g.byFQN[joinFQN(ctx.module, scope[:k], []string{name})]; len(c) > 0 {
			return c
		}
	}
	return nil
}

// resolveImport looks up the symbol an import names, followed by rest. A
// relative import names an exact module; an absolute one matches any project
// module by suffix.
func (b *builder) resolveImport(ctx *fileScope, imp facts.ImportFact, rest []string) []uint32 {
	var dotted []string
	relative := imp.Up > 0
	if relative {
		drop := imp.Up - 1
		if drop > len(ctx.dir) {
			return nil
		}
		dotted = append(dotted, ctx.dir[:len(ctx.dir)-drop]...)
	}
	dotted = append(dotted, imp.Path...)
	if imp.Name != "" {
		dotted = append(dotted, imp.Name)
	}
	dotted = append(dotted, rest...)

	for k := len(dotted) - 1; k >= 0; k-- {
		if k == 0 && !relative {
			break
		}
		mod := dotted[:k]
		var out []uint32
		for _, idx := range b.localIndex[joinFQN(dotted[k:])] {
			segs := b.modules[b.g.symbols[idx].Module]
			if (relative && equalSegments(segs, mod)) || (!relative && suffixMatch(segs, mod)) {
				out = append(out, idx)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// isExternal reports whether an absolute import names nothing in the project.
func (b *builder) isExternal(imp facts.ImportFact) bool {
	if imp.Up > 0 {
		return false
	}
	full := append(append([]string(nil), imp.Path...), imp.Name)
	for _, p := range [][]string{imp.Path, full} {
		if len(p) == 0 || p[len(p)-1] == "" {
			continue
		}
		if b.fragments[joinFQN(p)] {
			return false
		}
		for i := 1; i < len(p); i++ {
			if _, ok := b.modules[joinFQN(p[i:])]; ok {
				return false
			}
		}
	}
	return true
}

// visible drops candidates in other modules that are not public.
func (b *builder) visible(ctx *fileScope, cands []uint32) []uint32 {
	out := cands[:0:0]
	for _, idx := range cands {
		s := b.g.symbols[idx]
		if s.Module == ctx.modName || s.Visibility == facts.Public {
			out = append(out, idx)
		}
	}
	return out
}

// fallback collects accessible symbols of a compatible kind sharing the short
// name. Any candidate set is ambiguous, even a single one.
func (b *builder) fallback(ctx *fileScope, r facts.ReferenceFact) resolution {
	var c []uint32
	for _, idx := range b.g.byName[r.TargetName] {
		s := b.g.symbols[idx]
		if s.Synthetic() || !compatible(r.Kind, s.Kind) {
			continue
		}
		if s.Module != ctx.modName && s.Visibility != facts.Public {
			continue
		}
		c = append(c, idx)
	}
	if len(c) == 0 {
		return resolution{confidence: EdgeUnresolved}
	}
	return resolution{targets: c, confidence: EdgeAmbiguous}
}

func compatible(ref facts.RefKind, kind facts.SymbolKind) bool {
	switch ref {
	case facts.RefDirectCall:
		return kind == facts.KindFunction || kind == facts.KindClass
	case facts.RefMethodCall, facts.RefDynamic:
		return kind == facts.KindMethod
	default:
		return true
	}
}

func equalSegments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasSuffix(s, suffix []string) bool {
	if len(suffix) == 0 || len(suffix) > len(s) {
		return false
	}
	return equalSegments(s[len(s)-len(suffix):], suffix)
}

// suffixMatch reports whether either module path ends with the other.
func suffixMatch(a, b []string) bool {
	return hasSuffix(a, b) || hasSuffix(b, a)
}

func dedupe(in []uint32) []uint32 {
	if len(in) < 2 {
		return in
	}
	seen := make(map[uint32]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

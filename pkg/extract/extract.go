// Package extract implements tree-sitter based fact extractors for the
// languages bury understands and a registry that routes files to them.
package extract

import (
	"fmt"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

// Registry maps languages to extractors.
type Registry struct {
	extractors map[parser.Language]facts.Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[parser.Language]facts.Extractor)}
}

// DefaultRegistry returns a registry with every built-in extractor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPython())
	r.Register(NewTypeScript(parser.LangTypeScript))
	r.Register(NewTypeScript(parser.LangTSX))
	r.Register(NewTypeScript(parser.LangJavaScript))
	r.Register(NewGo())
	return r
}

// Register adds or replaces the extractor for its language.
func (r *Registry) Register(e facts.Extractor) {
	r.extractors[parser.Language(e.Language())] = e
}

// Languages returns the registered languages in sorted order.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.extractors))
	for lang := range r.extractors {
		out = append(out, string(lang))
	}
	slices.Sort(out)
	return out
}

// Restrict returns a registry containing only the named languages. An empty
// list returns r unchanged.
func (r *Registry) Restrict(languages []string) *Registry {
	if len(languages) == 0 {
		return r
	}
	out := NewRegistry()
	for _, l := range languages {
		lang := parser.Language(strings.ToLower(l))
		if e, ok := r.extractors[lang]; ok {
			out.extractors[lang] = e
		}
		// "typescript" covers .tsx as well
		if lang == parser.LangTypeScript {
			if e, ok := r.extractors[parser.LangTSX]; ok {
				out.extractors[parser.LangTSX] = e
			}
		}
	}
	return out
}

// For returns the extractor responsible for path.
func (r *Registry) For(path string) (facts.Extractor, bool) {
	e, ok := r.extractors[parser.DetectLanguage(path)]
	return e, ok
}

// Supports reports whether some extractor handles path.
func (r *Registry) Supports(path string) bool {
	_, ok := r.For(path)
	return ok
}

// Extract runs the matching extractor on content.
func (r *Registry) Extract(path string, content []byte) (*facts.FactSet, error) {
	e, ok := r.For(path)
	if !ok {
		return nil, &facts.ExtractionError{Path: path, Err: facts.ErrUnsupportedLanguage}
	}
	fs, err := e.Extract(path, content)
	if err != nil {
		return nil, &facts.ExtractionError{Path: path, Err: err}
	}
	return fs, nil
}

// parse runs tree-sitter and rejects trees that are mostly errors.
func parse(path string, content []byte, lang parser.Language) (*parser.ParseResult, error) {
	psr := parser.New()
	defer psr.Close()

	result, err := psr.Parse(content, lang, path)
	if err != nil {
		return nil, err
	}
	root := result.Root()
	if root == nil {
		result.Close()
		return nil, fmt.Errorf("empty syntax tree")
	}
	if root.HasError() && len(content) > 0 && root.NamedChildCount() == 1 && root.NamedChild(0).Type() == "ERROR" {
		result.Close()
		return nil, fmt.Errorf("source does not parse as %s", lang)
	}
	return result, nil
}

// collector accumulates facts for one file in source order.
type collector struct {
	fs *facts.FactSet
}

func newCollector(path string, lang parser.Language) *collector {
	return &collector{fs: &facts.FactSet{
		Path:         path,
		Language:     string(lang),
		Module:       facts.ModuleSegments(string(lang), path),
		Declarations: []facts.DeclaredSymbolFact{},
		References:   []facts.ReferenceFact{},
	}}
}

func (c *collector) location(n *sitter.Node) facts.Location {
	return facts.Location{
		File:    c.fs.Path,
		Line:    parser.StartLine(n),
		EndLine: parser.EndLine(n),
		Column:  n.StartPoint().Column + 1,
	}
}

func (c *collector) declare(name string, kind facts.SymbolKind, scope []string, n *sitter.Node, vis facts.Visibility) {
	c.fs.Declarations = append(c.fs.Declarations, facts.DeclaredSymbolFact{
		Name:       name,
		Kind:       kind,
		ScopePath:  slices.Clone(scope),
		Location:   c.location(n),
		Visibility: vis,
	})
}

func (c *collector) declareSynthetic(name string, scope []string, n *sitter.Node, root bool) {
	c.fs.Declarations = append(c.fs.Declarations, facts.DeclaredSymbolFact{
		Name:          name,
		Kind:          facts.KindFunction,
		ScopePath:     slices.Clone(scope),
		Location:      c.location(n),
		Visibility:    facts.Private,
		SyntheticRoot: root,
	})
}

func (c *collector) reference(scope []string, target, qualifier string, kind facts.RefKind, n *sitter.Node) {
	if target == "" {
		return
	}
	loc := c.location(n)
	loc.EndLine = 0
	c.fs.References = append(c.fs.References, facts.ReferenceFact{
		SourceScope: slices.Clone(scope),
		TargetName:  target,
		Qualifier:   qualifier,
		Kind:        kind,
		Location:    loc,
	})
}

func (c *collector) imported(path []string, up int, name, alias string, n *sitter.Node) {
	if alias == "" {
		return
	}
	loc := c.location(n)
	loc.EndLine = 0
	if c.fs.Imports == nil {
		c.fs.Imports = []facts.ImportFact{}
	}
	c.fs.Imports = append(c.fs.Imports, facts.ImportFact{
		Path:     path,
		Up:       up,
		Name:     name,
		Alias:    alias,
		Location: loc,
	})
}

// moduleCode lazily declares the synthetic symbol that owns top-level
// statements and returns its scope.
type moduleCode struct {
	c        *collector
	declared bool
}

func (m *moduleCode) scope(n *sitter.Node) []string {
	if !m.declared {
		m.c.declareSynthetic(facts.ModuleInitName, nil, n, false)
		m.declared = true
	}
	return []string{facts.ModuleInitName}
}

// locals tracks names bound inside a function body and the statically known
// class of variables assigned from a constructor call. A name bound to more
// than one class, or to any value of unknown class, has no known class.
type locals struct {
	names map[string]bool
	types map[string]string
}

func newLocals() *locals {
	return &locals{names: make(map[string]bool), types: make(map[string]string)}
}

func (l *locals) bind(name string) {
	if name != "" {
		l.names[name] = true
	}
}

// unknown binds name to a value of unknown class.
func (l *locals) unknown(name string) {
	l.bind(name)
	l.assign(name, "")
}

func (l *locals) setType(name, typ string) {
	if typ != "" {
		l.assign(name, typ)
	}
}

// assign records one binding of name. typ is empty when the bound value's
// class is unknown; the first unknown or conflicting binding clears the type
// for good.
func (l *locals) assign(name, typ string) {
	if name == "" {
		return
	}
	if prev, seen := l.types[name]; seen && prev != typ {
		typ = ""
	}
	l.types[name] = typ
}

func (l *locals) has(name string) bool {
	return l.names[name]
}

func (l *locals) typeOf(name string) string {
	return l.types[name]
}

func isCapitalized(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func isDunder(s string) bool {
	return len(s) > 4 && strings.HasPrefix(s, "__") && strings.HasSuffix(s, "__")
}

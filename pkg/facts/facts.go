// Package facts defines the normalized declaration and reference schema that
// language extractors produce and the dead code engine consumes.
//
// A FactSet is a value: once an extractor returns it, nothing mutates it. The
// body of a FactSet (declarations, references, imports) never depends on the
// file path, which lets the incremental cache key sets purely by content hash
// and attach them to whichever path the content is found at.
package facts

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SymbolKind classifies a declared symbol.
type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
	KindClass    SymbolKind = "class"
	KindVariable SymbolKind = "module-level-variable"
)

// String returns the string representation.
func (k SymbolKind) String() string {
	return string(k)
}

// Callable reports whether symbols of this kind have a body that can hold references.
func (k SymbolKind) Callable() bool {
	return k == KindFunction || k == KindMethod
}

// Visibility is the access level reported by the extractor.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// String returns the string representation.
func (v Visibility) String() string {
	return string(v)
}

// RefKind classifies how a reference was written at the call site.
type RefKind string

const (
	RefDirectCall RefKind = "direct-call"
	RefMethodCall RefKind = "method-call-on-known-type"
	RefDynamic    RefKind = "dynamic"
	RefAttribute  RefKind = "attribute-access"
)

// String returns the string representation.
func (r RefKind) String() string {
	return string(r)
}

// Location is a position in a source file. Lines and columns are 1-based.
type Location struct {
	File    string `json:"file,omitempty" toon:"file,omitempty"`
	Line    uint32 `json:"line" toon:"line"`
	EndLine uint32 `json:"end_line,omitempty" toon:"end_line,omitempty"`
	Column  uint32 `json:"column,omitempty" toon:"column,omitempty"`
}

// String formats the location as file:line.
func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%d", l.Line)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// DeclaredSymbolFact is one declaration found in a file. ScopePath is relative
// to the file's module: a method of class C has ScopePath ["C"].
type DeclaredSymbolFact struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	ScopePath     []string   `json:"scope_path,omitempty"`
	Location      Location   `json:"location"`
	Visibility    Visibility `json:"visibility"`
	SyntheticRoot bool       `json:"synthetic_root,omitempty"`
}

// QualifiedPath returns the scope path with the symbol name appended.
func (d DeclaredSymbolFact) QualifiedPath() []string {
	out := make([]string, 0, len(d.ScopePath)+1)
	out = append(out, d.ScopePath...)
	return append(out, d.Name)
}

// ReferenceFact is one use of a name. SourceScope is the qualified path (relative
// to the module) of the declaration whose body contains the reference. Qualifier
// holds the statically known receiver or namespace, e.g. "UsedClass" for
// obj.used_method() when obj is known to be a UsedClass, or an import alias.
type ReferenceFact struct {
	SourceScope []string `json:"source_scope,omitempty"`
	TargetName  string   `json:"target_name"`
	Qualifier   string   `json:"qualifier,omitempty"`
	Kind        RefKind  `json:"kind"`
	Location    Location `json:"location"`
}

// ImportFact binds a local name to a module or a symbol inside a module.
// Up counts relative levels: 0 for an absolute import, 1 for the importing
// file's own package or directory, 2 for its parent and so on.
type ImportFact struct {
	Path     []string `json:"path,omitempty"`
	Up       int      `json:"up,omitempty"`
	Name     string   `json:"name,omitempty"`
	Alias    string   `json:"alias"`
	Location Location `json:"location"`
}

// FactSet holds everything an extractor learned from one file.
type FactSet struct {
	Path         string               `json:"path,omitempty"`
	Language     string               `json:"language"`
	Module       []string             `json:"module,omitempty"`
	ContentHash  string               `json:"content_hash,omitempty"`
	Declarations []DeclaredSymbolFact `json:"declarations"`
	References   []ReferenceFact      `json:"references"`
	Imports      []ImportFact         `json:"imports,omitempty"`
}

// ModuleName returns the dotted module name.
func (fs *FactSet) ModuleName() string {
	return strings.Join(fs.Module, ".")
}

// Detach returns a copy with every path-dependent field cleared.
func (fs *FactSet) Detach() *FactSet {
	out := fs.clone()
	out.Path = ""
	out.Module = nil
	for i := range out.Declarations {
		out.Declarations[i].Location.File = ""
	}
	for i := range out.References {
		out.References[i].Location.File = ""
	}
	for i := range out.Imports {
		out.Imports[i].Location.File = ""
	}
	return out
}

// Attach returns a copy bound to path, with the module and every location
// recomputed from it.
func (fs *FactSet) Attach(filePath string) *FactSet {
	out := fs.clone()
	out.Path = filePath
	out.Module = ModuleSegments(out.Language, filePath)
	for i := range out.Declarations {
		out.Declarations[i].Location.File = filePath
	}
	for i := range out.References {
		out.References[i].Location.File = filePath
	}
	for i := range out.Imports {
		out.Imports[i].Location.File = filePath
	}
	return out
}

func (fs *FactSet) clone() *FactSet {
	out := *fs
	out.Module = append([]string(nil), fs.Module...)
	out.Declarations = make([]DeclaredSymbolFact, len(fs.Declarations))
	for i, d := range fs.Declarations {
		d.ScopePath = append([]string(nil), d.ScopePath...)
		out.Declarations[i] = d
	}
	out.References = make([]ReferenceFact, len(fs.References))
	for i, r := range fs.References {
		r.SourceScope = append([]string(nil), r.SourceScope...)
		out.References[i] = r
	}
	if fs.Imports != nil {
		out.Imports = make([]ImportFact, len(fs.Imports))
		for i, im := range fs.Imports {
			im.Path = append([]string(nil), im.Path...)
			out.Imports[i] = im
		}
	}
	return &out
}

// Extractor turns one source file into facts. Implementations must be pure
// functions of the content; the path only names the module.
type Extractor interface {
	Language() string
	Extract(path string, content []byte) (*FactSet, error)
}

// ErrUnsupportedLanguage is returned when no extractor handles a file.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ExtractionError reports that an extractor could not process a file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ModuleSegments derives module name segments from a file path. Package
// initializer files (__init__.py, index.ts) name their directory, and a Go
// file belongs to the package named by its directory.
func ModuleSegments(language, filePath string) []string {
	p := path.Clean(filepath.ToSlash(filePath))
	if language == "go" {
		return splitSegments(path.Dir(p))
	}
	p = strings.TrimSuffix(p, path.Ext(p))
	segs := splitSegments(p)
	if n := len(segs); n > 0 && (segs[n-1] == "__init__" || segs[n-1] == "index") {
		segs = segs[:n-1]
	}
	return segs
}

// DirSegments returns the segments of the directory containing filePath.
func DirSegments(filePath string) []string {
	p := path.Clean(filepath.ToSlash(filePath))
	return splitSegments(path.Dir(p))
}

func splitSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, s)
	}
	return segs
}

// Names of synthetic symbols emitted by extractors.
const (
	// ModuleInitName owns top-level statements that run on import.
	ModuleInitName = "__module__"
	// MainGuardName owns the body of a script entry guard.
	MainGuardName = "__main__"
	// DefaultExportName is the binding of a module's default export.
	DefaultExportName = "default"
)

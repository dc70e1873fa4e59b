package deadcode

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neural-garage/tools/pkg/facts"
)

// ErrInternalInvariant marks a collaborator contract breach: a reference to a
// symbol that is not in the graph, or a cache entry in an unexpected format.
// It always aborts the run.
var ErrInternalInvariant = errors.New("internal invariant violation")

// ConfidenceLevel indicates how certain we are about dead code detection.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "High"
	ConfidenceMedium ConfidenceLevel = "Medium"
	ConfidenceLow    ConfidenceLevel = "Low"
)

// String returns the string representation.
func (c ConfidenceLevel) String() string {
	return string(c)
}

// ConfidenceThresholds defines the thresholds for confidence level classification.
// - High (>=0.8): private symbols with no references have very low false positive rates
// - Medium (>=0.5): public symbols may still be used from outside the project
// - Low (<0.5): symbols whose name appears in unresolved references need manual review
type ConfidenceThresholds struct {
	HighThreshold   float64 // Confidence >= this is "High" (default: 0.8)
	MediumThreshold float64 // Confidence >= this (and < High) is "Medium" (default: 0.5)
}

// DefaultConfidenceThresholds returns the default confidence thresholds.
func DefaultConfidenceThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{
		HighThreshold:   0.8,
		MediumThreshold: 0.5,
	}
}

// Level classifies a numeric confidence.
func (t ConfidenceThresholds) Level(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= t.HighThreshold:
		return ConfidenceHigh
	case confidence >= t.MediumThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// normalized replaces out-of-range values with the defaults.
func (t ConfidenceThresholds) normalized() ConfidenceThresholds {
	def := DefaultConfidenceThresholds()
	if t.HighThreshold <= 0 || t.HighThreshold > 1 {
		t.HighThreshold = def.HighThreshold
	}
	if t.MediumThreshold <= 0 || t.MediumThreshold > 1 {
		t.MediumThreshold = def.MediumThreshold
	}
	if t.MediumThreshold > t.HighThreshold {
		t.MediumThreshold = t.HighThreshold
	}
	return t
}

// Status is the reachability verdict for a symbol.
type Status string

const (
	StatusLive             Status = "live"
	StatusDead             Status = "dead"
	StatusLiveViaAmbiguous Status = "live-via-ambiguous"
)

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// EdgeConfidence records how a reference was resolved.
type EdgeConfidence string

const (
	EdgeResolved   EdgeConfidence = "resolved"
	EdgeAmbiguous  EdgeConfidence = "ambiguous"
	EdgeUnresolved EdgeConfidence = "unresolved"
)

// String returns the string representation.
func (e EdgeConfidence) String() string {
	return string(e)
}

// SymbolID is a stable identifier derived from a symbol's fully qualified
// name and declared location.
type SymbolID string

// Symbol is a declared entity in the graph.
type Symbol struct {
	ID            SymbolID         `json:"id" toon:"id"`
	Index         uint32           `json:"-" toon:"-"`
	Name          string           `json:"name" toon:"name"`
	FQN           string           `json:"fqn" toon:"fqn"`
	Kind          facts.SymbolKind `json:"kind" toon:"kind"`
	Scope         []string         `json:"scope,omitempty" toon:"scope,omitempty"`
	Module        string           `json:"module" toon:"module"`
	Language      string           `json:"language" toon:"language"`
	Location      facts.Location   `json:"location" toon:"location"`
	Visibility    facts.Visibility `json:"visibility" toon:"visibility"`
	SyntheticRoot bool             `json:"synthetic_root,omitempty" toon:"synthetic_root,omitempty"`
}

// Synthetic reports whether the symbol was generated by an extractor rather
// than written by the user.
func (s *Symbol) Synthetic() bool {
	return s.SyntheticRoot || s.Name == facts.ModuleInitName
}

// Reference is a directed edge from a source symbol. Targets holds one index
// for a resolved edge, the candidate set for an ambiguous one, and nothing
// for an unresolved one.
type Reference struct {
	Source     uint32         `json:"source" toon:"source"`
	Targets    []uint32       `json:"targets,omitempty" toon:"targets,omitempty"`
	Kind       facts.RefKind  `json:"kind" toon:"kind"`
	Confidence EdgeConfidence `json:"confidence" toon:"confidence"`
	Name       string         `json:"name" toon:"name"`
	Qualifier  string         `json:"qualifier,omitempty" toon:"qualifier,omitempty"`
	Location   facts.Location `json:"location" toon:"location"`
}

// DiagnosticKind classifies a non-fatal issue found during a run.
type DiagnosticKind string

const (
	DiagExtractionFailure     DiagnosticKind = "ExtractionFailure"
	DiagDuplicateDeclaration  DiagnosticKind = "DuplicateDeclarationAmbiguity"
	DiagNoRoots               DiagnosticKind = "NoRootsWarning"
	DiagUnresolvedReference   DiagnosticKind = "UnresolvedReference"
	DiagUnmatchedPin          DiagnosticKind = "UnmatchedPin"
	DiagUnattributedReference DiagnosticKind = "UnattributedReference"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a classified issue attributable to a location.
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind" toon:"kind"`
	Severity Severity       `json:"severity" toon:"severity"`
	Message  string         `json:"message" toon:"message"`
	File     string         `json:"file,omitempty" toon:"file,omitempty"`
	Line     uint32         `json:"line,omitempty" toon:"line,omitempty"`
	Symbol   SymbolID       `json:"symbol,omitempty" toon:"symbol,omitempty"`
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, d.Kind, d.Message)
}

// SortDiagnostics orders diagnostics by file, line, kind and message.
func SortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Message < b.Message
	})
}

// HasDiagnostic reports whether any diagnostic has the given kind.
func HasDiagnostic(diags []Diagnostic, kind DiagnosticKind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// Record is one row handed to a reporter.
type Record struct {
	Symbol          string           `json:"symbol" toon:"symbol"`
	ID              SymbolID         `json:"id" toon:"id"`
	Kind            facts.SymbolKind `json:"kind" toon:"kind"`
	Language        string           `json:"language" toon:"language"`
	Visibility      facts.Visibility `json:"visibility" toon:"visibility"`
	Location        facts.Location   `json:"location" toon:"location"`
	Status          Status           `json:"status" toon:"status"`
	Confidence      float64          `json:"confidence" toon:"confidence"`
	ConfidenceLevel ConfidenceLevel  `json:"confidence_level,omitempty" toon:"confidence_level,omitempty"`
	RootReason      RootReason       `json:"root_reason,omitempty" toon:"root_reason,omitempty"`
	Path            []string         `json:"justifying_path" toon:"justifying_path"`
	Unresolved      int              `json:"unresolved_references,omitempty" toon:"unresolved_references,omitempty"`
}

// Summary provides aggregate statistics for a run.
type Summary struct {
	TotalFilesAnalyzed   int                      `json:"total_files_analyzed" toon:"total_files_analyzed"`
	FailedFiles          int                      `json:"failed_files,omitempty" toon:"failed_files,omitempty"`
	CachedFiles          int                      `json:"cached_files,omitempty" toon:"cached_files,omitempty"`
	TotalSymbols         int                      `json:"total_symbols" toon:"total_symbols"`
	TotalRoots           int                      `json:"total_roots" toon:"total_roots"`
	Live                 int                      `json:"live" toon:"live"`
	LiveViaAmbiguous     int                      `json:"live_via_ambiguous" toon:"live_via_ambiguous"`
	Dead                 int                      `json:"dead" toon:"dead"`
	DeadCodePercentage   float64                  `json:"dead_code_percentage" toon:"dead_code_percentage"`
	DeadByKind           map[facts.SymbolKind]int `json:"dead_by_kind,omitempty" toon:"-"`
	ByFile               map[string]int           `json:"by_file,omitempty" toon:"-"`
	TotalReferences      int                      `json:"total_references" toon:"total_references"`
	AmbiguousReferences  int                      `json:"ambiguous_references" toon:"ambiguous_references"`
	UnresolvedReferences int                      `json:"unresolved_references" toon:"unresolved_references"`
	ExternalReferences   int                      `json:"external_references" toon:"external_references"`
	DeadCycles           int                      `json:"dead_cycles,omitempty" toon:"dead_cycles,omitempty"`
	TotalNodesInGraph    int                      `json:"total_nodes_in_graph" toon:"total_nodes_in_graph"`
	ReachableNodes       int                      `json:"reachable_nodes" toon:"reachable_nodes"`
	UnreachableNodes     int                      `json:"unreachable_nodes" toon:"unreachable_nodes"`
}

// NewSummary creates an initialized summary.
func NewSummary() Summary {
	return Summary{
		DeadByKind: make(map[facts.SymbolKind]int),
		ByFile:     make(map[string]int),
	}
}

// CalculatePercentage fills the derived node counts and dead percentage.
func (s *Summary) CalculatePercentage() {
	s.UnreachableNodes = s.TotalNodesInGraph - s.ReachableNodes
	if s.TotalSymbols > 0 {
		s.DeadCodePercentage = float64(s.Dead) / float64(s.TotalSymbols) * 100
	}
}

// Analysis represents the full result of one engine run.
type Analysis struct {
	RunID       string        `json:"run_id" toon:"run_id"`
	Project     string        `json:"project,omitempty" toon:"project,omitempty"`
	GeneratedAt time.Time     `json:"generated_at" toon:"generated_at"`
	Records     []Record      `json:"records" toon:"records"`
	Cycles      [][]string    `json:"dead_cycles,omitempty" toon:"dead_cycles,omitempty"`
	Diagnostics []Diagnostic  `json:"diagnostics" toon:"diagnostics"`
	Summary     Summary       `json:"summary" toon:"summary"`
	Graph       *Graph        `json:"-" toon:"-"`
	Result      *Result       `json:"-" toon:"-"`
	Duration    time.Duration `json:"-" toon:"-"`
}

// Dead returns the dead records.
func (a *Analysis) Dead() []Record {
	return a.filter(StatusDead)
}

// Ambiguous returns the live-via-ambiguous records.
func (a *Analysis) Ambiguous() []Record {
	return a.filter(StatusLiveViaAmbiguous)
}

func (a *Analysis) filter(status Status) []Record {
	var out []Record
	for _, r := range a.Records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// Record looks up the record for a fully qualified name.
func (a *Analysis) Record(fqn string) (Record, bool) {
	for _, r := range a.Records {
		if r.Symbol == fqn {
			return r, true
		}
	}
	return Record{}, false
}

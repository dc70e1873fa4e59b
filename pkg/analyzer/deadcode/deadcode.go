// Package deadcode finds unreachable symbols. Per-file facts from the
// language extractors are merged into one symbol graph, roots are chosen from
// entry point conventions and configuration, and a breadth-first walk from
// the roots splits the graph into live, live-via-ambiguous and dead symbols.
package deadcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/neural-garage/tools/internal/fileproc"
	"github.com/neural-garage/tools/pkg/analyzer"
	"github.com/neural-garage/tools/pkg/extract"
	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
	"github.com/neural-garage/tools/pkg/source"
)

// FactCache stores extracted fact sets by content key.
type FactCache interface {
	Lookup(ctx context.Context, hash string) (*facts.FactSet, bool, error)
	Store(ctx context.Context, hash, project string, fs *facts.FactSet) error
}

// projectToucher is implemented by caches that track per-project recency.
type projectToucher interface {
	Touch(ctx context.Context, project string, hashes []string) error
}

// Analyzer runs the dead code engine over a set of files.
type Analyzer struct {
	roots       RootConfig
	thresholds  ConfidenceThresholds
	cache       FactCache
	registry    *extract.Registry
	src         source.ContentSource
	root        string
	project     string
	maxFileSize int64
	workers     int
	logger      *slog.Logger

	group singleflight.Group
}

// Compile-time check that Analyzer implements analyzer.FileAnalyzer[*Analysis]
var _ analyzer.FileAnalyzer[*Analysis] = (*Analyzer)(nil)

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithRootConfig sets the root selection policy.
func WithRootConfig(cfg RootConfig) Option {
	return func(a *Analyzer) {
		a.roots = cfg
	}
}

// WithConfidenceThresholds sets the dead confidence level thresholds.
func WithConfidenceThresholds(t ConfidenceThresholds) Option {
	return func(a *Analyzer) {
		a.thresholds = t.normalized()
	}
}

// WithCache enables the incremental fact cache.
func WithCache(c FactCache) Option {
	return func(a *Analyzer) {
		a.cache = c
	}
}

// WithRegistry sets the extractors used per language.
func WithRegistry(r *extract.Registry) Option {
	return func(a *Analyzer) {
		a.registry = r
	}
}

// WithSource sets where file content is read from.
func WithSource(src source.ContentSource) Option {
	return func(a *Analyzer) {
		a.src = src
	}
}

// WithRoot sets the project directory. Module names are derived from paths
// relative to it.
func WithRoot(dir string) Option {
	return func(a *Analyzer) {
		a.root = dir
	}
}

// WithProject names the project for cache recency tracking.
func WithProject(name string) Option {
	return func(a *Analyzer) {
		a.project = name
	}
}

// WithMaxFileSize sets the maximum file size to analyze (0 = no limit).
func WithMaxFileSize(maxSize int64) Option {
	return func(a *Analyzer) {
		a.maxFileSize = maxSize
	}
}

// WithWorkers bounds extraction concurrency (0 = 2x NumCPU).
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		a.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates a dead code analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		roots:      DefaultRootConfig(),
		thresholds: DefaultConfidenceThresholds(),
		registry:   extract.DefaultRegistry(),
		src:        source.NewFilesystem(),
		project:    "default",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// extracted is the outcome for one file.
type extracted struct {
	set    *facts.FactSet
	key    string
	cached bool
}

// Analyze extracts facts from files, builds the graph and computes
// reachability. Per-file failures become diagnostics; cancellation and
// internal invariant violations abort the run.
func (a *Analyzer) Analyze(ctx context.Context, files []string) (*Analysis, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := a.logger.With("run_id", runID, "project", a.project)
	log.Debug("extracting facts", "files", len(files))

	sets, diags, cachedFiles, err := a.extractAll(ctx, files, log)
	if err != nil {
		return nil, err
	}

	analysis, err := a.AnalyzeFacts(sets)
	if err != nil {
		return nil, err
	}
	analysis.RunID = runID
	analysis.Diagnostics = append(diags, analysis.Diagnostics...)
	SortDiagnostics(analysis.Diagnostics)
	analysis.Summary.FailedFiles = len(diags)
	analysis.Summary.CachedFiles = cachedFiles
	analysis.Duration = time.Since(start)

	log.Info("dead code analysis complete",
		"files", analysis.Summary.TotalFilesAnalyzed,
		"cached", cachedFiles,
		"failed", len(diags),
		"symbols", analysis.Summary.TotalSymbols,
		"dead", analysis.Summary.Dead,
		"ambiguous", analysis.Summary.LiveViaAmbiguous,
		"duration", analysis.Duration)
	return analysis, nil
}

func (a *Analyzer) extractAll(ctx context.Context, files []string, log *slog.Logger) ([]*facts.FactSet, []Diagnostic, int, error) {
	var memo sync.Map
	opts := fileproc.Options{Workers: a.workers, MaxFileSize: a.maxFileSize}
	results, errs, err := fileproc.MapSources(ctx, files, a.src, opts,
		func(ctx context.Context, path string, content []byte) (extracted, error) {
			return a.extractOne(ctx, path, content, &memo)
		})
	if err != nil {
		return nil, nil, 0, err
	}

	var diags []Diagnostic
	for _, e := range errs.Errors {
		if errors.Is(e.Err, ErrInternalInvariant) {
			return nil, nil, 0, e
		}
		log.Warn("extraction failed", "file", e.Path, "error", e.Err)
		diags = append(diags, Diagnostic{
			Kind:     DiagExtractionFailure,
			Severity: SeverityWarning,
			Message:  e.Err.Error(),
			File:     a.relative(e.Path),
		})
	}

	sets := make([]*facts.FactSet, 0, len(results))
	stored := make(map[string]bool)
	var hits []string
	cached := 0
	for _, r := range results {
		sets = append(sets, r.set)
		if a.cache == nil {
			continue
		}
		if r.cached {
			cached++
			hits = append(hits, r.key)
			continue
		}
		if stored[r.key] {
			continue
		}
		stored[r.key] = true
		if err := a.cache.Store(ctx, r.key, a.project, r.set); err != nil {
			if errors.Is(err, ErrInternalInvariant) {
				return nil, nil, 0, err
			}
			log.Warn("cache store failed", "file", r.set.Path, "error", err)
		}
	}
	if t, ok := a.cache.(projectToucher); ok && len(hits) > 0 {
		if err := t.Touch(ctx, a.project, hits); err != nil {
			log.Warn("cache touch failed", "error", err)
		}
	}
	return sets, diags, cached, nil
}

// extractOne returns the facts for one file from this run's memo, the
// cache, or the extractor, in that order. Identical content is extracted
// once per run.
func (a *Analyzer) extractOne(ctx context.Context, path string, content []byte, memo *sync.Map) (extracted, error) {
	rel := a.relative(path)
	if !a.registry.Supports(rel) {
		return extracted{}, &facts.ExtractionError{Path: rel, Err: facts.ErrUnsupportedLanguage}
	}
	key := ContentKey(string(parser.DetectLanguage(rel)), content)

	if v, ok := memo.Load(key); ok {
		m := v.(memoEntry)
		return extracted{set: m.set.Attach(rel), key: key, cached: m.cached}, nil
	}
	if a.cache != nil {
		fs, ok, err := a.cache.Lookup(ctx, key)
		if err != nil {
			return extracted{}, err
		}
		if ok {
			memo.Store(key, memoEntry{set: fs, cached: true})
			return extracted{set: fs.Attach(rel), key: key, cached: true}, nil
		}
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		if v, ok := memo.Load(key); ok {
			return v, nil
		}
		fs, err := a.registry.Extract(rel, content)
		if err != nil {
			return nil, err
		}
		fs.ContentHash = key
		m := memoEntry{set: fs.Detach()}
		memo.Store(key, m)
		return m, nil
	})
	if err != nil {
		return extracted{}, err
	}
	m := v.(memoEntry)
	return extracted{set: m.set.Attach(rel), key: key, cached: m.cached}, nil
}

// memoEntry is a detached fact set shared by every file with the same content.
type memoEntry struct {
	set    *facts.FactSet
	cached bool
}

// ContentKey is the cache key for content read as language: the BLAKE3 hash
// of the bytes prefixed with the language name.
func ContentKey(language string, content []byte) string {
	sum := blake3.Sum256(content)
	return fmt.Sprintf("%s:%x", language, sum[:])
}

func (a *Analyzer) relative(path string) string {
	if a.root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(a.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// AnalyzeFacts runs the engine over already extracted fact sets.
func (a *Analyzer) AnalyzeFacts(sets []*facts.FactSet) (*Analysis, error) {
	g, diags := Build(sets)
	roots, rootDiags := SelectRoots(g, a.roots)
	diags = append(diags, rootDiags...)

	res, err := Analyze(g, roots)
	if err != nil {
		return nil, err
	}
	res = res.WithThresholds(a.thresholds)
	cycles := DeadCycles(g, res)

	analysis := &Analysis{
		Project:     a.project,
		GeneratedAt: time.Now().UTC(),
		Records:     records(g, res),
		Diagnostics: diags,
		Graph:       g,
		Result:      res,
	}
	SortDiagnostics(analysis.Diagnostics)
	for _, c := range cycles {
		names := make([]string, len(c))
		for i, s := range c {
			names[i] = s.FQN
		}
		analysis.Cycles = append(analysis.Cycles, names)
	}
	analysis.Summary = summarize(g, roots, res, analysis.Records, len(sets), len(cycles))
	return analysis, nil
}

// records converts verdicts into reporter rows ordered by file then line.
// Symbols generated by extractors are left out.
func records(g *Graph, res *Result) []Record {
	out := make([]Record, 0, res.Len())
	for _, e := range res.Entries() {
		s := e.Symbol
		if s.Synthetic() {
			continue
		}
		r := Record{
			Symbol:          s.FQN,
			ID:              s.ID,
			Kind:            s.Kind,
			Language:        s.Language,
			Visibility:      s.Visibility,
			Location:        s.Location,
			Status:          e.Status,
			Confidence:      e.Confidence,
			ConfidenceLevel: e.Level,
			RootReason:      e.RootReason,
			Unresolved:      e.Unresolved,
		}
		if len(e.Path) > 0 {
			r.Path = make([]string, len(e.Path))
			for i, id := range e.Path {
				if sym, ok := g.Lookup(id); ok {
					r.Path[i] = sym.FQN
				}
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Location.File != b.Location.File {
			return a.Location.File < b.Location.File
		}
		if a.Location.Line != b.Location.Line {
			return a.Location.Line < b.Location.Line
		}
		return a.Symbol < b.Symbol
	})
	return out
}

func summarize(g *Graph, roots *RootSet, res *Result, recs []Record, files, cycles int) Summary {
	s := NewSummary()
	s.TotalFilesAnalyzed = files
	s.TotalSymbols = len(recs)
	s.TotalRoots = roots.Len()
	s.TotalNodesInGraph = g.Len()
	s.ReachableNodes = res.ReachableCount()
	s.DeadCycles = cycles
	s.ExternalReferences = g.External
	for _, r := range recs {
		switch r.Status {
		case StatusLive:
			s.Live++
		case StatusLiveViaAmbiguous:
			s.LiveViaAmbiguous++
		case StatusDead:
			s.Dead++
			s.DeadByKind[r.Kind]++
			s.ByFile[r.Location.File]++
		}
	}
	for _, ref := range g.refs {
		s.TotalReferences++
		switch ref.Confidence {
		case EdgeAmbiguous:
			s.AmbiguousReferences++
		case EdgeUnresolved:
			s.UnresolvedReferences++
		}
	}
	s.CalculatePercentage()
	return s
}

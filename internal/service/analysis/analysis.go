// Package analysis runs dead code analysis for a project directory, tying
// configuration, scanning, the fact cache and the engine together.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/neural-garage/tools/internal/cache"
	"github.com/neural-garage/tools/internal/logging"
	"github.com/neural-garage/tools/internal/scanner"
	"github.com/neural-garage/tools/pkg/analyzer/deadcode"
	"github.com/neural-garage/tools/pkg/config"
	"github.com/neural-garage/tools/pkg/source"
)

// ErrNoFiles is returned when a project has no analyzable source files.
var ErrNoFiles = errors.New("no source files found")

// Service orchestrates dead code analysis for one project root.
// A Service may be reused across runs; the fact cache stays open between
// them until Close.
type Service struct {
	root       string
	config     *config.Config
	configPath string
	logger     *slog.Logger
	scanner    *scanner.Scanner

	mu    sync.Mutex
	cache *cache.Cache
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the configuration instead of loading it from the root.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a service for the project at root. Without WithConfig the
// configuration is loaded from the project, falling back to defaults.
func New(root string, opts ...Option) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	s := &Service{root: abs, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	if s.config == nil {
		cfg, path, err := config.LoadOrDefault(abs)
		if err != nil {
			return nil, err
		}
		s.config, s.configPath = cfg, path
	}
	s.scanner = scanner.NewScanner(s.config)
	return s, nil
}

// Root returns the absolute project directory.
func (s *Service) Root() string {
	return s.root
}

// Config returns the configuration in use.
func (s *Service) Config() *config.Config {
	return s.config
}

// ConfigPath returns the file the configuration was loaded from, or "" when
// defaults are in use.
func (s *Service) ConfigPath() string {
	return s.configPath
}

// DeadCodeOptions configures one analysis run.
type DeadCodeOptions struct {
	// Ref analyzes a git revision instead of the working tree.
	Ref string
	// NoCache skips the fact cache for this run.
	NoCache bool
}

// AnalyzeDeadCode scans the project and runs the dead code engine. Progress
// is reported through the analyzer tracker carried by ctx, if any.
func (s *Service) AnalyzeDeadCode(ctx context.Context, opts DeadCodeOptions) (*deadcode.Analysis, error) {
	cfg := s.config
	project := cfg.ProjectName(s.root)
	aopts := []deadcode.Option{
		deadcode.WithRootConfig(cfg.RootConfig()),
		deadcode.WithConfidenceThresholds(cfg.ConfidenceThresholds()),
		deadcode.WithRegistry(s.scanner.Registry()),
		deadcode.WithProject(project),
		deadcode.WithMaxFileSize(cfg.Analysis.MaxFileSize),
		deadcode.WithWorkers(cfg.Analysis.Workers),
		deadcode.WithLogger(s.logger),
	}

	var files []string
	if opts.Ref != "" {
		tree, err := source.OpenTree(s.root, opts.Ref)
		if err != nil {
			return nil, err
		}
		prefix, err := treePrefix(tree.Root(), s.root)
		if err != nil {
			return nil, err
		}
		all, err := tree.Files()
		if err != nil {
			return nil, fmt.Errorf("list files at %s: %w", opts.Ref, err)
		}
		files = s.treeFiles(all, prefix)
		aopts = append(aopts, deadcode.WithSource(tree), deadcode.WithRoot(prefix))
		s.logger.Debug("analyzing revision", "ref", opts.Ref, "commit", tree.Revision(), "prefix", prefix)
	} else {
		found, err := s.scanner.ScanDir(s.root)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.root, err)
		}
		files = found
		aopts = append(aopts, deadcode.WithRoot(s.root))
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	for lang, group := range s.scanner.GroupByLanguage(files) {
		s.logger.Debug("scanned", "language", lang, "files", len(group))
	}

	if cfg.Cache.Enabled && !opts.NoCache {
		c, err := s.openCache(ctx)
		if err != nil {
			s.logger.Warn("fact cache unavailable, continuing without it", "error", err)
		} else {
			aopts = append(aopts, deadcode.WithCache(c))
		}
	}

	analysis, err := deadcode.New(aopts...).Analyze(ctx, files)
	if err != nil {
		return nil, err
	}
	analysis.Project = project
	return analysis, nil
}

// treeFiles keeps the repository paths below prefix that the scanner
// accepts.
func (s *Service) treeFiles(all []string, prefix string) []string {
	rel := make([]string, 0, len(all))
	for _, f := range all {
		switch {
		case prefix == "":
			rel = append(rel, f)
		case strings.HasPrefix(f, prefix+"/"):
			rel = append(rel, strings.TrimPrefix(f, prefix+"/"))
		}
	}
	kept := s.scanner.FilterPaths(rel)
	files := make([]string, len(kept))
	for i, f := range kept {
		files[i] = path.Join(prefix, f)
	}
	return files
}

// treePrefix returns dir relative to the repository root in slash form.
func treePrefix(repoRoot, dir string) (string, error) {
	if repoRoot == "" {
		return "", nil
	}
	if r, err := filepath.EvalSymlinks(repoRoot); err == nil {
		repoRoot = r
	}
	if d, err := filepath.EvalSymlinks(dir); err == nil {
		dir = d
	}
	rel, err := filepath.Rel(repoRoot, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside repository %s", dir, repoRoot)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (s *Service) openCache(ctx context.Context) (*cache.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}
	c, err := cache.Open(ctx, cache.Options{
		Dir:        s.config.CacheDir(s.root),
		MaxEntries: s.config.Cache.MaxEntries,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, err
	}
	s.cache = c
	return c, nil
}

// CacheStats reports on the project's fact cache.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	c, err := s.openCache(ctx)
	if err != nil {
		return cache.Stats{}, err
	}
	return c.Stats(ctx)
}

// ClearCache removes every entry from the project's fact cache.
func (s *Service) ClearCache(ctx context.Context) error {
	c, err := s.openCache(ctx)
	if err != nil {
		return err
	}
	return c.Clear(ctx)
}

// Close releases the fact cache.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return nil
	}
	err := s.cache.Close()
	s.cache = nil
	return err
}

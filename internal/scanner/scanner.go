package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/neural-garage/tools/pkg/config"
	"github.com/neural-garage/tools/pkg/extract"
	"github.com/neural-garage/tools/pkg/parser"
)

// Scanner finds source files the analyzer can extract facts from.
type Scanner struct {
	config   *config.Config
	registry *extract.Registry
	matcher  gitignore.Matcher
	gitRoot  string
	loaded   string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRegistry limits scanning to the languages r supports.
func WithRegistry(r *extract.Registry) Option {
	return func(s *Scanner) {
		if r != nil {
			s.registry = r
		}
	}
}

// NewScanner creates a new file scanner. Languages not listed in the
// config's analysis section are skipped.
func NewScanner(cfg *config.Config, opts ...Option) *Scanner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Scanner{config: cfg, registry: extract.DefaultRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = s.registry.Restrict(cfg.Analysis.Languages)
	return s
}

// Registry returns the extractor registry the scanner filters by.
func (s *Scanner) Registry() *extract.Registry {
	return s.registry
}

// findGitRoot finds the root of the git repository by looking for .git directory.
// Returns empty string if not in a git repository.
func findGitRoot(start string) string {
	dir := start
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadGitignore reads every .gitignore file of the repository containing
// root. Outside a repository root itself is used.
func (s *Scanner) loadGitignore(root string) {
	s.matcher = nil
	s.loaded = root
	if !s.config.Exclude.Gitignore {
		return
	}

	gitRoot := findGitRoot(root)
	if gitRoot == "" {
		gitRoot = root
	}
	patterns, err := gitignore.ReadPatterns(osfs.New(gitRoot), nil)
	if err != nil || len(patterns) == 0 {
		return
	}
	s.gitRoot = gitRoot
	s.matcher = gitignore.NewMatcher(patterns)
}

// ignored reports whether an absolute path matches a .gitignore rule.
func (s *Scanner) ignored(absPath string, isDir bool) bool {
	if s.matcher == nil {
		return false
	}
	rel, err := filepath.Rel(s.gitRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return s.matcher.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
}

// ScanDir recursively scans a directory for source files.
// Uses filepath.WalkDir for better performance (avoids stat calls).
// Validates that all paths stay within the root directory to prevent traversal attacks.
func (s *Scanner) ScanDir(root string) ([]string, error) {
	files := make([]string, 0, 1024)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, err
	}

	s.loadGitignore(absRoot)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, _ := filepath.Rel(root, path)
		absPath := filepath.Join(absRoot, relPath)

		// Security: validate path stays within root (prevent symlink traversal)
		if d.Type()&fs.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !isWithinRoot(resolved, absRoot) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if d.IsDir() {
			if relPath != "." && (s.config.ShouldExclude(relPath) || s.ignored(absPath, true)) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.accept(relPath) && !s.ignored(absPath, false) {
			files = append(files, path)
		}
		return nil
	})

	return files, walkErr
}

// accept applies the config exclusions and the language filter to a
// root-relative path.
func (s *Scanner) accept(relPath string) bool {
	return !s.config.ShouldExclude(relPath) && s.registry.Supports(relPath)
}

// FilterPaths keeps the root-relative paths the analyzer should see. It is
// used for file lists that do not come from a directory walk, such as the
// files of a git revision, so .gitignore rules do not apply.
func (s *Scanner) FilterPaths(paths []string) []string {
	var out []string
	for _, p := range paths {
		if s.accept(p) {
			out = append(out, p)
		}
	}
	return out
}

// isWithinRoot checks if a path is contained within the root directory.
// Returns false if the path escapes via symlinks or relative paths.
func isWithinRoot(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absPath = filepath.Clean(absPath)
	root = filepath.Clean(root)

	// Add separator to prevent "/root2" matching "/root"
	if !strings.HasPrefix(absPath, root+string(filepath.Separator)) && absPath != root {
		return false
	}

	return true
}

// ScanFile checks if a single file below root should be analyzed.
func (s *Scanner) ScanFile(root, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	return s.Relevant(root, path, false), nil
}

// Relevant reports whether path below root passes the exclusion rules,
// .gitignore and the language filter. Directories are checked against the
// exclusion rules only. The filesystem is not consulted for path itself, so
// removed files can be checked too.
func (s *Scanner) Relevant(root, path string, isDir bool) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil || !isWithinRoot(absPath, absRoot) {
		return false
	}
	relPath, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	if s.loaded != absRoot {
		s.loadGitignore(absRoot)
	}

	if isDir {
		return relPath == "." || !(s.config.ShouldExclude(relPath) || s.ignored(absPath, true))
	}
	for dir := filepath.Dir(absPath); isWithinRoot(dir, absRoot) && dir != absRoot; dir = filepath.Dir(dir) {
		if s.ignored(dir, true) {
			return false
		}
	}
	return s.accept(relPath) && !s.ignored(absPath, false)
}

// GroupByLanguage groups files by their detected language.
func (s *Scanner) GroupByLanguage(files []string) map[parser.Language][]string {
	groups := make(map[parser.Language][]string)
	for _, f := range files {
		lang := parser.DetectLanguage(f)
		if lang != parser.LangUnknown {
			groups[lang] = append(groups[lang], f)
		}
	}
	return groups
}

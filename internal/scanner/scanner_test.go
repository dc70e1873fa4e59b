package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/neural-garage/tools/internal/testutil"
	"github.com/neural-garage/tools/pkg/config"
	"github.com/neural-garage/tools/pkg/extract"
	"github.com/neural-garage/tools/pkg/parser"
)

func relPaths(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			t.Fatalf("Rel(%s) error: %v", f, err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
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

func TestNewScanner(t *testing.T) {
	s := NewScanner(nil)
	if s == nil {
		t.Fatal("NewScanner(nil) returned nil")
	}
	if s.config == nil {
		t.Error("scanner.config should not be nil when passing nil")
	}

	cfg := config.DefaultConfig()
	s = NewScanner(cfg)
	if s.config != cfg {
		t.Error("scanner.config should be the provided config")
	}

	cfg.Analysis.Languages = []string{"python"}
	s = NewScanner(cfg)
	if got := s.Registry().Languages(); !equal(got, []string{"python"}) {
		t.Errorf("Registry().Languages() = %v, want [python]", got)
	}
}

func TestScanDir(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		"main.go":          "package main\n",
		"lib_test.go":      "package main\n",
		"util/helper.go":   "package util\n",
		"util/helper.py":   "# python\n",
		"web/app.ts":       "export {}\n",
		"web/view.tsx":     "export {}\n",
		"internal/core.rs": "fn main() {}\n",
		"README.md":        "# readme\n",
	})

	result, err := NewScanner(nil).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}

	want := []string{"lib_test.go", "main.go", "util/helper.go", "util/helper.py", "web/app.ts", "web/view.tsx"}
	if got := relPaths(t, root, result); !equal(got, want) {
		t.Errorf("ScanDir() = %v, want %v", got, want)
	}
}

func TestScanDirRestrictedLanguages(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		"main.go": "package main\n",
		"app.py":  "print()\n",
	})

	cfg := config.DefaultConfig()
	cfg.Analysis.Languages = []string{"go"}

	result, err := NewScanner(cfg).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if got := relPaths(t, root, result); !equal(got, []string{"main.go"}) {
		t.Errorf("ScanDir() = %v, want [main.go]", got)
	}
}

func TestScanDirWithRegistry(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		"main.go": "package main\n",
		"app.py":  "print()\n",
	})

	reg := extract.NewRegistry()
	reg.Register(extract.NewPython())

	result, err := NewScanner(nil, WithRegistry(reg)).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if got := relPaths(t, root, result); !equal(got, []string{"app.py"}) {
		t.Errorf("ScanDir() = %v, want [app.py]", got)
	}
}

func TestScanDirExcludesDirectories(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		"vendor/file.go":            "package x\n",
		"node_modules/pkg/index.js": "module.exports = {}\n",
		".git/hooks/file.py":        "pass\n",
		".bury/plugin.py":           "pass\n",
		"src/__pycache__/mod.py":    "pass\n",
		"main.go":                   "package main\n",
	})

	result, err := NewScanner(nil).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if got := relPaths(t, root, result); !equal(got, []string{"main.go"}) {
		t.Errorf("ScanDir() = %v, want only main.go (excluded dirs should be skipped)", got)
	}
}

func TestScanDirExcludesPatterns(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		"main.go":          "package main\n",
		"app.min.js":       "var a=1\n",
		"types/index.d.ts": "export {}\n",
		"gen/model_gen.go": "package gen\n",
	})

	cfg := config.DefaultConfig()
	cfg.Exclude.Patterns = append(cfg.Exclude.Patterns, "*_gen.go")

	result, err := NewScanner(cfg).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if got := relPaths(t, root, result); !equal(got, []string{"main.go"}) {
		t.Errorf("ScanDir() = %v, want only main.go", got)
	}
}

func TestScanDirWithGitignore(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		".gitignore":          "skipme/\n*.generated.py\n",
		"main.go":             "package main\n",
		"skipme/skip.go":      "package skipme\n",
		"src/app.go":          "package src\n",
		"src/models.py":       "pass\n",
		"src/db.generated.py": "pass\n",
	})

	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = true

	result, err := NewScanner(cfg).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}

	want := []string{"main.go", "src/app.go", "src/models.py"}
	if got := relPaths(t, root, result); !equal(got, want) {
		t.Errorf("ScanDir() = %v, want %v", got, want)
	}
}

func TestScanDirGitignoreFromRepositoryRoot(t *testing.T) {
	repo := t.TempDir()
	if err := os.Mkdir(filepath.Join(repo, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create .git dir: %v", err)
	}
	testutil.CreateFileTree(t, repo, map[string]string{
		".gitignore":                  "services/api/build_out/\n",
		"services/api/main.go":        "package main\n",
		"services/api/build_out/x.go": "package out\n",
	})

	root := filepath.Join(repo, "services", "api")
	result, err := NewScanner(nil).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if got := relPaths(t, root, result); !equal(got, []string{"main.go"}) {
		t.Errorf("ScanDir() = %v, want [main.go]", got)
	}
}

func TestScanDirDisabledGitignore(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		".gitignore":      "ignored/\n",
		"ignored/file.go": "package x\n",
	})

	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = false

	result, err := NewScanner(cfg).ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if got := relPaths(t, root, result); !equal(got, []string{"ignored/file.go"}) {
		t.Errorf("With gitignore disabled, should find files in 'ignored' directory, got %v", got)
	}
}

func TestScanDirEmptyDirectory(t *testing.T) {
	result, err := NewScanner(nil).ScanDir(t.TempDir())
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("ScanDir() on empty dir returned %d files, want 0", len(result))
	}
}

func TestScanFile(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		".gitignore":       "tmp/\n",
		"main.go":          "package main\n",
		"script.py":        "# python\n",
		"readme.txt":       "hello\n",
		"vendor/lib.go":    "package lib\n",
		"tmp/scratch.py":   "pass\n",
		"pkg/deep/util.go": "package deep\n",
	})

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"go file", "main.go", true},
		{"python file", "script.py", true},
		{"nested file", "pkg/deep/util.go", true},
		{"text file", "readme.txt", false},
		{"excluded dir", "vendor/lib.go", false},
		{"gitignored dir", "tmp/scratch.py", false},
		{"directory", "pkg", false},
	}

	s := NewScanner(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ScanFile(root, filepath.Join(root, tt.path))
			if err != nil {
				t.Fatalf("ScanFile() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ScanFile(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	t.Run("outside root", func(t *testing.T) {
		other := t.TempDir()
		testutil.WriteFile(t, filepath.Join(other, "x.py"), "pass\n")
		got, err := s.ScanFile(root, filepath.Join(other, "x.py"))
		if err != nil {
			t.Fatalf("ScanFile() error: %v", err)
		}
		if got {
			t.Error("ScanFile() should reject files outside the root")
		}
	})
}

func TestRelevant(t *testing.T) {
	root := t.TempDir()
	testutil.CreateFileTree(t, root, map[string]string{
		".gitignore": "build-out/\n*.gen.py\n",
		"keep.py":    "pass\n",
	})

	tests := []struct {
		name  string
		path  string
		isDir bool
		want  bool
	}{
		{"removed source file", "gone.py", false, true},
		{"removed file in new dir", "pkg/new/mod.ts", false, true},
		{"unsupported extension", "notes.md", false, false},
		{"gitignored file", "types.gen.py", false, false},
		{"file under gitignored dir", "build-out/x.py", false, false},
		{"excluded dir", "node_modules", true, false},
		{"gitignored dir", "build-out", true, false},
		{"plain dir", "src", true, true},
		{"root", ".", true, true},
	}

	s := NewScanner(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Relevant(root, filepath.Join(root, tt.path), tt.isDir); got != tt.want {
				t.Errorf("Relevant(%s, dir=%v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
			}
		})
	}

	if s.Relevant(root, filepath.Join(t.TempDir(), "x.py"), false) {
		t.Error("Relevant() should reject paths outside the root")
	}
}

func TestScanFileNonExistent(t *testing.T) {
	s := NewScanner(nil)
	_, err := s.ScanFile("/nonexistent", "/nonexistent/path/file.go")
	if err == nil {
		t.Error("ScanFile() should return error for non-existent file")
	}
}

func TestFilterPaths(t *testing.T) {
	paths := []string{
		"cmd/app/main.go",
		"vendor/dep/dep.go",
		"scripts/tool.py",
		"docs/index.md",
		"web/dist.min.js",
	}

	got := NewScanner(nil).FilterPaths(paths)
	want := []string{"cmd/app/main.go", "scripts/tool.py"}
	if !equal(got, want) {
		t.Errorf("FilterPaths() = %v, want %v", got, want)
	}

	if got := NewScanner(nil).FilterPaths(nil); got != nil {
		t.Errorf("FilterPaths(nil) = %v, want nil", got)
	}
}

func TestGroupByLanguage(t *testing.T) {
	files := []string{
		"/path/to/main.go",
		"/path/to/lib.go",
		"/path/to/script.py",
		"/path/to/app.ts",
		"/path/to/readme.txt", // Unknown language
	}

	s := NewScanner(nil)
	groups := s.GroupByLanguage(files)

	if len(groups[parser.LangGo]) != 2 {
		t.Errorf("GroupByLanguage()[Go] has %d files, want 2", len(groups[parser.LangGo]))
	}
	if len(groups[parser.LangPython]) != 1 {
		t.Errorf("GroupByLanguage()[Python] has %d files, want 1", len(groups[parser.LangPython]))
	}
	if len(groups[parser.LangTypeScript]) != 1 {
		t.Errorf("GroupByLanguage()[TypeScript] has %d files, want 1", len(groups[parser.LangTypeScript]))
	}
	if _, ok := groups[parser.LangUnknown]; ok {
		t.Error("GroupByLanguage() should not include LangUnknown")
	}

	if len(s.GroupByLanguage(nil)) != 0 {
		t.Error("GroupByLanguage(nil) should return empty map")
	}
}

func TestIsWithinRoot(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		path string
		root string
		want bool
	}{
		{"same path", tmpDir, tmpDir, true},
		{"child path", filepath.Join(tmpDir, "subdir", "file.go"), tmpDir, true},
		{"path outside root", "/some/other/path", tmpDir, false},
		{"parent path", filepath.Dir(tmpDir), tmpDir, false},
		{"similar prefix but different dir", tmpDir + "2/file.go", tmpDir, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isWithinRoot(tt.path, tt.root)
			if got != tt.want {
				t.Errorf("isWithinRoot(%q, %q) = %v, want %v", tt.path, tt.root, got, tt.want)
			}
		})
	}
}

func TestFindGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	if result := findGitRoot(tmpDir); result != "" {
		t.Errorf("findGitRoot() on non-git dir should return empty string, got %q", result)
	}

	if err := os.Mkdir(filepath.Join(tmpDir, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create .git dir: %v", err)
	}
	if result := findGitRoot(tmpDir); result != tmpDir {
		t.Errorf("findGitRoot() should return %q, got %q", tmpDir, result)
	}

	subDir := filepath.Join(tmpDir, "src", "pkg")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if result := findGitRoot(subDir); result != tmpDir {
		t.Errorf("findGitRoot() from subdir should return %q, got %q", tmpDir, result)
	}
}

func TestScanDirWithUnresolvableSymlink(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.Symlink("/nonexistent/path/file.go", filepath.Join(tmpDir, "dangling.go")); err != nil {
		t.Skip("Symlinks not supported on this system")
	}
	testutil.WriteFile(t, filepath.Join(tmpDir, "real.go"), "package main\n")

	result, err := NewScanner(nil).ScanDir(tmpDir)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("ScanDir() should find 1 file (skipping dangling symlink), got %d", len(result))
	}
}

func TestScanDirWithSymlinkDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(tmpDir, "real", "file.go"), "package real\n")

	outsideDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(outsideDir, "outside.go"), "package outside\n")

	if err := os.Symlink(outsideDir, filepath.Join(tmpDir, "linked")); err != nil {
		t.Skip("Symlinks not supported on this system")
	}

	result, err := NewScanner(nil).ScanDir(tmpDir)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}

	for _, f := range result {
		if filepath.Base(f) == "outside.go" {
			t.Error("ScanDir() should not follow symlinks outside the root directory")
		}
	}
}

// Package testutil holds helpers for tests that need a project on disk.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll(%s) error: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
}

// CreateFileTree creates files from a map of relative path -> content under
// root and returns their absolute paths in sorted order.
func CreateFileTree(t *testing.T, root string, files map[string]string) []string {
	t.Helper()
	paths := make([]string, 0, len(files))
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		WriteFile(t, path, content)
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Project creates a project in a fresh temporary directory and returns the
// directory and the sorted file paths.
func Project(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	return root, CreateFileTree(t, root, files)
}

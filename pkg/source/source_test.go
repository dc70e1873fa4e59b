package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(path, []byte("def main(): pass\n"), 0o644))

	src := NewFilesystem()
	content, err := src.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "def main(): pass\n", string(content))

	_, err = src.Read(filepath.Join(dir, "nonexistent.py"))
	assert.Error(t, err)
}

// initRepo creates a repository with one commit holding files.
func initRepo(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestTreeSource(t *testing.T) {
	dir, hash := initRepo(t, map[string]string{
		"app.py":       "def main(): pass\n",
		"pkg/util.py":  "def helper(): pass\n",
		"web/index.ts": "export function render() {}\n",
	})

	src, err := OpenTree(dir, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, hash, src.Revision())

	wantRoot, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(src.Root())
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	content, err := src.Read("pkg/util.py")
	require.NoError(t, err)
	assert.Equal(t, "def helper(): pass\n", string(content))

	files, err := src.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"app.py", "pkg/util.py", "web/index.ts"}, files)

	_, err = src.Read("missing.py")
	assert.Error(t, err)
}

func TestTreeSource_ReadsCommittedContent(t *testing.T) {
	dir, hash := initRepo(t, map[string]string{"app.py": "committed\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("edited\n"), 0o644))

	src, err := OpenTree(dir, hash)
	require.NoError(t, err)
	content, err := src.Read("app.py")
	require.NoError(t, err)
	assert.Equal(t, "committed\n", string(content))
}

func TestOpenTree_BadRevision(t *testing.T) {
	dir, _ := initRepo(t, map[string]string{"app.py": "x = 1\n"})
	_, err := OpenTree(dir, "no-such-branch")
	assert.Error(t, err)
}

func TestContentSourceImplementations(t *testing.T) {
	var _ ContentSource = (*FilesystemSource)(nil)
	var _ ContentSource = (*TreeSource)(nil)
}

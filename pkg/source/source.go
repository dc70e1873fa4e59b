// Package source provides file content from the working tree or from a git
// revision.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ContentSource provides file content from a specific source.
type ContentSource interface {
	// Read returns the content of the file at path.
	Read(path string) ([]byte, error)
}

// FilesystemSource reads files from the local filesystem.
type FilesystemSource struct{}

// NewFilesystem creates a source that reads from the filesystem.
func NewFilesystem() *FilesystemSource {
	return &FilesystemSource{}
}

// Read implements ContentSource.
func (f *FilesystemSource) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// TreeSource reads files from a git tree. Paths are slash separated and
// relative to the repository root.
// It is safe for concurrent use by multiple goroutines.
type TreeSource struct {
	tree *object.Tree
	hash plumbing.Hash
	root string
	mu   sync.Mutex
}

// NewTree creates a source that reads from a git tree.
func NewTree(tree *object.Tree) *TreeSource {
	return &TreeSource{tree: tree, hash: tree.Hash}
}

// OpenTree resolves rev (a branch, tag or commit hash) in the repository
// containing dir and returns a source over that commit's tree.
func OpenTree(dir, rev string) (*TreeSource, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		// fresh clones only carry remote-tracking refs for other branches
		if h, rerr := repo.ResolveRevision(plumbing.Revision("refs/remotes/origin/" + rev)); rerr == nil {
			hash, err = h, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", hash, err)
	}
	root := dir
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &TreeSource{tree: tree, hash: *hash, root: root}, nil
}

// Root returns the repository's working directory. Tree paths are relative
// to it. It is empty for sources built from a bare tree.
func (t *TreeSource) Root() string {
	return t.root
}

// Revision returns the resolved commit hash, or the tree hash when the source
// was built from a bare tree.
func (t *TreeSource) Revision() string {
	return t.hash.String()
}

// Read implements ContentSource.
// It is safe for concurrent use.
func (t *TreeSource) Read(path string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.tree.File(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", path, t.Revision(), err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Files lists every regular file in the tree, sorted.
func (t *TreeSource) Files() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var files []string
	err := t.tree.Files().ForEach(func(f *object.File) error {
		if f.Mode.IsFile() {
			files = append(files, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

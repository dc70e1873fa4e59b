// Package remote resolves repository references such as owner/repo@ref and
// clones them for analysis.
package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Source is a remote repository to analyze.
type Source struct {
	URL      string // normalized git URL
	Ref      string // branch, tag, or SHA (empty = default branch)
	CloneDir string // temp directory after clone
}

// Parse detects whether path names a remote repository. It returns nil when
// path exists on disk or does not look like a repository reference.
func Parse(path string) (*Source, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, nil
	}

	ref := ""
	if !strings.HasPrefix(path, "git@") || strings.Count(path, "@") > 1 {
		if idx := strings.LastIndex(path, "@"); idx != -1 {
			ref = path[idx+1:]
			path = path[:idx]
			if ref == "" {
				return nil, fmt.Errorf("empty ref in %q", path+"@")
			}
		}
	}

	switch {
	case strings.HasPrefix(path, "git@"):
		return &Source{URL: path, Ref: ref}, nil
	case strings.HasPrefix(path, "https://"), strings.HasPrefix(path, "http://"):
		return &Source{URL: path, Ref: ref}, nil
	case isHostPath(path):
		return &Source{URL: "https://" + path, Ref: ref}, nil
	case isGitHubShorthand(path):
		return &Source{URL: "https://github.com/" + path, Ref: ref}, nil
	}
	return nil, nil
}

// isGitHubShorthand reports whether path matches owner/repo.
func isGitHubShorthand(path string) bool {
	slashIdx := strings.Index(path, "/")
	if slashIdx == -1 || strings.Count(path, "/") != 1 {
		return false
	}
	// a dot before the slash names a host
	if strings.Contains(path[:slashIdx], ".") {
		return false
	}
	return slashIdx > 0 && slashIdx < len(path)-1
}

// isHostPath reports whether path looks like host.tld/owner/repo.
func isHostPath(path string) bool {
	parts := strings.Split(path, "/")
	host := parts[0]
	if len(parts) < 3 || !strings.Contains(host, ".") || strings.HasPrefix(host, ".") {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Clone clones the repository into a fresh temporary directory and records
// it in CloneDir. Clone progress is written to progress when it is non-nil.
// A shallow clone only fetches the default branch tip, so it is refused
// together with a ref.
func (s *Source) Clone(ctx context.Context, progress io.Writer, shallow bool) error {
	if shallow && s.Ref != "" {
		return fmt.Errorf("shallow clone cannot resolve ref %q", s.Ref)
	}

	dir, err := os.MkdirTemp("", "bury-clone-*")
	if err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}

	opts := &git.CloneOptions{
		URL:      s.URL,
		Progress: progress,
	}
	if shallow {
		opts.Depth = 1
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("clone %s: %w", s.URL, err)
	}
	s.CloneDir = dir
	return nil
}

// Cleanup removes the clone directory.
func (s *Source) Cleanup() error {
	if s.CloneDir == "" {
		return nil
	}
	err := os.RemoveAll(s.CloneDir)
	s.CloneDir = ""
	return err
}

// String returns the URL with the ref, as the user would write it.
func (s *Source) String() string {
	if s.Ref == "" {
		return s.URL
	}
	return s.URL + "@" + s.Ref
}

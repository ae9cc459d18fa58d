// Package gitops versions a workspace with the git binary.
package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repo is a git working tree committed to under a fixed identity.
type Repo struct {
	Dir         string
	AuthorName  string
	AuthorEmail string
}

// New returns a Repo rooted at dir.
func New(dir, authorName, authorEmail string) *Repo {
	return &Repo{Dir: dir, AuthorName: authorName, AuthorEmail: authorEmail}
}

// IsRepo reports whether dir holds a git repository.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// Init initializes a new git repository in r.Dir.
func (r *Repo) Init(ctx context.Context) error {
	if out, err := r.git(ctx, "init", "--quiet"); err != nil {
		return fmt.Errorf("git init: %s: %w", out, err)
	}
	return nil
}

// HasChanges reports whether the working tree differs from HEAD.
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %s: %w", out, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages all files and creates a commit. It returns the short
// commit hash, or "" when there was nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (string, error) {
	if out, err := r.git(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %s: %w", out, err)
	}

	changed, err := r.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !changed {
		return "", nil
	}

	author := fmt.Sprintf("%s <%s>", r.AuthorName, r.AuthorEmail)
	if out, err := r.git(ctx, "commit", "--quiet", "-m", message, "--author", author); err != nil {
		return "", fmt.Errorf("git commit: %s: %w", out, err)
	}

	out, err := r.git(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %s: %w", out, err)
	}
	return strings.TrimSpace(out), nil
}

// git runs a git subcommand in r.Dir. The committer identity follows the
// author so commits work on machines without a global git config.
func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(),
		"GIT_COMMITTER_NAME="+r.AuthorName,
		"GIT_COMMITTER_EMAIL="+r.AuthorEmail,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

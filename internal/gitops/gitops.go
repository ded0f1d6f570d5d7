// Package gitops versions a ledger project directory with git. Closing a
// period commits the config, chart and audit trail as they stood.
package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Author signs commits.
type Author struct {
	Name  string
	Email string
}

func (a Author) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Init initializes a git repository at dir.
func Init(ctx context.Context, dir string) error {
	if _, err := run(ctx, dir, "init", "--quiet"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	return nil
}

// CommitAll stages everything under dir and commits it. It returns the
// short hash of the new commit, or "" when there was nothing to commit.
func CommitAll(ctx context.Context, dir, message string, author Author) (string, error) {
	if _, err := run(ctx, dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}

	status, err := run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	if status == "" {
		return "", nil
	}

	// Identity via -c so commits work on machines without a global git config.
	if _, err := run(ctx, dir,
		"-c", "user.name="+author.Name, "-c", "user.email="+author.Email,
		"commit", "--quiet", "-m", message, "--author", author.String()); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}

	hash, err := run(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return hash, nil
}

// IsRepo reports whether dir is the root of a git repository.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Package gitdiff produces the unified diff between two refs of a repository
// by driving the git CLI.
package gitdiff

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ErrUnknownRef means a ref exists neither as a remote branch nor as a
// local name or commit. Retrying cannot help.
var ErrUnknownRef = errors.New("unknown ref")

// Provider produces the diff text between base and head of repo.
type Provider interface {
	GenerateDiff(ctx context.Context, repo, base, head string) (string, error)
}

// CLI shells out to git. Each call clones into its own temporary directory,
// so concurrent calls never share a work tree.
type CLI struct {
	Binary string // defaults to "git" on PATH
	TmpDir string // parent of the clone directories; os.TempDir when empty
	Log    *zap.Logger
}

// GenerateDiff clones repo with full history, resolves each ref as
// origin/<ref> first and then as given, and runs git diff base head.
func (c *CLI) GenerateDiff(ctx context.Context, repo, base, head string) (string, error) {
	for _, ref := range []string{base, head} {
		if strings.HasPrefix(ref, "-") {
			return "", fmt.Errorf("%w: %q looks like an option", ErrUnknownRef, ref)
		}
	}
	dir, err := os.MkdirTemp(c.TmpDir, "opuspipe-diff-")
	if err != nil {
		return "", fmt.Errorf("create clone dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if _, err := c.git(ctx, "", "clone", "--quiet", "--no-checkout", "--", repo, dir); err != nil {
		return "", fmt.Errorf("clone %s: %w", repo, err)
	}
	baseRev, err := c.resolve(ctx, dir, base)
	if err != nil {
		return "", err
	}
	headRev, err := c.resolve(ctx, dir, head)
	if err != nil {
		return "", err
	}
	out, err := c.git(ctx, dir, "diff", baseRev, headRev)
	if err != nil {
		return "", fmt.Errorf("diff %s..%s: %w", base, head, err)
	}
	c.logger().Debug("diff generated",
		zap.String("repo", repo), zap.String("base", base), zap.String("head", head), zap.Int("bytes", len(out)))
	return out, nil
}

func (c *CLI) resolve(ctx context.Context, dir, ref string) (string, error) {
	for _, candidate := range []string{"origin/" + ref, ref} {
		out, err := c.git(ctx, dir, "rev-parse", "--verify", "--quiet", candidate+"^{commit}")
		if err == nil {
			return strings.TrimSpace(out), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
}

func (c *CLI) git(ctx context.Context, dir string, args ...string) (string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s: %w", args[0], firstLine(msg), err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func (c *CLI) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Stats counts what a unified diff touches.
type Stats struct {
	FilesChanged int
	LinesAdded   int
	LinesDeleted int
}

// Summary renders the stats as "N files changed, +A/-D lines".
func (s Stats) Summary() string {
	return fmt.Sprintf("%d files changed, +%d/-%d lines", s.FilesChanged, s.LinesAdded, s.LinesDeleted)
}

// Analyze counts "diff --git" headers as files and +/- lines inside hunks.
// The ---/+++ markers of a file header are not counted.
func Analyze(diff string) Stats {
	var s Stats
	inHunk := false
	sc := bufio.NewScanner(strings.NewReader(diff))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "diff --git "):
			s.FilesChanged++
			inHunk = false
		case strings.HasPrefix(line, "@@"):
			inHunk = true
		case !inHunk:
		case strings.HasPrefix(line, "+"):
			s.LinesAdded++
		case strings.HasPrefix(line, "-"):
			s.LinesDeleted++
		}
	}
	return s
}

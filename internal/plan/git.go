package plan

import (
	"context"
	"os/exec"
	"sort"
	"strings"
)

// Git is the snapshot/revert surface the phase engine needs. The fake
// used by tests implements the same interface.
type Git interface {
	Available() bool

	// ChangedFiles returns the union of unstaged, staged, and untracked
	// files.
	ChangedFiles(ctx context.Context) ([]string, error)

	// UntrackedFiles returns only the untracked set.
	UntrackedFiles(ctx context.Context) ([]string, error)

	Checkout(ctx context.Context, files ...string) error
	Clean(ctx context.Context, files ...string) error
	CheckoutAll(ctx context.Context) error
	CleanAll(ctx context.Context) error

	Add(ctx context.Context, files []string) error
	Commit(ctx context.Context, message string) (string, error)
}

// ExecGit shells out to git in Dir.
type ExecGit struct {
	Dir string
}

func (g *ExecGit) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	return strings.TrimSpace(string(out)), err
}

// Available reports whether Dir is inside a git work tree.
func (g *ExecGit) Available() bool {
	out, err := g.run(context.Background(), "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func (g *ExecGit) ChangedFiles(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, args := range [][]string{
		{"diff", "--name-only"},
		{"diff", "--staged", "--name-only"},
		{"ls-files", "--others", "--exclude-standard"},
	} {
		out, err := g.run(ctx, args...)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				seen[line] = true
			}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func (g *ExecGit) UntrackedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (g *ExecGit) Checkout(ctx context.Context, files ...string) error {
	_, err := g.run(ctx, append([]string{"checkout", "--"}, files...)...)
	return err
}

func (g *ExecGit) Clean(ctx context.Context, files ...string) error {
	_, err := g.run(ctx, append([]string{"clean", "-f", "--"}, files...)...)
	return err
}

func (g *ExecGit) CheckoutAll(ctx context.Context) error {
	_, err := g.run(ctx, "checkout", ".")
	return err
}

func (g *ExecGit) CleanAll(ctx context.Context) error {
	_, err := g.run(ctx, "clean", "-fd")
	return err
}

func (g *ExecGit) Add(ctx context.Context, files []string) error {
	_, err := g.run(ctx, append([]string{"add", "--"}, files...)...)
	return err
}

func (g *ExecGit) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "--short", "HEAD")
}

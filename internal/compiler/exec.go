package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

// GitFetcher clones a repository and checks out a pinned commit using the
// git CLI.
type GitFetcher struct{}

func NewGitFetcher() *GitFetcher {
	return &GitFetcher{}
}

func (g *GitFetcher) Fetch(ctx context.Context, repo, commit, dest string) error {
	canonical, err := NormalizeRepoURL(repo)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSourceFetchFailed, err)
	}
	cloneURL := "https://" + canonical

	clone := exec.CommandContext(ctx, "git", "clone", "--quiet", "--no-checkout", cloneURL, dest)
	var cloneErr bytes.Buffer
	clone.Stderr = &cloneErr
	if err := clone.Run(); err != nil {
		return fmt.Errorf("%w: clone %s: %v", errs.ErrSourceFetchFailed, canonical, err)
	}

	checkout := exec.CommandContext(ctx, "git", "-C", dest, "checkout", "--quiet", commit)
	var checkoutErr bytes.Buffer
	checkout.Stderr = &checkoutErr
	if err := checkout.Run(); err != nil {
		return fmt.Errorf("%w: commit %s", errs.ErrSourceNotFound, commit)
	}
	return nil
}

// CargoToolchain builds Rust workspaces to WASM with a pinned compiler. The
// pinned version participates in the artifact fingerprint, and the build is
// run with locked dependencies and a fixed source epoch so the same inputs
// produce byte-identical output.
type CargoToolchain struct {
	version string
}

func NewCargoToolchain(version string) *CargoToolchain {
	return &CargoToolchain{version: version}
}

func (t *CargoToolchain) Version() string {
	return t.version
}

func (t *CargoToolchain) Build(ctx context.Context, workspace, target string) ([]byte, string, error) {
	if target == "" {
		target = "wasm32-wasip1"
	}

	cmd := exec.CommandContext(ctx, "cargo", "build", "--release", "--locked", "--target", target)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(),
		"SOURCE_DATE_EPOCH=0",
		"CARGO_INCREMENTAL=0",
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return nil, output.String(), fmt.Errorf("cargo build: %w", err)
	}

	data, err := findWasmOutput(filepath.Join(workspace, "target", target, "release"))
	if err != nil {
		return nil, output.String(), err
	}
	return data, output.String(), nil
}

func findWasmOutput(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read build output dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".wasm") {
			return os.ReadFile(filepath.Join(dir, e.Name()))
		}
	}
	return nil, fmt.Errorf("no .wasm produced in %s", dir)
}

// Package gitrepo inspects the local git working copy the tool runs inside:
// repository root discovery and ref naming for manifest storage keys.
package gitrepo

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Root returns the repository root containing dir, walking upward until a
// .git directory is found.
func Root(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("opening git repository from %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("resolving worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// CurrentRef returns a storage-safe name for the checked-out ref: the branch
// name when on a branch, otherwise the short commit hash. Slashes in branch
// names are flattened so the ref can serve as a single key segment.
func CurrentRef(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("opening git repository from %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return strings.ReplaceAll(head.Name().Short(), "/", "-"), nil
	}
	return head.Hash().String()[:8], nil
}

// CurrentCommit returns the full hash of the checked-out commit.
func CurrentCommit(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("opening git repository from %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// DefaultBranch returns the remote origin's default branch, falling back to
// "main" when the remote or its HEAD reference cannot be read.
func DefaultBranch(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "main"
	}
	ref, err := repo.Reference(plumbing.NewRemoteHEADReferenceName("origin"), true)
	if err != nil {
		return "main"
	}
	name := ref.Name().Short()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "main"
	}
	return name
}

// internal/gitops/inspector.go
package gitops

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// BranchInfo describes a local branch.
type BranchInfo struct {
	Name       string
	Hash       string
	CommitTime time.Time
}

// Inspector answers read-only questions about the repository without shelling
// out, using go-git.
type Inspector struct {
	repo *git.Repository
}

// OpenInspector opens the repository containing dir.
func OpenInspector(dir string) (*Inspector, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return &Inspector{repo: repo}, nil
}

// BranchExists reports whether a local branch called name exists.
func (i *Inspector) BranchExists(name string) (bool, error) {
	_, err := i.repo.Reference(plumbing.NewBranchReferenceName(name), false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve branch %s: %w", name, err)
	}
	return true, nil
}

// ListBranches returns local branches whose name starts with prefix, oldest
// commit first.
func (i *Inspector) ListBranches(prefix string) ([]BranchInfo, error) {
	iter, err := i.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer iter.Close()

	var out []BranchInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info := BranchInfo{Name: name, Hash: ref.Hash().String()}
		if commit, err := i.repo.CommitObject(ref.Hash()); err == nil {
			info.CommitTime = commit.Committer.When
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(a, b int) bool { return out[a].CommitTime.Before(out[b].CommitTime) })
	return out, nil
}

// Head returns the hash and short branch name of HEAD.
func (i *Inspector) Head() (hash, branch string, err error) {
	ref, err := i.repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return ref.Hash().String(), branch, nil
}

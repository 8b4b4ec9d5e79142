package qfetch

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/quillml/quill/pkg/qerr"
)

// fetchRepo clones a version-controlled reference into a fresh temporary
// directory and checks out the requested version, which may name a branch,
// a tag, or a commit id. With no version the clone stays at the default
// branch tip.
func (f *Fetcher) fetchRepo(ctx context.Context, url, version string) (*Fetched, error) {
	tmp, err := tempProjectDir()
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainCloneContext(ctx, tmp, false, &git.CloneOptions{
		URL: url,
	})
	if err != nil {
		os.RemoveAll(tmp)
		return nil, qerr.Executionf("unable to clone project repository %s: %v", url, err)
	}

	fetched := &Fetched{Root: tmp, Temporary: true, RepoURL: url}

	if version != "" {
		if err := checkoutVersion(repo, version); err != nil {
			os.RemoveAll(tmp)
			return nil, err
		}
		if isBranch(repo, version) {
			fetched.Branch = version
		}
	} else if head, headErr := repo.Head(); headErr == nil && head.Name().IsBranch() {
		fetched.Branch = head.Name().Short()
	}

	return fetched, nil
}

func checkoutVersion(repo *git.Repository, version string) error {
	hash, err := resolveVersion(repo, version)
	if err != nil {
		return qerr.Executionf("unable to checkout version '%s': %v", version, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return qerr.Executionf("unable to checkout version '%s': %v", version, err)
	}
	return nil
}

// resolveVersion maps a branch, tag, or commit id to a commit hash. Branch
// names are tried against the cloned remote first since a fresh clone only
// materializes the default branch locally.
func resolveVersion(repo *git.Repository, version string) (*plumbing.Hash, error) {
	for _, rev := range []string{
		version,
		"refs/remotes/origin/" + version,
		"refs/tags/" + version,
	} {
		if hash, err := repo.ResolveRevision(plumbing.Revision(rev)); err == nil {
			return hash, nil
		}
	}
	return nil, fmt.Errorf("no branch, tag, or commit matches %q", version)
}

func isBranch(repo *git.Repository, version string) bool {
	if _, err := repo.Reference(plumbing.NewBranchReferenceName(version), true); err == nil {
		return true
	}
	_, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", version), true)
	return err == nil
}

// Package execd implements the Executor: the single mutator that applies
// an ActionPlan in order under an advisory lock, taking a pre-mutation
// snapshot, stopping immediately on the first failure, and never
// auto-resolving a conflict.
package execd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/plan"
	"github.com/stackforge/gitstack/snapshot"
)

// Lock is an advisory, process-exclusive lock over a repository's stack
// metadata directory, implemented as an O_EXCL lock file in the style of
// git's own index.lock: whichever process creates the file first owns it,
// and a second invocation finding it already present reports RepoBusy
// rather than blocking.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates the lock file at path, returning *errs.RepoBusy if
// another invocation already holds it.
func Acquire(path string) (*Lock, error) {
	//nolint:gosec // lock file content is just the holder's pid, not sensitive
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &errs.RepoBusy{LockPath: path}
		}
		return nil, fmt.Errorf("acquiring lock at %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &Lock{path: path, file: f}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing lock file: %w", err)
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("removing lock file %s: %w", l.path, err)
	}
	return nil
}

// LockPath returns the path the executor should lock at for a given git
// directory.
func LockPath(gitDir string) string {
	return filepath.Join(gitDir, "gitstack", "stack.lock")
}

// bindings tracks the symbolic commit-id variables a plan's RewriteCommit
// steps produce, so later steps (MoveBranch, further RewriteCommit
// NewParent references) can resolve them to concrete ids.
type bindings map[string]gitrepo.CommitID

func (b bindings) resolve(ref string) gitrepo.CommitID {
	if id, ok := b[ref]; ok {
		return id
	}
	return gitrepo.CommitID(ref)
}

// Result reports what happened for one Apply call.
type Result struct {
	Applied       int
	PreSnapshot   *snapshot.Snapshot
	PostSnapshot  *snapshot.Snapshot
	ConflictAt    *errs.Conflict
}

// Apply runs p's actions against repo in order, persisting snapshots to
// store. On dry-run plans, Apply renders the plan without touching the
// repository or store. On failure, Apply stops immediately: branch moves
// already applied are preserved (not rolled back in-process), the
// pre-mutation snapshot remains available for an external `undo`
// collaborator to restore from, and the original working tree state is
// left as git's own checkout left it at the failure point.
func Apply(ctx context.Context, repo *gitrepo.Repo, p *plan.ActionPlan, store snapshot.Store, now time.Time) (*Result, error) {
	if p.DryRun {
		return &Result{}, nil
	}

	res := &Result{}
	binds := bindings{}

	for _, action := range p.Actions {
		if err := ctx.Err(); err != nil {
			return res, err // cancellation checked between actions, never mid-action
		}

		switch action.Kind {
		case plan.ActionSnapshot:
			snap, err := snapshot.CaptureCurrentState(repo, action.SnapshotLabel, now)
			if err != nil {
				return res, fmt.Errorf("capturing snapshot %q: %w", action.SnapshotLabel, err)
			}
			if err := store.Write(snap); err != nil {
				return res, fmt.Errorf("writing snapshot %q: %w", action.SnapshotLabel, err)
			}
			if action.SnapshotLabel == "pre" {
				res.PreSnapshot = &snap
			} else {
				res.PostSnapshot = &snap
			}

		case plan.ActionFetch:
			if err := repo.Fetch(ctx, action.Remote, action.Prune); err != nil {
				return res, err
			}

		case plan.ActionFastForwardBranch:
			remoteTip, err := repo.RemoteTrackingTip(action.Remote, action.Branch)
			if err != nil {
				return res, err
			}
			local, err := repo.Resolve(action.Branch)
			if err != nil {
				return res, err
			}
			if local != remoteTip {
				reachable, err := repo.ReachableFrom(remoteTip, local)
				if err != nil {
					return res, err
				}
				if !reachable {
					return res, &errs.NotFastForward{Branch: action.Branch, Remote: action.Remote, Expected: string(local), Actual: string(remoteTip)}
				}
				if err := repo.SetBranch(action.Branch, remoteTip); err != nil {
					return res, err
				}
			}
			binds[action.ResultVar] = remoteTip

		case plan.ActionRewriteCommit, plan.ActionRebase:
			newParent := binds.resolve(string(action.NewParent))
			newID, err := repo.Rewrite(action.SourceCommit, gitrepo.RewriteOptions{
				NewParent: newParent,
				NewTree:   action.NewTree,
				Message:   action.Message,
			})
			if err != nil {
				var conflict *errs.Conflict
				if asConflict(err, &conflict) {
					res.ConflictAt = conflict
				}
				return res, err
			}
			binds[action.ResultVar] = newID

		case plan.ActionMoveBranch:
			target := binds.resolve(action.TargetVar)
			if err := repo.SetBranch(action.Branch, target); err != nil {
				return res, err
			}
			if err := repo.InvokeHook(ctx, "post-rewrite", nil, "rebase"); err != nil {
				return res, err
			}

		case plan.ActionCreateBranch:
			target := binds.resolve(action.TargetVar)
			if err := repo.SetBranch(action.Branch, target); err != nil {
				return res, err
			}

		case plan.ActionDeleteBranch:
			if err := repo.DeleteBranch(action.Branch); err != nil {
				return res, err
			}

		case plan.ActionPush:
			if err := repo.Push(ctx, action.PushRemote, action.Branch, action.ExpectedRemote); err != nil {
				return res, err
			}

		case plan.ActionRunHook:
			if err := repo.InvokeHook(ctx, action.HookName, nil, action.HookArgs...); err != nil {
				return res, err
			}
		}

		res.Applied++
	}

	return res, nil
}

func asConflict(err error, target **errs.Conflict) bool {
	c, ok := err.(*errs.Conflict)
	if !ok {
		return false
	}
	*target = c
	return true
}

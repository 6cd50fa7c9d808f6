package execd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/gittest"
	"github.com/stackforge/gitstack/plan"
	"github.com/stackforge/gitstack/snapshot"
)

type fakeStore struct {
	written []snapshot.Snapshot
}

func (f *fakeStore) Write(s snapshot.Snapshot) error {
	f.written = append(f.written, s)
	return nil
}
func (f *fakeStore) Latest() (*snapshot.Snapshot, error) {
	if len(f.written) == 0 {
		return nil, nil
	}
	return &f.written[len(f.written)-1], nil
}
func (f *fakeStore) ByLabel(label string) (*snapshot.Snapshot, error) {
	for i := len(f.written) - 1; i >= 0; i-- {
		if f.written[i].Label == label {
			return &f.written[i], nil
		}
	}
	return nil, nil
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if _, err := Acquire(path); err == nil {
		t.Error("expected second Acquire to fail with RepoBusy")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed after Release")
	}
}

func TestApplyDryRunTouchesNothing(t *testing.T) {
	p := &plan.ActionPlan{DryRun: true, Actions: []plan.PrimitiveAction{{Kind: plan.ActionSnapshot, SnapshotLabel: "pre"}}}
	store := &fakeStore{}
	res, err := Apply(context.Background(), nil, p, store, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 0 {
		t.Errorf("got %d applied actions, want 0 for dry-run", res.Applied)
	}
	if len(store.written) != 0 {
		t.Error("expected dry-run to write no snapshots")
	}
}

func TestApplyRewritesAndMovesBranch(t *testing.T) {
	b := gittest.NewBuilder().
		Commit("base", "base").
		Commit("other", "other").
		Commit("child", "child", "base").
		Branch("main", "other").
		Branch("feature", "child")
	repo := gitrepo.FromRaw(b.Repo(), t.TempDir())

	p := &plan.ActionPlan{Actions: []plan.PrimitiveAction{
		{
			Kind:         plan.ActionRewriteCommit,
			SourceCommit: gitrepo.CommitID(b.Hash("child").String()),
			NewParent:    gitrepo.CommitID(b.Hash("other").String()),
			ResultVar:    "result:child",
		},
		{
			Kind:      plan.ActionMoveBranch,
			Branch:    "feature",
			TargetVar: "result:child",
		},
	}}

	store := &fakeStore{}
	res, err := Apply(context.Background(), repo, p, store, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 2 {
		t.Errorf("got %d applied, want 2", res.Applied)
	}

	branches, err := repo.LocalBranches()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var featureTip gitrepo.CommitID
	for _, br := range branches {
		if br.Name == "feature" {
			featureTip = br.Local
		}
	}
	if featureTip == gitrepo.CommitID(b.Hash("child").String()) {
		t.Error("expected feature branch to move to the rewritten commit, not the original")
	}

	newCommit, err := repo.Commit(featureTip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(newCommit.Parents) != 1 || newCommit.Parents[0] != gitrepo.CommitID(b.Hash("other").String()) {
		t.Errorf("got parents %v, want [other]", newCommit.Parents)
	}
}

func TestApplyStopsOnFirstFailure(t *testing.T) {
	p := &plan.ActionPlan{Actions: []plan.PrimitiveAction{
		{Kind: plan.ActionRewriteCommit, SourceCommit: "deadbeef", NewParent: "deadbeef"},
		{Kind: plan.ActionMoveBranch, Branch: "feature", TargetVar: "result:deadbeef"},
	}}
	b := gittest.NewBuilder().Commit("c1", "c1").Branch("main", "c1")
	repo := gitrepo.FromRaw(b.Repo(), t.TempDir())

	store := &fakeStore{}
	res, err := Apply(context.Background(), repo, p, store, time.Now())
	if err == nil {
		t.Fatal("expected an error for a rewrite of a nonexistent commit")
	}
	if res.Applied != 0 {
		t.Errorf("got %d applied, want 0 since the first action failed", res.Applied)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("/repo/.git")
	want := filepath.Join("/repo/.git", "gitstack", "stack.lock")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

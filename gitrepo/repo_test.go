package gitrepo

import (
	"errors"
	"testing"

	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/gittest"
)

func linearHistory() (*Repo, *gittest.Builder) {
	b := gittest.NewBuilder().
		Commit("c1", "initial").
		Commit("c2", "second", "c1").
		Commit("c3", "third", "c2").
		Branch("main", "c3").
		HEAD("main")
	return FromRaw(b.Repo(), "/tmp/fake"), b
}

func TestHeadResolvesToTip(t *testing.T) {
	r, b := linearHistory()
	head, err := r.Head()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != CommitID(b.Hash("c3").String()) {
		t.Errorf("got %s, want %s", head, b.Hash("c3"))
	}
}

func TestCurrentBranch(t *testing.T) {
	r, _ := linearHistory()
	branch, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "main" {
		t.Errorf("got %q, want main", branch)
	}
}

func TestResolveUnknownRefReturnsUnknownRef(t *testing.T) {
	r, _ := linearHistory()
	_, err := r.Resolve("does-not-exist")
	var unk *errs.UnknownRef
	if !errors.As(err, &unk) {
		t.Fatalf("expected *errs.UnknownRef, got %v (%T)", err, err)
	}
}

func TestCommitParents(t *testing.T) {
	r, b := linearHistory()
	c, err := r.Commit(CommitID(b.Hash("c3").String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Parents) != 1 || c.Parents[0] != CommitID(b.Hash("c2").String()) {
		t.Errorf("got parents %v", c.Parents)
	}
	if c.Summary != "third" {
		t.Errorf("got summary %q, want third", c.Summary)
	}
}

func TestMergeBase(t *testing.T) {
	b := gittest.NewBuilder().
		Commit("base", "base").
		Commit("a1", "a1", "base").
		Commit("b1", "b1", "base").
		Branch("feature-a", "a1").
		Branch("feature-b", "b1").
		HEAD("feature-a")
	r := FromRaw(b.Repo(), "/tmp/fake")

	mb, err := r.MergeBase(CommitID(b.Hash("a1").String()), CommitID(b.Hash("b1").String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mb != CommitID(b.Hash("base").String()) {
		t.Errorf("got merge base %s, want base", mb)
	}
}

func TestReachableFrom(t *testing.T) {
	r, b := linearHistory()
	ok, err := r.ReachableFrom(CommitID(b.Hash("c3").String()), CommitID(b.Hash("c1").String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected c1 to be reachable from c3")
	}

	ok, err = r.ReachableFrom(CommitID(b.Hash("c1").String()), CommitID(b.Hash("c3").String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected c3 to not be reachable from c1")
	}
}

func TestWalkVisitsAncestorsInOrder(t *testing.T) {
	r, b := linearHistory()
	var visited []CommitID
	err := r.Walk(CommitID(b.Hash("c3").String()), func(c *Commit) bool {
		visited = append(visited, c.ID)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []CommitID{
		CommitID(b.Hash("c3").String()),
		CommitID(b.Hash("c2").String()),
		CommitID(b.Hash("c1").String()),
	}
	if len(visited) != len(want) {
		t.Fatalf("got %d commits, want %d", len(visited), len(want))
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, visited[i], want[i])
		}
	}
}

func TestWalkStopsEarly(t *testing.T) {
	r, b := linearHistory()
	count := 0
	err := r.Walk(CommitID(b.Hash("c3").String()), func(c *Commit) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d visits, want 1", count)
	}
}

func TestSetBranchAndDeleteBranch(t *testing.T) {
	r, b := linearHistory()
	if err := r.SetBranch("feature", CommitID(b.Hash("c2").String())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	branches, err := r.LocalBranches()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, br := range branches {
		if br.Name == "feature" {
			found = true
			if br.Local != CommitID(b.Hash("c2").String()) {
				t.Errorf("got %s, want c2", br.Local)
			}
		}
	}
	if !found {
		t.Fatal("expected feature branch to exist")
	}

	if err := r.DeleteBranch("feature"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	branches, err = r.LocalBranches()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, br := range branches {
		if br.Name == "feature" {
			t.Error("expected feature branch to be deleted")
		}
	}
}

func TestRewriteReparentsCommit(t *testing.T) {
	b := gittest.NewBuilder().
		Commit("base", "base").
		Commit("other", "other-parent").
		Commit("child", "child message", "base").
		Branch("main", "child").
		HEAD("main")
	r := FromRaw(b.Repo(), "/tmp/fake")

	newID, err := r.Rewrite(CommitID(b.Hash("child").String()), RewriteOptions{
		NewParent: CommitID(b.Hash("other").String()),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := r.Commit(newID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Parents) != 1 || c.Parents[0] != CommitID(b.Hash("other").String()) {
		t.Errorf("got parents %v, want [other]", c.Parents)
	}
	if c.Summary != "child message" {
		t.Errorf("got summary %q, want unchanged message", c.Summary)
	}
}

func TestRemoteTrackingTipUnknownReturnsUnknownRef(t *testing.T) {
	r, _ := linearHistory()
	_, err := r.RemoteTrackingTip("origin", "main")
	var unk *errs.UnknownRef
	if !errors.As(err, &unk) {
		t.Fatalf("expected *errs.UnknownRef, got %v (%T)", err, err)
	}
}

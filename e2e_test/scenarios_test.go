package e2e_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stackforge/gitstack/classify"
	"github.com/stackforge/gitstack/cmd/gitstack/cli/testutil"
	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/execd"
	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/graph"
	"github.com/stackforge/gitstack/gsconfig"
	"github.com/stackforge/gitstack/plan"
	"github.com/stackforge/gitstack/pushgate"
	"github.com/stackforge/gitstack/snapshot"
	"github.com/stackforge/gitstack/stackdiscover"
)

// fakeT adapts ginkgo's GinkgoT() to the testing.TB signature testutil's
// helpers expect.
func fakeT() testing.TB { return GinkgoTB() }

func initRepoWithStack(dir string) {
	t := fakeT()
	testutil.InitRepo(t, dir)
	testutil.WriteFile(t, dir, "README.md", "hello\n")
	testutil.GitAdd(t, dir, "README.md")
	testutil.GitCommit(t, dir, "initial commit")
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), string(out))
	return string(out)
}

func buildClassifiedGraph(repo *gitrepo.Repo, protectedGlob []string) (*graph.Graph, error) {
	return buildClassifiedGraphWithRemotes(repo, protectedGlob, nil)
}

// buildClassifiedGraphWithRemotes mirrors cli/common.go's buildStackContext:
// it seeds the graph from local branches plus every remote-tracking branch
// of the named remotes, so a just-fetched protected branch's new tip is
// classified protected before the local ref itself is fast-forwarded.
func buildClassifiedGraphWithRemotes(repo *gitrepo.Repo, protectedGlob, remotes []string) (*graph.Graph, error) {
	branches, err := repo.LocalBranches()
	if err != nil {
		return nil, err
	}
	globs := classify.NewBranchGlobs(protectedGlob)
	protectedTips := map[gitrepo.CommitID]bool{}
	var tips []graph.TipRef
	for _, b := range branches {
		tips = append(tips, graph.TipRef{CommitID: b.Local, LocalBranch: b.Name})
		if globs.Match(b.Name) {
			protectedTips[b.Local] = true
		}
	}
	for _, remote := range remotes {
		rbranches, err := repo.RemoteTrackingBranches(remote)
		if err != nil {
			continue
		}
		for _, rb := range rbranches {
			tips = append(tips, graph.TipRef{CommitID: rb.Local, RemoteBranch: remote + "/" + rb.Name})
			if globs.Match(rb.Name) {
				protectedTips[rb.Local] = true
			}
		}
	}
	g, err := graph.Build(context.Background(), repo, graph.BuildOptions{Tips: tips, ProtectedTips: protectedTips})
	if err != nil {
		return nil, err
	}
	head, _ := repo.Head()
	classify.Classify(g, classify.Rules{ProtectedBranches: globs}, string(head), nil)
	return g, nil
}

var _ = Describe("stacked rewrite propagation", func() {
	It("rewrites a dependent branch's commits when its base moves", func() {
		dir := GinkgoT().TempDir()
		initRepoWithStack(dir)

		testutil.GitCheckoutNewBranch(fakeT(), dir, "feature-a")
		testutil.WriteFile(fakeT(), dir, "a.txt", "a\n")
		testutil.GitAdd(fakeT(), dir, "a.txt")
		testutil.GitCommit(fakeT(), dir, "add a")

		testutil.GitCheckoutNewBranch(fakeT(), dir, "feature-b")
		testutil.WriteFile(fakeT(), dir, "b.txt", "b\n")
		testutil.GitAdd(fakeT(), dir, "b.txt")
		testutil.GitCommit(fakeT(), dir, "add b")

		repo, err := gitrepo.Open(dir)
		Expect(err).NotTo(HaveOccurred())

		g, err := buildClassifiedGraph(repo, []string{"main", "master"})
		Expect(err).NotTo(HaveOccurred())

		stacks := stackdiscover.Discover(g, stackdiscover.Options{})
		Expect(stacks).NotTo(BeEmpty())

		var target stackdiscover.Stack
		for _, s := range stacks {
			if containsBranch(s.Branches, "feature-b") {
				target = s
			}
		}
		Expect(target.Branches).To(ContainElement("feature-b"))

		p, err := plan.Build(plan.Input{
			Graph:  g,
			Config: gsconfig.Default(),
			Stacks: []stackdiscover.Stack{target},
			Intent: plan.Intent{Rebase: true},
		})
		Expect(err).NotTo(HaveOccurred())

		store, err := snapshot.NewFileStore(filepath.Join(dir, ".git", "gitstack", "snapshots"))
		Expect(err).NotTo(HaveOccurred())

		res, err := execd.Apply(context.Background(), repo, p, store, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Applied).To(BeNumerically(">", 0))
	})
})

var _ = Describe("fixup squash", func() {
	It("drops the fixup commit and merges its tree delta into the target", func() {
		dir := GinkgoT().TempDir()
		initRepoWithStack(dir)

		testutil.GitCheckoutNewBranch(fakeT(), dir, "feature")
		testutil.WriteFile(fakeT(), dir, "widget.txt", "v1\n")
		testutil.GitAdd(fakeT(), dir, "widget.txt")
		testutil.GitCommit(fakeT(), dir, "add widget")

		testutil.WriteFile(fakeT(), dir, "widget.txt", "v2\n")
		testutil.GitAdd(fakeT(), dir, "widget.txt")
		testutil.GitCommit(fakeT(), dir, "fixup! add widget")

		repo, err := gitrepo.Open(dir)
		Expect(err).NotTo(HaveOccurred())

		g, err := buildClassifiedGraph(repo, []string{"main", "master"})
		Expect(err).NotTo(HaveOccurred())

		stacks := stackdiscover.Discover(g, stackdiscover.Options{})
		Expect(stacks).To(HaveLen(1))

		cfg := gsconfig.Default()
		cfg.AutoFixup = gsconfig.FixupSquash

		p, err := plan.Build(plan.Input{Graph: g, Config: cfg, Stacks: stacks, Intent: plan.Intent{Rebase: true}})
		Expect(err).NotTo(HaveOccurred())

		rewriteCount := 0
		for _, a := range p.Actions {
			if a.Kind == plan.ActionRewriteCommit {
				rewriteCount++
			}
		}
		Expect(rewriteCount).To(Equal(1), "the fixup commit should be squashed away, leaving one rewrite")

		store, err := snapshot.NewFileStore(filepath.Join(dir, ".git", "gitstack", "snapshots"))
		Expect(err).NotTo(HaveOccurred())

		res, err := execd.Apply(context.Background(), repo, p, store, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Applied).To(BeNumerically(">", 0))

		newTip, err := repo.Resolve("feature")
		Expect(err).NotTo(HaveOccurred())
		files, err := repo.TreeFiles(newTip)
		Expect(err).NotTo(HaveOccurred())
		Expect(files["widget.txt"]).To(Equal("v2\n"), "the squashed tree must contain the fixup's content")

		rewritten, err := repo.Commit(newTip)
		Expect(err).NotTo(HaveOccurred())
		Expect(rewritten.Summary).To(Equal("add widget"), "the squashed commit keeps the target's own message")
		Expect(rewritten.Parents).To(HaveLen(1))
	})
})

var _ = Describe("pull fast-forwards protected branches and rewrites stacks atop them", func() {
	It("moves main to the fetched tip and rewrites a's commit onto it", func() {
		remoteDir := GinkgoT().TempDir()
		runGit(remoteDir, "init", "--bare")

		localDir := GinkgoT().TempDir()
		runGit(localDir, "clone", remoteDir, ".")
		testutil.InitRepo(fakeT(), localDir)
		testutil.WriteFile(fakeT(), localDir, "README.md", "hello\n")
		testutil.GitAdd(fakeT(), localDir, "README.md")
		testutil.GitCommit(fakeT(), localDir, "initial commit")
		runGit(localDir, "push", "origin", "HEAD:refs/heads/main")

		testutil.GitCheckoutNewBranch(fakeT(), localDir, "a")
		testutil.WriteFile(fakeT(), localDir, "a.txt", "a\n")
		testutil.GitAdd(fakeT(), localDir, "a.txt")
		testutil.GitCommit(fakeT(), localDir, "add a")

		otherClone := GinkgoT().TempDir()
		runGit(otherClone, "clone", remoteDir, ".")
		testutil.InitRepo(fakeT(), otherClone)
		runGit(otherClone, "checkout", "main")
		testutil.WriteFile(fakeT(), otherClone, "upstream1.txt", "c1\n")
		testutil.GitAdd(fakeT(), otherClone, "upstream1.txt")
		testutil.GitCommit(fakeT(), otherClone, "upstream change 1")
		testutil.WriteFile(fakeT(), otherClone, "upstream2.txt", "c2\n")
		testutil.GitAdd(fakeT(), otherClone, "upstream2.txt")
		testutil.GitCommit(fakeT(), otherClone, "upstream change 2")
		runGit(otherClone, "push", "origin", "main")

		runGit(localDir, "fetch", "origin")

		repo, err := gitrepo.Open(localDir)
		Expect(err).NotTo(HaveOccurred())

		remoteMainTip, err := repo.RemoteTrackingTip("origin", "main")
		Expect(err).NotTo(HaveOccurred())

		oldATip, err := repo.Resolve("a")
		Expect(err).NotTo(HaveOccurred())

		g, err := buildClassifiedGraphWithRemotes(repo, []string{"main", "master"}, []string{"origin"})
		Expect(err).NotTo(HaveOccurred())

		stacks := stackdiscover.Discover(g, stackdiscover.Options{})
		var target stackdiscover.Stack
		for _, s := range stacks {
			if containsBranch(s.Branches, "a") {
				target = s
			}
		}
		Expect(target.Branches).To(ContainElement("a"))

		cfg := gsconfig.Default()
		cfg.PullRemote, cfg.PushRemote = "origin", "origin"

		snapDir := filepath.Join(localDir, ".git", "gitstack", "snapshots")
		store, err := snapshot.NewFileStore(snapDir)
		Expect(err).NotTo(HaveOccurred())

		p, err := plan.Build(plan.Input{
			Graph:  g,
			Config: cfg,
			Stacks: []stackdiscover.Stack{target},
			Intent: plan.Intent{Pull: true, Rebase: true},
		})
		Expect(err).NotTo(HaveOccurred())

		res, err := execd.Apply(context.Background(), repo, p, store, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Applied).To(BeNumerically(">", 0))
		Expect(res.PreSnapshot).NotTo(BeNil())
		Expect(containsEntry(res.PreSnapshot.Entries, "a", oldATip)).To(BeTrue(), "the pre-snapshot must record a's old tip")

		newMainTip, err := repo.Resolve("main")
		Expect(err).NotTo(HaveOccurred())
		Expect(newMainTip).To(Equal(remoteMainTip), "main must fast-forward to the fetched tip")

		newATip, err := repo.Resolve("a")
		Expect(err).NotTo(HaveOccurred())
		Expect(newATip).NotTo(Equal(oldATip), "a's commit must be rewritten onto the new main")

		aCommit, err := repo.Commit(newATip)
		Expect(err).NotTo(HaveOccurred())
		Expect(aCommit.Parents).To(ConsistOf(remoteMainTip))
	})
})

var _ = Describe("pull auto-deletes a branch whose patch already landed", func() {
	It("deletes branch a once its change matches a squash-merged commit on main", func() {
		remoteDir := GinkgoT().TempDir()
		runGit(remoteDir, "init", "--bare")

		localDir := GinkgoT().TempDir()
		runGit(localDir, "clone", remoteDir, ".")
		testutil.InitRepo(fakeT(), localDir)
		testutil.WriteFile(fakeT(), localDir, "README.md", "hello\n")
		testutil.GitAdd(fakeT(), localDir, "README.md")
		testutil.GitCommit(fakeT(), localDir, "initial commit")
		runGit(localDir, "push", "origin", "HEAD:refs/heads/main")

		testutil.GitCheckoutNewBranch(fakeT(), localDir, "a")
		testutil.WriteFile(fakeT(), localDir, "widget.txt", "v2\n")
		testutil.GitAdd(fakeT(), localDir, "widget.txt")
		testutil.GitCommit(fakeT(), localDir, "implement widget")

		otherClone := GinkgoT().TempDir()
		runGit(otherClone, "clone", remoteDir, ".")
		testutil.InitRepo(fakeT(), otherClone)
		runGit(otherClone, "checkout", "main")
		testutil.WriteFile(fakeT(), otherClone, "widget.txt", "v2\n")
		testutil.GitAdd(fakeT(), otherClone, "widget.txt")
		testutil.GitCommit(fakeT(), otherClone, "implement widget (squash-merged)")
		runGit(otherClone, "push", "origin", "main")

		runGit(localDir, "fetch", "origin")

		repo, err := gitrepo.Open(localDir)
		Expect(err).NotTo(HaveOccurred())

		g, err := buildClassifiedGraphWithRemotes(repo, []string{"main", "master"}, []string{"origin"})
		Expect(err).NotTo(HaveOccurred())

		stacks := stackdiscover.Discover(g, stackdiscover.Options{})

		cfg := gsconfig.Default()
		cfg.PullRemote, cfg.PushRemote = "origin", "origin"

		store, err := snapshot.NewFileStore(filepath.Join(localDir, ".git", "gitstack", "snapshots"))
		Expect(err).NotTo(HaveOccurred())

		p, err := plan.Build(plan.Input{
			Graph:  g,
			Config: cfg,
			Stacks: stacks,
			Intent: plan.Intent{Pull: true, Rebase: true},
		})
		Expect(err).NotTo(HaveOccurred())

		deletesBranchA := false
		for _, a := range p.Actions {
			if a.Kind == plan.ActionDeleteBranch && a.Branch == "a" {
				deletesBranchA = true
			}
		}
		Expect(deletesBranchA).To(BeTrue(), "the plan must delete a once its patch-id matches the landed commit")

		res, err := execd.Apply(context.Background(), repo, p, store, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Applied).To(BeNumerically(">", 0))

		Expect(testutil.BranchExists(fakeT(), localDir, "a")).To(BeFalse(), "a must be gone locally after --pull")

		postSnap, err := store.ByLabel("post")
		Expect(err).NotTo(HaveOccurred())
		Expect(postSnap).NotTo(BeNil())
		for _, e := range postSnap.Entries {
			Expect(e.Branch).NotTo(Equal("a"), "the post snapshot must not list the deleted branch")
		}
	})
})

func containsEntry(entries []snapshot.Entry, branch string, commit gitrepo.CommitID) bool {
	for _, e := range entries {
		if e.Branch == branch && e.Commit == commit {
			return true
		}
	}
	return false
}

var _ = Describe("push readiness", func() {
	It("blocks a push when the branch still has a WIP commit and reports why, without failing", func() {
		dir := GinkgoT().TempDir()
		initRepoWithStack(dir)

		testutil.GitCheckoutNewBranch(fakeT(), dir, "feature")
		testutil.WriteFile(fakeT(), dir, "x.txt", "x\n")
		testutil.GitAdd(fakeT(), dir, "x.txt")
		testutil.GitCommit(fakeT(), dir, "WIP: still cooking")

		repo, err := gitrepo.Open(dir)
		Expect(err).NotTo(HaveOccurred())
		g, err := buildClassifiedGraph(repo, []string{"main", "master"})
		Expect(err).NotTo(HaveOccurred())

		// Mark the WIP commit's annotation directly, since graph.Build alone
		// does not run the WIP-detection pass (that happens in the full
		// stack-discovery/planner pipeline a real invocation wires up).
		for i := 0; i < g.Len(); i++ {
			node := g.Node(graph.NodeIndex(i))
			if containsBranch(node.Annotations.Branches, "feature") {
				node.Annotations.WIP = true
			}
		}

		readiness := pushgate.Evaluate(g, "origin")
		var featureReadiness pushgate.Readiness
		for _, r := range readiness {
			if r.Branch == "feature" {
				featureReadiness = r
			}
		}
		Expect(featureReadiness.Ready).To(BeFalse())
		Expect(featureReadiness.Reason).To(ContainSubstring("WIP"))
	})
})

var _ = Describe("push with lease", func() {
	It("rejects a non-fast-forward push and leaves the local branch unchanged", func() {
		remoteDir := GinkgoT().TempDir()
		runGit(remoteDir, "init", "--bare")

		localDir := GinkgoT().TempDir()
		runGit(localDir, "clone", remoteDir, ".")
		testutil.InitRepo(fakeT(), localDir)
		testutil.WriteFile(fakeT(), localDir, "README.md", "hello\n")
		testutil.GitAdd(fakeT(), localDir, "README.md")
		testutil.GitCommit(fakeT(), localDir, "initial commit")
		runGit(localDir, "push", "origin", "HEAD:refs/heads/feature")

		otherClone := GinkgoT().TempDir()
		runGit(otherClone, "clone", remoteDir, ".")
		testutil.InitRepo(fakeT(), otherClone)
		runGit(otherClone, "checkout", "feature")
		testutil.WriteFile(fakeT(), otherClone, "other.txt", "other\n")
		testutil.GitAdd(fakeT(), otherClone, "other.txt")
		testutil.GitCommit(fakeT(), otherClone, "someone else's commit")
		runGit(otherClone, "push", "origin", "feature")

		repo, err := gitrepo.Open(localDir)
		Expect(err).NotTo(HaveOccurred())

		localTip, err := repo.Resolve("feature")
		Expect(err).NotTo(HaveOccurred())

		err = repo.Push(context.Background(), "origin", "feature", localTip)
		Expect(err).To(HaveOccurred())
		var nff *errs.NotFastForward
		Expect(asNFF(err, &nff)).To(BeTrue())

		stillLocal, err := repo.Resolve("feature")
		Expect(err).NotTo(HaveOccurred())
		Expect(stillLocal).To(Equal(localTip), "a rejected push must not move the local branch")
	})
})

func containsBranch(branches []string, name string) bool {
	for _, b := range branches {
		if b == name {
			return true
		}
	}
	return false
}

func asNFF(err error, target **errs.NotFastForward) bool {
	if c, ok := err.(*errs.NotFastForward); ok {
		*target = c
		return true
	}
	return false
}

var _ = AfterSuite(func() {
	_ = os.RemoveAll(filepath.Join(os.TempDir(), "gitstack-e2e"))
})

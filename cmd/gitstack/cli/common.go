package cli

import (
	"context"
	"fmt"

	"github.com/stackforge/gitstack/classify"
	"github.com/stackforge/gitstack/cmd/gitstack/cli/paths"
	"github.com/stackforge/gitstack/execd"
	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/graph"
	"github.com/stackforge/gitstack/gsconfig"
	"github.com/stackforge/gitstack/stackdiscover"
)

// globalFlags holds the flags every subcommand accepts, mirroring the
// external interface's -C/--dry-run/--base/--onto/--fixup/--stack surface.
type globalFlags struct {
	chdir  string
	dryRun bool
	base   string
	onto   string
	fixup  string
	stack  string
}

// stackContext bundles the repo, config, and classified graph every
// subcommand needs, built once up front so each command's RunE stays
// focused on its own intent.
type stackContext struct {
	repo   *gitrepo.Repo
	cfg    *gsconfig.Config
	graph  *graph.Graph
	stacks []stackdiscover.Stack
	head   gitrepo.CommitID
}

func buildStackContext(ctx context.Context, flags globalFlags) (*stackContext, error) {
	dir := flags.chdir
	if dir == "" {
		dir = "."
	}
	repo, err := gitrepo.Open(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := gsconfig.LoadFromRepo(repo.Raw())
	if err != nil {
		return nil, err
	}
	if flags.fixup != "" {
		cfg.AutoFixup = gsconfig.FixupPolicy(flags.fixup)
	}
	if flags.stack != "" {
		cfg.Stack = gsconfig.StackSelector(flags.stack)
	}

	branches, err := repo.LocalBranches()
	if err != nil {
		return nil, err
	}

	globs := classify.NewBranchGlobs(cfg.ProtectedBranch)

	protectedTips := map[gitrepo.CommitID]bool{}
	var tips []graph.TipRef
	for _, b := range branches {
		tips = append(tips, graph.TipRef{CommitID: b.Local, LocalBranch: b.Name})
		if globs.Match(b.Name) {
			protectedTips[b.Local] = true
		}
	}

	// Remote-tracking branches for the configured remotes are seeded too, so
	// a protected branch's just-fetched tip is already in the graph (and
	// classified protected) before its local ref is fast-forwarded to match.
	remotesToScan := map[string]bool{cfg.PullRemote: true, cfg.PushRemote: true}
	for remote := range remotesToScan {
		if remote == "" {
			continue
		}
		rbranches, err := repo.RemoteTrackingBranches(remote)
		if err != nil {
			continue // remote not yet fetched locally; nothing to seed from
		}
		for _, rb := range rbranches {
			tips = append(tips, graph.TipRef{CommitID: rb.Local, RemoteBranch: remote + "/" + rb.Name})
			if globs.Match(rb.Name) {
				protectedTips[rb.Local] = true
			}
		}
	}

	g, err := graph.Build(ctx, repo, graph.BuildOptions{
		Tips:           tips,
		ProtectedTips:  protectedTips,
		HorizonCommits: cfg.AutoBaseCommitCount,
	})
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}

	userEmail := currentUserEmail(repo)
	classify.Classify(g, classify.Rules{
		ProtectedBranches:     globs,
		ForeignCommitterCheck: true,
		CurrentUserEmail:      userEmail,
		MaxCommitAge:          cfg.ProtectCommitAge,
		MaxCommitCount:        cfg.ProtectCommitCount,
	}, string(head), selectedBranchSet(flags))

	discoverOpts := stackdiscover.Options{OntoFlag: flags.onto, ProtectedGlobs: globs}
	if tip, err := repo.RemoteTrackingTip(cfg.PullRemote, currentBranchName(repo)); err == nil {
		if idx, ok := g.Lookup(tip); ok {
			discoverOpts.PullRemoteTip = idx
			discoverOpts.HasPullRemoteTip = true
		}
	}
	stacks := stackdiscover.Discover(g, discoverOpts)

	currentBranch, _ := repo.CurrentBranch()
	stacks = stackdiscover.Filter(stacks, stackdiscover.Selector(cfg.Stack), currentBranch)

	return &stackContext{repo: repo, cfg: cfg, graph: g, stacks: stacks, head: head}, nil
}

func selectedBranchSet(flags globalFlags) map[string]bool {
	out := map[string]bool{}
	if flags.base != "" {
		out[flags.base] = true
	}
	if flags.onto != "" {
		out[flags.onto] = true
	}
	return out
}

func currentUserEmail(repo *gitrepo.Repo) string {
	cfg, err := repo.Raw().Config()
	if err != nil {
		return ""
	}
	return cfg.User.Email
}

func currentBranchName(repo *gitrepo.Repo) string {
	name, err := repo.CurrentBranch()
	if err != nil {
		return ""
	}
	return name
}

// lockDir runs fn while holding the repository's advisory lock, releasing
// it unconditionally afterward.
func lockDir(repo *gitrepo.Repo, fn func() error) error {
	lockPath, err := paths.LockFilePath()
	if err != nil {
		return err
	}
	lock, err := execd.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			fmt.Println("warning: failed to release lock:", releaseErr)
		}
	}()
	return fn()
}

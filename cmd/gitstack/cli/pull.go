package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/logging"
	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/gsconfig"
	"github.com/stackforge/gitstack/plan"
	"github.com/stackforge/gitstack/snapshot"
)

func newPullCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch the pull and push remotes, fast-forward protected branches, then rebase every stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := initLogging("pull")
			defer done()
			return runMutatingOperation(cmd, *flags, plan.Intent{Pull: true, Rebase: true, DryRun: flags.dryRun})
		},
	}
}

// runMutatingOperation is the shared RunE body for pull/rebase/repair: it
// builds the stack context, compiles a plan, and applies it under the
// repository's advisory lock. On error it prints a one-line summary and
// points at the pre-mutation snapshot label, per the error handling design's
// requirement that partial success is never silent.
//
// When intent.Pull is set, the actual network fetch happens here, before
// buildStackContext, so the graph the planner reasons over already reflects
// the just-fetched remote-tracking refs; the Fetch primitive actions
// plan.Build still emits replay this fetch at apply time as a harmless
// no-op, keeping the plan's Describe() output faithful to the pull
// sequencing contract.
func runMutatingOperation(cmd *cobra.Command, flags globalFlags, intent plan.Intent) error {
	ctx := cmd.Context()

	if intent.Pull {
		if err := prefetch(ctx, flags); err != nil {
			return reportAndSilence(cmd, err)
		}
	}

	sc, err := buildStackContext(ctx, flags)
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	dirty, err := sc.repo.IsDirty()
	if err != nil {
		return reportAndSilence(cmd, err)
	}
	if dirty && !intent.DryRun {
		return reportAndSilence(cmd, &errs.DirtyTree{})
	}

	var prior *snapshot.Snapshot
	if intent.Repair {
		store, serr := newReferenceSnapshotStore()
		if serr != nil {
			return reportAndSilence(cmd, serr)
		}
		prior, serr = store.Latest()
		if serr != nil {
			return reportAndSilence(cmd, serr)
		}
	}

	p, err := plan.Build(plan.Input{
		Graph:         sc.graph,
		Config:        sc.cfg,
		Stacks:        sc.stacks,
		Intent:        intent,
		PriorSnapshot: prior,
	})
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	if intent.DryRun {
		fmt.Fprint(cmd.OutOrStdout(), p.Describe())
		return nil
	}

	var applyErr error
	lockErr := lockDir(sc.repo, func() error {
		applyErr = applyPlan(cmd, sc, p)
		return applyErr
	})
	if lockErr != nil {
		return reportAndSilence(cmd, lockErr)
	}
	return nil
}

func applyPlan(cmd *cobra.Command, sc *stackContext, p *plan.ActionPlan) error {
	store, err := newReferenceSnapshotStore()
	if err != nil {
		return err
	}

	res, err := applyWithStore(cmd, sc, p, store)
	if err != nil {
		logging.Error(cmd.Context(), "plan application failed", "applied", res.Applied)
		if res.PreSnapshot != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v (restore with snapshot %q)\n", err, res.PreSnapshot.Label)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
		return err
	}
	return nil
}

func reportAndSilence(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	return NewSilentError(err)
}

// prefetch performs the actual network fetch before the stack context is
// built, so the graph and protection classification the planner reasons
// over already reflect the just-fetched remote-tracking refs.
func prefetch(ctx context.Context, flags globalFlags) error {
	dir := flags.chdir
	if dir == "" {
		dir = "."
	}
	repo, err := gitrepo.Open(dir)
	if err != nil {
		return err
	}
	cfg, err := gsconfig.LoadFromRepo(repo.Raw())
	if err != nil {
		return err
	}
	if err := repo.Fetch(ctx, cfg.PullRemote, false); err != nil {
		return err
	}
	if cfg.PushRemote != "" && cfg.PushRemote != cfg.PullRemote {
		if err := repo.Fetch(ctx, cfg.PushRemote, true); err != nil {
			return err
		}
	}
	return nil
}

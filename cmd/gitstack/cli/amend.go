package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/plan"
)

// newAmendCmd folds HEAD's diff into an earlier ancestor commit and
// replays every commit stacked above it, the same shape as `git commit
// --fixup` followed by `rebase --autosquash` but as a single operation that
// also updates every branch built on top of the amended commit.
func newAmendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "amend <target>",
		Short: "Fold HEAD's changes into an earlier commit and replay its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			done := initLogging("amend")
			defer done()
			return runAmend(cmd, *flags, args[0])
		},
	}
}

func runAmend(cmd *cobra.Command, flags globalFlags, targetRef string) error {
	ctx := cmd.Context()

	sc, err := buildStackContext(ctx, flags)
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	dirty, err := sc.repo.IsDirty()
	if err != nil {
		return reportAndSilence(cmd, err)
	}
	if dirty {
		return reportAndSilence(cmd, &errs.DirtyTree{})
	}

	target, err := sc.repo.Resolve(targetRef)
	if err != nil {
		return reportAndSilence(cmd, err)
	}
	source := sc.head

	newTree, err := sc.repo.CherryPickTree(source, target)
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	p, err := plan.PlanAmend(sc.graph, target, source, newTree, affectedBranches(sc))
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	if flags.dryRun {
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

func affectedBranches(sc *stackContext) []string {
	var out []string
	for _, stack := range sc.stacks {
		out = append(out, stack.Branches...)
	}
	return out
}

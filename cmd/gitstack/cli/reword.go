package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/plan"
)

func newRewordCmd(flags *globalFlags) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "reword <commit>",
		Short: "Change a commit's message in place and replay its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			done := initLogging("reword")
			defer done()
			return runReword(cmd, *flags, args[0], message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "new commit message (required)")
	return cmd
}

func runReword(cmd *cobra.Command, flags globalFlags, targetRef, message string) error {
	if message == "" {
		return reportAndSilence(cmd, &errs.Config{Key: "message", Reason: "--message is required"})
	}

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

	p, err := plan.PlanReword(sc.graph, target, message, affectedBranches(sc))
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

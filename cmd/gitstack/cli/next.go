package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/stackdiscover"
)

// newNextCmd and newPrevCmd check out the commit one step up or down the
// current stack from HEAD, sharing the walk in stackdiscover.Step.
func newNextCmd(flags *globalFlags) *cobra.Command {
	return newStepCmd(flags, "next", "Check out the next commit up the current stack", 1)
}

func newPrevCmd(flags *globalFlags) *cobra.Command {
	return newStepCmd(flags, "prev", "Check out the previous commit down the current stack", -1)
}

func newStepCmd(flags *globalFlags, use, short string, direction int) *cobra.Command {
	var toBranch bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := initLogging(use)
			defer done()
			return runStep(cmd, *flags, direction, toBranch)
		},
	}
	cmd.Flags().BoolVar(&toBranch, "branch", true, "land on the next commit that is itself a branch tip, skipping intermediate commits")
	return cmd
}

func runStep(cmd *cobra.Command, flags globalFlags, direction int, toBranch bool) error {
	ctx := cmd.Context()

	sc, err := buildStackContext(ctx, flags)
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	current, ok := sc.graph.Lookup(sc.head)
	if !ok {
		return reportAndSilence(cmd, &errs.UnknownRef{Ref: string(sc.head)})
	}

	next, ok := stackdiscover.Step(sc.graph, current, direction, toBranch)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no further commit in that direction")
		return nil
	}

	node := sc.graph.Node(next)
	target := string(node.ID)
	if len(node.Annotations.Branches) > 0 {
		target = node.Annotations.Branches[0]
	}

	if err := sc.repo.CheckoutBranch(ctx, target); err != nil {
		return reportAndSilence(cmd, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", target)
	return nil
}

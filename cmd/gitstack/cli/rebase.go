package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/plan"
)

func newRebaseCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rebase",
		Short: "Rebase the selected stacks onto their base or --onto target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := initLogging("rebase")
			defer done()
			return runMutatingOperation(cmd, *flags, plan.Intent{Rebase: true, DryRun: flags.dryRun, Base: flags.base, Onto: flags.onto})
		},
	}
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/plan"
)

func newRepairCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-parent branches whose parent commit was externally rewritten",
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := initLogging("repair")
			defer done()
			return runMutatingOperation(cmd, *flags, plan.Intent{Repair: true, Rebase: true, DryRun: flags.dryRun})
		},
	}
}

// Package cli wires the gitstack command surface: argument parsing, global
// flags, logging initialization, and the glue between the stack engine
// packages (gitrepo, graph, classify, stackdiscover, plan, execd,
// pushgate, gsconfig, snapshot) and the user. Interactive visualization and
// config-file loading beyond git-config itself are intentionally thin
// here; the engine packages carry the real behavior.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/logging"
)

var (
	// Version information, set at build time.
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "gitstack",
		Short:         "Manage stacked feature branches atop git",
		Long:          "gitstack streamlines working with stacked feature branches: rebasing, pushing, and cleaning up a chain of dependent branches as a single operation.",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.chdir, "C", "C", "", "run as if gitstack was started in <path>")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "show what would be done without doing it")
	cmd.PersistentFlags().StringVar(&flags.base, "base", "", "treat the named branch as the stack's base")
	cmd.PersistentFlags().StringVar(&flags.onto, "onto", "", "rebase the stack onto the named branch instead of its base")
	cmd.PersistentFlags().StringVar(&flags.fixup, "fixup", "", "override stack.auto-fixup for this invocation (ignore|move|squash)")
	cmd.PersistentFlags().StringVar(&flags.stack, "stack", "", "override stack.stack for this invocation (current|dependents|descendants|all)")

	cmd.AddCommand(newPullCmd(flags))
	cmd.AddCommand(newRebaseCmd(flags))
	cmd.AddCommand(newPushCmd(flags))
	cmd.AddCommand(newRepairCmd(flags))
	cmd.AddCommand(newShowCmd(flags))
	cmd.AddCommand(newAmendCmd(flags))
	cmd.AddCommand(newRewordCmd(flags))
	cmd.AddCommand(newNextCmd(flags))
	cmd.AddCommand(newPrevCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("gitstack %s (%s)\n", Version, Commit)
		},
	}
}

// initLogging is invoked by each subcommand's RunE before doing any work,
// so every log line for this invocation carries the operation name.
func initLogging(operation string) func() {
	if err := logging.Init(operation); err != nil {
		fmt.Println("warning: failed to initialize logging:", err)
		return func() {}
	}
	return logging.Close
}

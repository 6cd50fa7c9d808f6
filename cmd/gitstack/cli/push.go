package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/logging"
	"github.com/stackforge/gitstack/plan"
	"github.com/stackforge/gitstack/pushgate"
)

func newPushCmd(flags *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push every ready branch in the selected stacks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := initLogging("push")
			defer done()
			return runPush(cmd, *flags, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runPush(cmd *cobra.Command, flags globalFlags, skipConfirm bool) error {
	ctx := cmd.Context()

	sc, err := buildStackContext(ctx, flags)
	if err != nil {
		return reportAndSilence(cmd, err)
	}

	readiness := pushgate.Evaluate(sc.graph, sc.cfg.PushRemote)
	var ready []pushgate.Readiness
	for _, r := range readiness {
		if r.Ready {
			ready = append(ready, r)
		} else {
			logging.Info(ctx, "branch not push-ready", "branch", r.Branch, "reason", r.Reason)
			fmt.Fprintf(cmd.OutOrStdout(), "skipping %s: %s\n", r.Branch, r.Reason)
		}
	}

	if len(ready) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to push")
		return nil
	}

	if len(ready) > 1 && !skipConfirm && !flags.dryRun && term.IsTerminal(int(os.Stdin.Fd())) {
		confirmed, err := confirmMultiBranchPush(ready)
		if err != nil {
			return reportAndSilence(cmd, err)
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "push cancelled")
			return nil
		}
	}

	p, err := plan.Build(plan.Input{
		Graph:  sc.graph,
		Config: sc.cfg,
		Stacks: sc.stacks,
		Intent: plan.Intent{Push: true, DryRun: flags.dryRun},
	})
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

func confirmMultiBranchPush(ready []pushgate.Readiness) (bool, error) {
	names := make([]string, len(ready))
	for i, r := range ready {
		names[i] = r.Branch
	}

	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Push %d branches: %v?", len(names), names)).
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	return confirmed, nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/jsonutil"
	"github.com/stackforge/gitstack/gsconfig"
)

// debugStack is the JSON-friendly projection of a discovered stack emitted
// by --format=debug; field names are chosen for external tooling to
// consume, independent of the internal graph.NodeIndex representation.
type debugStack struct {
	Branches   []string `json:"branches"`
	BaseCommit string   `json:"base_commit"`
	OntoCommit string   `json:"onto_commit"`
}

// newShowCmd prints a listing of the discovered stacks. Rich ASCII/color
// visualization is explicitly out of scope for the core; this is the
// minimum external tooling needs to render something without
// reimplementing stack discovery itself. ShowDebug emits indented JSON for
// tooling that would rather parse structured output than plain text.
func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List discovered stacks and their branches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := initLogging("show")
			defer done()

			sc, err := buildStackContext(cmd.Context(), *flags)
			if err != nil {
				return reportAndSilence(cmd, err)
			}

			if sc.cfg.ShowFormat == gsconfig.ShowDebug {
				return showDebug(cmd, sc)
			}

			if len(sc.stacks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no development stacks found")
				return nil
			}
			for i, stack := range sc.stacks {
				fmt.Fprintf(cmd.OutOrStdout(), "stack %d: %v\n", i+1, stack.Branches)
			}
			return nil
		},
	}
}

func showDebug(cmd *cobra.Command, sc *stackContext) error {
	out := make([]debugStack, len(sc.stacks))
	for i, stack := range sc.stacks {
		out[i] = debugStack{
			Branches:   stack.Branches,
			BaseCommit: string(sc.graph.Node(stack.Base).ID),
			OntoCommit: string(sc.graph.Node(stack.Onto).ID),
		}
	}
	data, err := jsonutil.MarshalIndentWithNewline(out, "", "  ")
	if err != nil {
		return reportAndSilence(cmd, err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

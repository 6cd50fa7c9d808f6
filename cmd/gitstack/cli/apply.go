package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/paths"
	"github.com/stackforge/gitstack/execd"
	"github.com/stackforge/gitstack/plan"
	"github.com/stackforge/gitstack/snapshot"
)

func newReferenceSnapshotStore() (snapshot.Store, error) {
	dir, err := paths.SnapshotsDir()
	if err != nil {
		return nil, err
	}
	return snapshot.NewFileStore(dir)
}

func applyWithStore(cmd *cobra.Command, sc *stackContext, p *plan.ActionPlan, store snapshot.Store) (*execd.Result, error) {
	return execd.Apply(cmd.Context(), sc.repo, p, store, time.Now())
}

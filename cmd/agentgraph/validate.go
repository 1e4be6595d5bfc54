package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/agentgraph/config"
	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/registry"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>...",
		Short: "Check workflow definitions without running them",
		Long: `Validate parses each workflow, checks its graph (ids, handoffs, joins,
hierarchy) and confirms every model reference names a catalog model or tier.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			catalog, err := a.cfg.Catalog.Build()
			if err != nil {
				return err
			}

			failed := 0
			for _, path := range args {
				wf, err := config.LoadWorkflow(path)
				if err == nil {
					_, err = registry.ExtractRequirements(catalog, wf.ModelRefs())
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				mode := wf.Mode
				if mode == "" {
					mode = graph.ModeSequential
				}
				fmt.Fprintf(out, "ok   %s (%d nodes, %s, entry %s)\n", path, len(wf.Nodes), mode, wf.EntryNodeID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflows invalid", failed, len(args))
			}
			return nil
		},
	}
}

// Command agentgraph runs and inspects agentic workflows.
//
// Commands:
//   - run: execute a workflow for a tenant and optionally score it
//   - validate: check a workflow definition without calling any model
//   - models: list the model catalog with tiers and prices
//
// Usage:
//
//	agentgraph --config agentgraph.yaml run --workflow wf.yaml --tenant acme --input "Plan the launch"
//	agentgraph validate wf.json
//	agentgraph models --json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/agentgraph/config"
	"github.com/dshills/agentgraph/graph/registry"
	"github.com/dshills/agentgraph/logging"
)

// Version information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds state shared by every command.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger

	// factory builds provider models; tests swap in mocks.
	factory registry.Factory
}

func newApp() *app {
	return &app{factory: registry.DefaultFactory, logger: zap.NewNop()}
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentgraph",
		Short:         "Run multi-tenant agentic workflows",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./agentgraph.yaml)")

	root.AddCommand(newRunCmd(a), newValidateCmd(a), newModelsCmd(a))
	return root
}

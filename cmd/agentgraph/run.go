package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dshills/agentgraph/config"
	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/agent"
	"github.com/dshills/agentgraph/graph/emit"
	"github.com/dshills/agentgraph/graph/fitness"
	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/registry"
	"github.com/dshills/agentgraph/graph/secrets"
	"github.com/dshills/agentgraph/graph/store"
	"github.com/dshills/agentgraph/graph/tool"
)

// runOptions mirrors the run command's flags.
type runOptions struct {
	workflow       string
	input          string
	inputFile      string
	tenant         string
	keyMode        string
	apiKeys        []string
	maxInvocations int
	criteria       string
	feedback       []string
	jsonOut        bool
	metricsAddr    string
}

// runOutput is what run prints with --json.
type runOutput struct {
	Run        *graph.QueueRunResult `json:"run"`
	Spend      map[string]float64    `json:"spendByModel,omitempty"`
	Evaluation *fitness.Evaluation   `json:"evaluation,omitempty"`
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow for a tenant",
		Long: `Run a workflow definition (JSON or YAML) against the tenant's models.

Provider keys come from the configured secrets backend (shared mode) or from
--api-key flags (byok mode). Pass --evaluate to score the run afterwards.`,
		Example: `  agentgraph run --workflow wf.json --input "Write a haiku" --tenant acme
  agentgraph run --workflow wf.yaml --input-file task.txt --tenant acme --key-mode byok --api-key openai=sk-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.workflow, "workflow", "w", "", "workflow definition file")
	f.StringVarP(&opts.input, "input", "i", "", "run input text")
	f.StringVar(&opts.inputFile, "input-file", "", "read run input from a file, - for stdin")
	f.StringVarP(&opts.tenant, "tenant", "t", "", "tenant id")
	f.StringVar(&opts.keyMode, "key-mode", string(registry.ModeShared), "provider key mode: shared or byok")
	f.StringArrayVar(&opts.apiKeys, "api-key", nil, "provider=key for byok mode (repeatable)")
	f.IntVar(&opts.maxInvocations, "max-invocations", 0, "override the node invocation cap")
	f.StringVar(&opts.criteria, "evaluate", "", "score the run against these evaluation criteria")
	f.StringArrayVar(&opts.feedback, "feedback", nil, "prior feedback to merge into the evaluation (repeatable)")
	f.BoolVar(&opts.jsonOut, "json", false, "print the full result as JSON")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// run executes one workflow: it resolves the tenant's models, builds the
// executor, agent and engine from configuration, runs the queue and prints
// the result. Node failures only show up in the printed result; engine
// errors such as the invocation cap are printed and then returned.
func (a *app) run(ctx context.Context, out io.Writer, stdin io.Reader, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger := a.cfg, a.logger

	wf, err := config.LoadWorkflow(opts.workflow)
	if err != nil {
		return err
	}
	input, err := readInput(opts, stdin)
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog.Build()
	if err != nil {
		return err
	}
	apiKeys, err := parseAPIKeys(opts.apiKeys)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	backend, err := secrets.Open(ctx, cfg.Secrets)
	if err != nil {
		return fmt.Errorf("open secrets: %w", err)
	}

	ctx = registry.WithExecutionContext(ctx, &registry.ExecutionContext{
		Principal:  &registry.Principal{TenantID: opts.tenant, Auth: registry.AuthSession},
		Secrets:    secrets.ForTenant(backend, opts.tenant),
		APIKeys:    apiKeys,
		UserModels: enabledModels(catalog),
	})

	refs, fallback := requiredModels(wf, cfg, catalog, opts.criteria != "")
	reg := registry.New(catalog, registry.WithFactory(a.factory), registry.WithLogger(logger))
	bound, err := reg.Resolve(ctx, registry.Mode(opts.keyMode), refs)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	callMetrics := invoke.NewCallMetrics(promReg)
	runMetrics := graph.NewPrometheusMetrics(promReg)
	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, promReg, logger)
		defer stop()
	}

	runID := uuid.NewString()
	spend := invoke.NewSpendTracker(runID)
	execOpts := append(cfg.Executor.Options(),
		invoke.WithLogger(logger),
		invoke.WithSpendTracker(spend),
		invoke.WithModelHealth(cfg.Health.ModelHealth()),
		invoke.WithOutputSaver(st),
		invoke.WithMetrics(callMetrics),
	)
	if fallback == "" {
		execOpts = append(execOpts, invoke.WithFallbackModel(""))
	}
	exec := invoke.NewExecutor(bound, execOpts...)

	node := agent.New(exec,
		agent.WithTools(tool.NewRegistry(tool.NewHTTPTool())),
		agent.WithLogger(logger),
		agent.WithDefaultModel(cfg.Executor.DefaultModel),
		agent.WithMaxSteps(cfg.Executor.MaxSteps),
		agent.WithSaveOutputs(cfg.Executor.SaveOutputs),
	)

	events := emit.NewAsyncEmitter(emit.Multi{
		emit.NewLogEmitter(logger),
		emit.NewOTelEmitter(otel.Tracer("github.com/dshills/agentgraph")),
	}, cfg.Runner.EventBuffer)
	defer events.Close()

	engine, err := graph.New(node,
		graph.WithMaxNodeInvocations(cfg.Runner.MaxNodeInvocations),
		graph.WithEmitter(events),
		graph.WithStore(st),
		graph.WithLogger(logger),
		graph.WithMetrics(runMetrics),
	)
	if err != nil {
		return err
	}

	res, runErr := engine.QueueRun(ctx, graph.RunRequest{
		WorkflowInvocationID: runID,
		Workflow:             *wf,
		Input:                input,
		MaxNodeInvocations:   opts.maxInvocations,
	})

	result := runOutput{Run: res, Spend: spend.CostByModel()}
	if runErr == nil && opts.criteria != "" {
		evaluator := fitness.NewEvaluator(
			&fitness.JudgeScorer{Exec: exec, Model: cfg.Feedback.Model},
			exec,
			fitness.WithStore(st),
			fitness.WithLogger(logger),
			fitness.WithFeedbackModel(cfg.Feedback.Model),
			fitness.WithMaxFeedbackChars(cfg.Feedback.MaxChars),
		)
		ev, err := evaluator.EvaluateQueueRun(ctx, res, fitness.EvaluationRequest{
			EvaluationCriteria: opts.criteria,
			Feedback:           opts.feedback,
		})
		if err != nil {
			logger.Warn("evaluation failed", zap.Error(err))
		} else {
			result.Evaluation = ev
		}
	}

	if err := printRun(out, result, opts.jsonOut); err != nil {
		return err
	}
	return runErr
}

// readInput takes the run input from --input, --input-file or stdin ("-").
func readInput(opts runOptions, stdin io.Reader) (string, error) {
	switch {
	case opts.input != "" && opts.inputFile != "":
		return "", errors.New("use either --input or --input-file")
	case opts.input != "":
		return opts.input, nil
	case opts.inputFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case opts.inputFile != "":
		data, err := os.ReadFile(opts.inputFile)
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("an input is required: --input or --input-file")
	}
}

// parseAPIKeys turns repeated provider=key flags into a map.
func parseAPIKeys(pairs []string) (map[string]string, error) {
	keys := make(map[string]string, len(pairs))
	for _, p := range pairs {
		provider, key, ok := strings.Cut(p, "=")
		if !ok || provider == "" || key == "" {
			return nil, fmt.Errorf("--api-key must be provider=key, got %q", p)
		}
		keys[provider] = key
	}
	return keys, nil
}

// enabledModels enables every catalog model for the tenant.
func enabledModels(c *registry.Catalog) map[string][]string {
	enabled := make(map[string][]string)
	for _, e := range c.Entries() {
		enabled[e.Provider] = append(enabled[e.Provider], e.Model)
	}
	return enabled
}

// requiredModels lists the model references a run needs keys for. The
// fallback model is kept only when its provider is already required, so a
// fallback never demands an extra credential.
func requiredModels(wf *graph.WorkflowConfig, cfg *config.Config, c *registry.Catalog, evaluate bool) ([]string, string) {
	refs := wf.ModelRefs()
	for _, n := range wf.Nodes {
		if n.ModelName == "" {
			refs = append(refs, cfg.Executor.DefaultModel)
			break
		}
	}
	if evaluate {
		refs = append(refs, cfg.Feedback.Model)
	}

	fallback := cfg.Executor.FallbackModel
	if fallback == "" {
		return refs, ""
	}
	fb, err := c.Lookup(fallback)
	if err != nil {
		return refs, ""
	}
	for _, ref := range refs {
		if e, err := c.Lookup(ref); err == nil && e.Provider == fb.Provider {
			return append(refs, fallback), fallback
		}
	}
	return refs, ""
}

// serveMetrics exposes reg on addr/metrics until the returned stop func is
// called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// printRun writes the run summary, or the full result as indented JSON.
func printRun(out io.Writer, r runOutput, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	if r.Run == nil {
		return nil
	}
	status := "succeeded"
	if !r.Run.Success {
		status = "failed"
	}
	fmt.Fprintf(out, "Run %s %s: %d invocations, $%.4f, %s\n",
		r.Run.WorkflowInvocationID, status, r.Run.Invocations, r.Run.TotalCost, r.Run.TotalTime.Round(time.Millisecond))
	for _, s := range r.Run.Summaries {
		fmt.Fprintf(out, "  [%s] %s\n", s.NodeID, s.Summary)
	}
	if r.Run.FinalWorkflowOutput != "" {
		fmt.Fprintf(out, "\n%s\n", r.Run.FinalWorkflowOutput)
	}
	if r.Evaluation != nil {
		fmt.Fprintf(out, "\nScore %.2f (accuracy %.2f, novelty %.2f)\n",
			r.Evaluation.Fitness.Score, r.Evaluation.Fitness.Accuracy, r.Evaluation.Fitness.Novelty)
		if r.Evaluation.Feedback != "" {
			fmt.Fprintf(out, "%s\n", r.Evaluation.Feedback)
		}
	}
	return nil
}

package fitness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/model"
	"github.com/dshills/agentgraph/graph/store"
)

// DefaultFeedbackChars bounds the concatenated feedback sent for synthesis.
const DefaultFeedbackChars = 12000

const synthesisPrompt = `You are given several pieces of feedback about runs of the same workflow.
Write one short narrative that highlights the recurring themes and the most important improvements.`

// Evaluator scores runs and synthesizes feedback.
type Evaluator struct {
	scorer        Scorer
	exec          *invoke.Executor
	store         store.Store
	logger        *zap.Logger
	feedbackModel string
	maxChars      int
	now           func() time.Time
	newID         func() string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithStore records evaluations in s.
func WithStore(s store.Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithLogger sets the evaluator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFeedbackModel sets the model used for feedback synthesis.
func WithFeedbackModel(ref string) Option {
	return func(e *Evaluator) { e.feedbackModel = ref }
}

// WithMaxFeedbackChars sets the synthesis input budget.
func WithMaxFeedbackChars(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// NewEvaluator returns an Evaluator. exec is only needed for synthesizing
// more than one piece of feedback.
func NewEvaluator(scorer Scorer, exec *invoke.Executor, opts ...Option) *Evaluator {
	e := &Evaluator{
		scorer:        scorer,
		exec:          exec,
		logger:        zap.NewNop(),
		feedbackModel: "fast",
		maxChars:      DefaultFeedbackChars,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SynthesizeFeedback condenses feedback into one narrative. A single entry
// is returned verbatim at no cost.
func (e *Evaluator) SynthesizeFeedback(ctx context.Context, feedback []string) (string, float64, error) {
	var items []string
	for _, f := range feedback {
		if s := strings.TrimSpace(f); s != "" {
			items = append(items, s)
		}
	}
	switch len(items) {
	case 0:
		return "", 0, nil
	case 1:
		return items[0], 0, nil
	}
	if e.exec == nil {
		return "", 0, errors.New("feedback synthesis needs an executor")
	}

	var b strings.Builder
	for i, f := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Feedback %d:\n%s", i+1, f)
	}

	resp := e.exec.Text(ctx, invoke.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: synthesisPrompt},
			{Role: model.RoleUser, Content: truncate(b.String(), e.maxChars)},
		},
		Model: e.feedbackModel,
	})
	if !resp.Success {
		return "", resp.UsdCost, fmt.Errorf("synthesize feedback: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Data.Text), resp.UsdCost, nil
}

// EvaluationRequest describes how to judge a run.
type EvaluationRequest struct {
	EvaluationCriteria   string
	ExpectedOutputSchema string

	// Feedback is prior human feedback to merge with the judge's.
	Feedback []string
}

// Evaluation is the outcome of EvaluateQueueRun.
type Evaluation struct {
	ID       string            `json:"id"`
	Fitness  FitnessOfWorkflow `json:"fitness"`
	Feedback string            `json:"feedback,omitempty"`
	// UsdCost is the cost of evaluating, not of the run.
	UsdCost float64 `json:"usdCost"`
}

// EvaluateQueueRun scores a finished run, synthesizes feedback and records
// the evaluation. Recording is best effort.
func (e *Evaluator) EvaluateQueueRun(ctx context.Context, run *graph.QueueRunResult, req EvaluationRequest) (*Evaluation, error) {
	if run == nil {
		return nil, errors.New("evaluate: nil run result")
	}
	logger := e.logger.With(zap.String("run_id", run.WorkflowInvocationID))

	fit, judgement, cost, err := Fitness(ctx, e.scorer, Input{
		Transcript:           run.NodeOutputs,
		TotalTime:            run.TotalTime,
		TotalCost:            run.TotalCost,
		FinalOutput:          run.FinalWorkflowOutput,
		EvaluationCriteria:   req.EvaluationCriteria,
		ExpectedOutputSchema: req.ExpectedOutputSchema,
	})
	if err != nil {
		logger.Warn("scoring failed", zap.Error(err), zap.Float64("usd_cost", cost))
		return &Evaluation{UsdCost: cost}, fmt.Errorf("score run: %w", err)
	}

	feedback := append(append([]string(nil), req.Feedback...), judgement.Feedback)
	narrative, synthCost, err := e.SynthesizeFeedback(ctx, feedback)
	cost += synthCost
	if err != nil {
		// A score without a narrative is still worth keeping.
		logger.Warn("feedback synthesis failed", zap.Error(err))
		narrative = strings.TrimSpace(judgement.Feedback)
	}

	ev := &Evaluation{ID: e.newID(), Fitness: fit, Feedback: narrative, UsdCost: cost}
	if e.store != nil {
		rec := store.EvaluationRecord{
			ID:                   ev.ID,
			WorkflowInvocationID: run.WorkflowInvocationID,
			Score:                fit.Score,
			Accuracy:             fit.Accuracy,
			Novelty:              fit.Novelty,
			TotalCostUsd:         fit.TotalCostUsd,
			TotalTimeSeconds:     fit.TotalTimeSeconds,
			EvaluationCostUsd:    cost,
			Feedback:             narrative,
			CreatedAt:            e.now(),
		}
		if err := e.store.SaveEvaluation(ctx, rec); err != nil {
			logger.Warn("failed to save evaluation", zap.Error(err))
		}
	}

	logger.Info("run evaluated",
		zap.Float64("score", fit.Score),
		zap.Float64("usd_cost", cost),
	)
	return ev, nil
}

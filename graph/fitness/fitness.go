// Package fitness scores finished workflow runs and condenses feedback.
//
// Scoring strategy is pluggable through Scorer; JudgeScorer asks a model.
// Evaluator.EvaluateQueueRun ties a run result, a scorer and feedback
// synthesis together and records the outcome.
package fitness

import (
	"context"
	"time"

	"github.com/dshills/agentgraph/graph"
)

// FitnessOfWorkflow is the score of one run, or the mean of several.
type FitnessOfWorkflow struct {
	Score            float64 `json:"score"`
	TotalCostUsd     float64 `json:"totalCostUsd"`
	TotalTimeSeconds float64 `json:"totalTimeSeconds"`
	Accuracy         float64 `json:"accuracy"`
	Novelty          float64 `json:"novelty"`
}

// Average returns the per-field arithmetic mean of records. It returns the
// zero value for an empty slice.
func Average(records []FitnessOfWorkflow) FitnessOfWorkflow {
	if len(records) == 0 {
		return FitnessOfWorkflow{}
	}
	var sum FitnessOfWorkflow
	for _, r := range records {
		sum.Score += r.Score
		sum.TotalCostUsd += r.TotalCostUsd
		sum.TotalTimeSeconds += r.TotalTimeSeconds
		sum.Accuracy += r.Accuracy
		sum.Novelty += r.Novelty
	}
	n := float64(len(records))
	return FitnessOfWorkflow{
		Score:            sum.Score / n,
		TotalCostUsd:     sum.TotalCostUsd / n,
		TotalTimeSeconds: sum.TotalTimeSeconds / n,
		Accuracy:         sum.Accuracy / n,
		Novelty:          sum.Novelty / n,
	}
}

// Input is what a scorer sees of a finished run.
type Input struct {
	Transcript  []graph.NodeLog
	TotalTime   time.Duration
	TotalCost   float64
	FinalOutput string

	// EvaluationCriteria is the human or ground-truth evaluation.
	EvaluationCriteria string

	// ExpectedOutputSchema optionally describes the shape the final output
	// should have.
	ExpectedOutputSchema string
}

// Judgement is a scorer's verdict. Scores are in [0, 1].
type Judgement struct {
	Score    float64 `json:"score"`
	Accuracy float64 `json:"accuracy"`
	Novelty  float64 `json:"novelty"`
	Feedback string  `json:"feedback"`
}

// Scorer judges a run. It reports the USD cost of judging even on error.
type Scorer interface {
	Score(ctx context.Context, in Input) (Judgement, float64, error)
}

// ScorerFunc adapts a function to Scorer.
//
// Example:
//
//	lengthScorer := fitness.ScorerFunc(func(_ context.Context, in fitness.Input) (fitness.Judgement, float64, error) {
//	    if len(in.FinalOutput) > 200 {
//	        return fitness.Judgement{Score: 1, Accuracy: 1}, 0, nil
//	    }
//	    return fitness.Judgement{Score: 0.5, Accuracy: 1, Feedback: "too short"}, 0, nil
//	})
type ScorerFunc func(ctx context.Context, in Input) (Judgement, float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, in Input) (Judgement, float64, error) {
	return f(ctx, in)
}

// Fitness scores a run. The returned cost is the scorer's cost; the run's
// own cost is carried in TotalCostUsd.
func Fitness(ctx context.Context, s Scorer, in Input) (FitnessOfWorkflow, Judgement, float64, error) {
	j, cost, err := s.Score(ctx, in)
	if err != nil {
		return FitnessOfWorkflow{}, Judgement{}, cost, err
	}
	j.Score = clamp01(j.Score)
	j.Accuracy = clamp01(j.Accuracy)
	j.Novelty = clamp01(j.Novelty)
	return FitnessOfWorkflow{
		Score:            j.Score,
		TotalCostUsd:     in.TotalCost,
		TotalTimeSeconds: in.TotalTime.Seconds(),
		Accuracy:         j.Accuracy,
		Novelty:          j.Novelty,
	}, j, cost, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

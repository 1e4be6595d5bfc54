package fitness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/model"
)

// DefaultTranscriptChars bounds the transcript sent to a judge.
const DefaultTranscriptChars = 16000

const judgeSystemPrompt = `You evaluate the output of an automated multi-step workflow.
Score it against the evaluation criteria. Every score is a number from 0 to 1.
Respond with {"score": n, "accuracy": n, "novelty": n, "feedback": "<what to improve>"}.`

// JudgeScorer asks a model to score a run.
type JudgeScorer struct {
	Exec  *invoke.Executor
	Model string

	// MaxTranscriptChars defaults to DefaultTranscriptChars.
	MaxTranscriptChars int
}

// Score implements Scorer.
func (j *JudgeScorer) Score(ctx context.Context, in Input) (Judgement, float64, error) {
	limit := j.MaxTranscriptChars
	if limit <= 0 {
		limit = DefaultTranscriptChars
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Evaluation criteria:\n%s\n\n", in.EvaluationCriteria)
	if in.ExpectedOutputSchema != "" {
		fmt.Fprintf(&user, "Expected output schema:\n%s\n\n", in.ExpectedOutputSchema)
	}
	fmt.Fprintf(&user, "Transcript:\n%s\n\n", truncate(renderTranscript(in.Transcript), limit))
	fmt.Fprintf(&user, "Final output:\n%s\n\nThe run took %.1fs and cost $%.4f.", in.FinalOutput, in.TotalTime.Seconds(), in.TotalCost)

	resp := invoke.Structured[Judgement](ctx, j.Exec, invoke.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: judgeSystemPrompt},
			{Role: model.RoleUser, Content: user.String()},
		},
		Model: j.Model,
	})
	if !resp.Success {
		return Judgement{}, resp.UsdCost, errors.New(resp.Error)
	}
	return resp.Data, resp.UsdCost, nil
}

func renderTranscript(logs []graph.NodeLog) string {
	var b strings.Builder
	for _, l := range logs {
		switch l.Type {
		case graph.LogTool:
			fmt.Fprintf(&b, "[%s] tool %s(%s) -> %s\n", l.NodeID, l.ToolName, l.ToolArgs, l.ToolResult)
		case graph.LogError:
			fmt.Fprintf(&b, "[%s] error: %s\n", l.NodeID, l.Text)
		default:
			fmt.Fprintf(&b, "[%s] %s\n", l.NodeID, l.Text)
		}
	}
	return b.String()
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}

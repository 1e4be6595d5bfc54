package invoke

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/agentgraph/graph/model"
)

var (
	errOverallTimeout = errors.New("overall timeout")
	errStallTimeout   = errors.New("stall timeout")
)

// callWithBudget performs one call racing two watchdogs: an overall deadline
// and, for streaming models, a stall timer reset on every progress tick.
// Whichever fires first cancels the call.
func callWithBudget(ctx context.Context, chat model.ChatModel, messages []model.Message, tools []model.ToolSpec, budget Budget) (model.ChatOut, error) {
	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if budget.Overall > 0 {
		overall := time.AfterFunc(budget.Overall, func() { cancel(errOverallTimeout) })
		defer overall.Stop()
	}

	streaming, ok := chat.(model.StreamingChatModel)
	if !ok || budget.Stall <= 0 {
		out, err := chat.Chat(callCtx, messages, tools)
		return out, budgetError(callCtx, budget, err)
	}

	var mu sync.Mutex
	stall := time.AfterFunc(budget.Stall, func() { cancel(errStallTimeout) })
	defer stall.Stop()
	onProgress := func() {
		mu.Lock()
		stall.Reset(budget.Stall)
		mu.Unlock()
	}

	out, err := streaming.ChatStream(callCtx, messages, tools, onProgress)
	return out, budgetError(callCtx, budget, err)
}

// budgetError replaces the error of a call cancelled by a watchdog with a
// *TimeoutError.
func budgetError(callCtx context.Context, budget Budget, err error) error {
	if err == nil {
		return nil
	}
	switch cause := context.Cause(callCtx); {
	case errors.Is(cause, errStallTimeout):
		return &TimeoutError{Stall: true, After: budget.Stall}
	case errors.Is(cause, errOverallTimeout):
		return &TimeoutError{After: budget.Overall}
	}
	return err
}

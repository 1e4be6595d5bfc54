// Package invoke performs model calls for workflow nodes.
//
// The Executor wraps every call with an overall deadline and a stall
// watchdog, retries empty responses with a fixed backoff, substitutes a
// fallback model for models that recently timed out, normalizes provider
// errors and records spend for every attempt whether or not it succeeded.
//
// Callers never receive a Go error from the executor. Every outcome is a
// Response carrying the cost that was incurred.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph/model"
)

// Defaults for the executor.
const (
	DefaultRetries = 2
	DefaultBackoff = 300 * time.Millisecond
)

// Default time budgets.
var (
	TextBudget      = Budget{Overall: 120 * time.Second, Stall: 60 * time.Second}
	ReasoningBudget = Budget{Overall: 240 * time.Second, Stall: 120 * time.Second}
)

// ErrUnknownModel is returned by resolvers for references they cannot map.
var ErrUnknownModel = errors.New("unknown model reference")

// Budget bounds the latency of a single attempt.
type Budget struct {
	// Overall is the hard deadline for the attempt.
	Overall time.Duration

	// Stall is the longest allowed gap between progress ticks. Zero disables
	// stall detection.
	Stall time.Duration
}

// Handle is an invocable model bound to one tenant's credentials.
type Handle struct {
	// Provider is the vendor name, e.g. "openai".
	Provider string

	// Model is the provider's model name.
	Model string

	// Gateway names the proxy in front of the provider, if any.
	Gateway string

	// Chat performs the call.
	Chat model.ChatModel

	// Pricing overrides the built-in price table. The zero value uses
	// DefaultPricing(Model).
	Pricing ModelPricing
}

// ID returns the "provider/model" identifier of the handle.
func (h Handle) ID() string {
	return h.Provider + "/" + h.Model
}

func (h Handle) cost(u model.Usage) float64 {
	p := h.Pricing
	if p == (ModelPricing{}) {
		p, _ = DefaultPricing(h.Model)
	}
	return p.Cost(u)
}

// Resolver maps a model reference (tier name or catalog id) to a handle.
//
// Implementations must return an error wrapping ErrUnknownModel for
// references they cannot map; the executor reports those as a failed
// response without any provider call. registry.Registry is the production
// implementation. StaticResolver serves tests and examples.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Handle, error)
}

// StaticResolver resolves references from a fixed map.
//
// Example usage:
//
//	r := invoke.StaticResolver{
//	    "fast": {Provider: "openai", Model: "gpt-4o-mini", Chat: &model.MockChatModel{}},
//	}
//	exec := invoke.NewExecutor(r)
type StaticResolver map[string]Handle

// Resolve implements Resolver.
func (r StaticResolver) Resolve(_ context.Context, ref string) (Handle, error) {
	h, ok := r[ref]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownModel, ref)
	}
	return h, nil
}

// Options is the per-request options bag.
type Options struct {
	// Reasoning selects the longer reasoning budget.
	Reasoning bool

	// MaxSteps bounds the tool-use loop. Zero uses 5.
	MaxSteps int

	// SaveOutputs persists raw model output through the configured saver.
	SaveOutputs bool
}

// Request is a single logical model request.
type Request struct {
	Messages []model.Message
	Model    string

	// Retries is the number of extra attempts after an empty response. Nil
	// uses DefaultRetries.
	Retries *int

	Options Options

	// Attribution for spend and saved outputs.
	WorkflowInvocationID string
	NodeID               string
}

// Retries returns a pointer to n for Request.Retries.
func Retries(n int) *int { return &n }

// Response is the outcome of a request. UsdCost is always set, including on
// failure.
type Response[T any] struct {
	// Success reports whether Data holds a usable result.
	Success bool `json:"success"`

	// Data is the mode-specific payload. Zero when Success is false.
	Data T `json:"data"`

	// Error is the user-facing message of a failed request.
	Error string `json:"error,omitempty"`

	// UsdCost is the summed cost of every attempt, including empty and
	// failed ones.
	UsdCost float64 `json:"usdCost"`

	// Debug lists attempts and the normalized error, if any.
	Debug *Debug `json:"debug,omitempty"`
}

// Debug carries diagnostics for a response.
type Debug struct {
	Error          *Normalized `json:"error,omitempty"`
	Attempts       []Attempt   `json:"attempts,omitempty"`
	RequestedModel string      `json:"requestedModel,omitempty"`
	UsedModel      string      `json:"usedModel,omitempty"`
}

// Attempt describes one provider call.
type Attempt struct {
	N        int         `json:"n"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Empty    bool        `json:"empty"`
	Usage    model.Usage `json:"usage"`
	UsdCost  float64     `json:"usdCost"`
	Duration string      `json:"duration"`
}

// TextData is the payload of a successful text request.
type TextData struct {
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
}

// OutputRecord is a raw model output persisted when SaveOutputs is set.
type OutputRecord struct {
	ID                   string
	WorkflowInvocationID string
	NodeID               string
	Provider             string
	Model                string
	Attempt              int
	Text                 string
	Reasoning            string
	Usage                model.Usage
	CostUSD              float64
	CreatedAt            time.Time
}

// OutputSaver persists raw model outputs.
type OutputSaver interface {
	SaveModelOutput(ctx context.Context, rec OutputRecord) error
}

// Executor performs model requests. One executor serves one run.
//
// Every attempt gets:
//   - an overall deadline and a stall watchdog (TextBudget or ReasoningBudget)
//   - a health check that swaps in the fallback model for recent timeouts
//   - retries with a fixed backoff when the response is empty
//   - spend recording, whether or not the attempt succeeded
//
// Three modes share this pipeline: Text, Tool and the generic Structured.
//
// Thread-safety: an Executor is safe for concurrent use; parallel branches of
// a run share one.
//
// Example usage:
//
//	exec := invoke.NewExecutor(reg,
//	    invoke.WithLogger(logger),
//	    invoke.WithFallbackModel("fast"),
//	    invoke.WithSpendTracker(invoke.NewSpendTracker(runID)),
//	)
//	res := exec.Text(ctx, invoke.Request{Model: "balanced", Messages: msgs})
//	if !res.Success {
//	    log.Printf("model failed: %s (cost $%.4f)", res.Error, res.UsdCost)
//	}
type Executor struct {
	resolver Resolver
	logger   *zap.Logger
	spend    *SpendTracker
	health   *ModelHealth
	saver    OutputSaver
	metrics  *CallMetrics

	fallbackModel   string
	defaultRetries  int
	backoff         time.Duration
	textBudget      Budget
	reasoningBudget Budget
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSpendTracker sets the run's spend tracker.
func WithSpendTracker(s *SpendTracker) Option {
	return func(e *Executor) { e.spend = s }
}

// WithModelHealth sets the timeout tracker consulted before each request.
func WithModelHealth(h *ModelHealth) Option {
	return func(e *Executor) { e.health = h }
}

// WithFallbackModel sets the model used in place of an unhealthy one.
func WithFallbackModel(ref string) Option {
	return func(e *Executor) { e.fallbackModel = ref }
}

// WithOutputSaver enables persistence of raw outputs for requests that ask for it.
func WithOutputSaver(s OutputSaver) Option {
	return func(e *Executor) { e.saver = s }
}

// WithMetrics records call metrics.
func WithMetrics(m *CallMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithRetries sets the retry count for requests whose Retries is nil.
// Default: DefaultRetries.
func WithRetries(n int) Option {
	return func(e *Executor) { e.defaultRetries = n }
}

// WithBackoff sets the fixed delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(e *Executor) { e.backoff = d }
}

// WithBudgets overrides the text and reasoning budgets.
//
// Default: TextBudget and ReasoningBudget. Tests use millisecond budgets to
// exercise the watchdog:
//
//	invoke.WithBudgets(
//	    invoke.Budget{Overall: 50 * time.Millisecond, Stall: 20 * time.Millisecond},
//	    invoke.Budget{Overall: 100 * time.Millisecond},
//	)
func WithBudgets(text, reasoning Budget) Option {
	return func(e *Executor) {
		e.textBudget = text
		e.reasoningBudget = reasoning
	}
}

// NewExecutor creates an executor that resolves model references through r.
//
// Parameters:
//   - r: maps Request.Model to a provider handle
//   - opts: functional options; unset trackers are created fresh
//
// Returns an executor with its own SpendTracker and ModelHealth unless the
// options supply shared ones.
func NewExecutor(r Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver:        r,
		logger:          zap.NewNop(),
		defaultRetries:  DefaultRetries,
		backoff:         DefaultBackoff,
		textBudget:      TextBudget,
		reasoningBudget: ReasoningBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.spend == nil {
		e.spend = NewSpendTracker("")
	}
	if e.health == nil {
		e.health = NewModelHealth(0, 0)
	}
	return e
}

// Spend returns the executor's spend tracker.
func (e *Executor) Spend() *SpendTracker { return e.spend }

// Health returns the executor's model health tracker.
func (e *Executor) Health() *ModelHealth { return e.health }

// Text asks the model for text.
//
// A response with only whitespace counts as empty and is retried. On success
// Data carries the text and, for reasoning models, the reasoning trace.
//
// Example:
//
//	res := exec.Text(ctx, invoke.Request{
//	    Model:    "balanced",
//	    Messages: []model.Message{{Role: model.RoleUser, Content: "Summarize this."}},
//	    Options:  invoke.Options{Reasoning: true},
//	})
func (e *Executor) Text(ctx context.Context, req Request) Response[TextData] {
	c := e.complete(ctx, req, nil, usableText)
	if !c.ok {
		return Response[TextData]{Error: c.err, UsdCost: c.cost, Debug: c.debug}
	}
	return Response[TextData]{
		Success: true,
		Data:    TextData{Text: c.out.Text, Reasoning: c.out.Reasoning},
		UsdCost: c.cost,
		Debug:   c.debug,
	}
}

func usableText(out model.ChatOut) bool {
	return strings.TrimSpace(out.Text) != ""
}

// completion is the outcome of one attempt loop.
type completion struct {
	ok     bool
	out    model.ChatOut
	handle Handle
	cost   float64
	err    string
	debug  *Debug
}

// complete runs the attempt loop: up to retries+1 attempts, retrying only
// when usable rejects the output.
func (e *Executor) complete(ctx context.Context, req Request, tools []model.ToolSpec, usable func(model.ChatOut) bool) completion {
	debug := &Debug{RequestedModel: req.Model}

	handle, err := e.resolve(ctx, req.Model)
	if err != nil {
		n := Normalize(providerOf(req.Model), err)
		e.logFailure(n, req.Model)
		debug.Error = &n
		return completion{err: n.Message, debug: debug}
	}
	debug.UsedModel = handle.ID()

	retries := e.defaultRetries
	if req.Retries != nil {
		retries = *req.Retries
	}
	if retries < 0 {
		retries = 0
	}
	budget := e.textBudget
	if req.Options.Reasoning {
		budget = e.reasoningBudget
	}

	var total float64
	attempts := retries + 1
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			if err := sleepCtx(ctx, e.backoff); err != nil {
				norm := Normalize(handle.Provider, err)
				debug.Error = &norm
				return completion{handle: handle, cost: total, err: norm.Message, debug: debug}
			}
		}

		start := time.Now()
		out, err := callWithBudget(ctx, handle.Chat, req.Messages, tools, budget)
		elapsed := time.Since(start)

		cost := handle.cost(out.Usage)
		total += cost
		if cost > 0 || err == nil {
			e.spend.Record(SpendRecord{Model: handle.ID(), NodeID: req.NodeID, Usage: out.Usage, CostUSD: cost})
		}

		if err != nil {
			norm := Normalize(handle.Provider, err)
			if norm.Timeout {
				e.health.RecordTimeout(handle.ID())
			}
			e.metrics.observe(handle, string(norm.Category), elapsed, cost)
			e.logFailure(norm, handle.ID())
			debug.Error = &norm
			return completion{handle: handle, cost: total, err: norm.Message, debug: debug}
		}

		if req.Options.SaveOutputs {
			e.saveOutput(ctx, req, handle, n, out, cost)
		}

		empty := !usable(out)
		debug.Attempts = append(debug.Attempts, Attempt{
			N:        n,
			Provider: handle.Provider,
			Model:    handle.Model,
			Empty:    empty,
			Usage:    out.Usage,
			UsdCost:  cost,
			Duration: elapsed.String(),
		})

		if empty {
			e.metrics.observe(handle, "empty", elapsed, cost)
			e.logger.Warn("empty response from model",
				zap.Int("attempt", n),
				zap.Int("max_attempts", attempts),
				zap.String("provider", handle.Provider),
				zap.String("model", handle.Model),
			)
			continue
		}

		e.metrics.observe(handle, "success", elapsed, cost)
		e.health.RecordSuccess(handle.ID())
		return completion{ok: true, out: out, handle: handle, cost: total, debug: debug}
	}

	msg := fmt.Sprintf("Empty response from %s for model %s after %d attempt(s)", handle.Provider, handle.Model, attempts)
	return completion{handle: handle, cost: total, err: msg, debug: debug}
}

// resolve maps ref to a handle and swaps in the fallback model when the
// resolved model is inside a timeout penalty window.
func (e *Executor) resolve(ctx context.Context, ref string) (Handle, error) {
	h, err := e.resolver.Resolve(ctx, ref)
	if err != nil {
		return Handle{}, err
	}
	if e.fallbackModel == "" || !e.health.ShouldFallback(h.ID()) {
		return h, nil
	}

	fb, err := e.resolver.Resolve(ctx, e.fallbackModel)
	if err != nil {
		e.logger.Warn("fallback model unavailable", zap.String("fallback", e.fallbackModel), zap.Error(err))
		return h, nil
	}
	if fb.ID() == h.ID() {
		return h, nil
	}
	e.logger.Info("substituting fallback model",
		zap.String("requested", h.ID()),
		zap.String("used", fb.ID()),
		zap.Int("timeouts", e.health.Timeouts(h.ID())),
	)
	e.metrics.fallback(h.ID(), fb.ID())
	return fb, nil
}

func (e *Executor) logFailure(n Normalized, modelID string) {
	e.logger.Error("model call failed",
		zap.String("category", string(n.Category)),
		zap.String("kind", string(n.Kind)),
		zap.String("provider", n.Provider),
		zap.String("gateway", n.Gateway),
		zap.Int("status", n.StatusCode),
		zap.String("model", modelID),
		zap.String("error", n.Message),
	)
}

func (e *Executor) saveOutput(ctx context.Context, req Request, h Handle, attempt int, out model.ChatOut, cost float64) {
	if e.saver == nil {
		return
	}
	rec := OutputRecord{
		ID:                   uuid.NewString(),
		WorkflowInvocationID: req.WorkflowInvocationID,
		NodeID:               req.NodeID,
		Provider:             h.Provider,
		Model:                h.Model,
		Attempt:              attempt,
		Text:                 out.Text,
		Reasoning:            out.Reasoning,
		Usage:                out.Usage,
		CostUSD:              cost,
		CreatedAt:            time.Now(),
	}
	if err := e.saver.SaveModelOutput(ctx, rec); err != nil {
		e.logger.Warn("failed to save model output", zap.String("node_id", req.NodeID), zap.Error(err))
	}
}

func providerOf(ref string) string {
	if i := strings.IndexByte(ref, '/'); i > 0 {
		return ref[:i]
	}
	return ref
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph/emit"
	"github.com/dshills/agentgraph/graph/store"
)

// Engine runs workflows by message passing.
//
// One Engine can serve many concurrent runs: all per-run state lives in
// QueueRun's frame. Within a run, messages are processed one at a time in
// seq order, each to completion including its node invocation.
//
// Example:
//
//	engine, err := graph.New(agent.New(exec, tools))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := engine.QueueRun(ctx, graph.RunRequest{Workflow: wf, Input: "hello"})
type Engine struct {
	invoker NodeInvoker
	cfg     engineConfig
}

// New creates an Engine that dispatches messages to invoker.
func New(invoker NodeInvoker, opts ...Option) (*Engine, error) {
	if invoker == nil {
		return nil, errors.New("node invoker is required")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Engine{invoker: invoker, cfg: cfg}, nil
}

// RunRequest describes one run.
type RunRequest struct {
	// WorkflowInvocationID identifies the run. Generated when empty.
	WorkflowInvocationID string

	Workflow WorkflowConfig
	Input    string

	// MaxNodeInvocations overrides the engine's cap when positive.
	MaxNodeInvocations int
}

// QueueRunResult is the outcome of a run.
type QueueRunResult struct {
	WorkflowInvocationID string `json:"workflowInvocationId"`

	// Success is false only when the run was aborted by an EngineError.
	Success bool `json:"success"`

	// NodeOutputs is the run transcript.
	NodeOutputs []NodeLog `json:"nodeOutputs"`

	// FinalWorkflowOutput is the output of the last invoked node. It is
	// empty when that node failed.
	FinalWorkflowOutput string `json:"finalWorkflowOutput"`

	// TotalCost is the sum of every invocation's UsdCost, failed ones
	// included.
	TotalCost float64 `json:"totalCost"`

	TotalTime time.Duration `json:"totalTime"`

	Summaries []AgentSummary `json:"summaries"`

	// Invocations counts node invocations. Compare it to the configured cap
	// to tell whether the run stopped early.
	Invocations int `json:"invocations"`

	// Memory is each node's memory at the end of the run, for nodes that
	// have any.
	Memory map[string]map[string]string `json:"memory,omitempty"`
}

// run holds the state of one QueueRun call.
type run struct {
	e      *Engine
	id     string
	wf     WorkflowConfig
	input  string
	max    int
	queue  messageQueue
	joins  *joinBuffer
	result *QueueRunResult
	logger *zap.Logger
}

// QueueRun drives the workflow from its entry node until the queue drains
// or the invocation cap is reached.
//
// The returned result is never nil. On error it carries the cost and
// transcript accumulated before the abort, with Success false. Errors are
// *EngineError values; cancellation of ctx yields code CANCELLED.
func (e *Engine) QueueRun(ctx context.Context, req RunRequest) (*QueueRunResult, error) {
	if e == nil || e.invoker == nil {
		return &QueueRunResult{
			WorkflowInvocationID: req.WorkflowInvocationID,
			NodeOutputs:          []NodeLog{},
			Summaries:            []AgentSummary{},
		}, &EngineError{Code: CodeInvalidEngine, Message: "engine is nil or has no node invoker; use graph.New"}
	}
	started := e.cfg.now()
	r := &run{
		e:     e,
		id:    req.WorkflowInvocationID,
		wf:    req.Workflow.Clone(),
		input: req.Input,
		max:   e.cfg.maxNodeInvocations,
		joins: newJoinBuffer(),
	}
	if r.id == "" {
		r.id = e.cfg.newID()
	}
	if req.MaxNodeInvocations > 0 {
		r.max = req.MaxNodeInvocations
	}
	r.logger = e.cfg.logger.With(zap.String("workflow_invocation_id", r.id))
	r.result = &QueueRunResult{
		WorkflowInvocationID: r.id,
		NodeOutputs:          []NodeLog{},
		Summaries:            []AgentSummary{},
	}

	err := r.loop(ctx)

	r.result.TotalTime = e.cfg.now().Sub(started)
	r.result.Memory = r.memorySnapshot()
	outcome := "success"
	switch {
	case err != nil:
		var ee *EngineError
		if errors.As(err, &ee) {
			outcome = ee.Code
		}
		r.logger.Error("workflow run aborted", zap.Error(err), zap.Int("invocations", r.result.Invocations))
	case r.result.Invocations >= r.max && r.queue.len() > 0:
		outcome = "capped"
		r.logger.Warn("workflow run stopped at invocation cap",
			zap.Int("max_node_invocations", r.max), zap.Int("queued", r.queue.len()))
	}
	r.result.Success = err == nil
	e.cfg.metrics.recordRun(outcome)

	meta := map[string]interface{}{
		"success":     r.result.Success,
		"usd_cost":    r.result.TotalCost,
		"duration_ms": r.result.TotalTime.Milliseconds(),
		"invocations": r.result.Invocations,
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	r.emit(emit.Event{Type: emit.RunCompleted, Meta: meta})

	return r.result, err
}

func (r *run) loop(ctx context.Context) error {
	if err := r.wf.Validate(); err != nil {
		return err
	}

	initial := WorkflowMessage{
		ID:                   r.e.cfg.newID(),
		FromNodeID:           StartNodeID,
		ToNodeID:             r.wf.EntryNodeID,
		Seq:                  r.queue.nextSeq(),
		Payload:              SequentialPayload{Prompt: r.input},
		WorkflowInvocationID: r.id,
		CreatedAt:            r.e.cfg.now(),
	}
	r.enqueue(ctx, initial)

	for r.queue.len() > 0 && r.result.Invocations < r.max {
		if err := ctx.Err(); err != nil {
			return &EngineError{Code: CodeCancelled, Message: "workflow run cancelled", Err: err}
		}

		m, _ := r.queue.pop()
		r.e.cfg.metrics.updateQueueDepth(r.queue.len())

		if m.ToNodeID == EndNodeID {
			continue
		}

		node, ok := r.wf.Node(m.ToNodeID)
		if !ok {
			return &EngineError{
				Code:    CodeNodeNotFound,
				NodeID:  m.ToNodeID,
				Message: fmt.Sprintf("message %d from %q addressed to unknown node %q", m.Seq, m.FromNodeID, m.ToNodeID),
			}
		}

		if r.wf.Mode == ModeHierarchical {
			if err := r.checkHierarchy(m); err != nil {
				return err
			}
		}

		consumed := []string{m.ID}
		if len(node.WaitFor) > 0 {
			buffered, ready := r.joins.add(node.ID, node.WaitFor, m)
			r.e.cfg.metrics.updateJoinWaiting(node.ID, r.joins.waiting(node.ID))
			if !ready {
				r.logger.Debug("join waiting",
					zap.String("node_id", node.ID), zap.String("from_node_id", m.FromNodeID),
					zap.Strings("wait_for", node.WaitFor))
				continue
			}
			m = r.aggregated(ctx, m, buffered)
			consumed = consumed[:0]
			for _, b := range buffered {
				consumed = append(consumed, b.ID)
			}
			consumed = append(consumed, m.ID)
		}

		res := r.dispatch(ctx, node, m)
		r.stamp(ctx, consumed, res.InvocationID)
		r.route(ctx, node, res)
		r.updateMemory(ctx, node, res)
	}

	if len(r.result.Summaries) == 0 {
		return &EngineError{Code: CodeNoSummaries, Message: "workflow produced no summaries; no node was invoked"}
	}
	return nil
}

// checkHierarchy rejects worker-to-worker traffic and delegations that do
// not come from the orchestrator.
func (r *run) checkHierarchy(m WorkflowMessage) error {
	from, to := r.wf.Role(m.FromNodeID), r.wf.Role(m.ToNodeID)
	if from == RoleWorker && to == RoleWorker {
		return &EngineError{
			Code:    CodeHierarchyViolation,
			NodeID:  m.FromNodeID,
			Message: fmt.Sprintf("worker %q cannot message worker %q", m.FromNodeID, m.ToNodeID),
		}
	}
	if m.Payload != nil && m.Payload.Kind() == KindDelegation &&
		m.FromNodeID != StartNodeID && from != RoleOrchestrator {
		return &EngineError{
			Code:    CodeHierarchyViolation,
			NodeID:  m.FromNodeID,
			Message: fmt.Sprintf("only the orchestrator may delegate; got delegation from %q", m.FromNodeID),
		}
	}
	return nil
}

// aggregated builds the message that replaces a satisfied join.
func (r *run) aggregated(ctx context.Context, last WorkflowMessage, buffered []WorkflowMessage) WorkflowMessage {
	m := WorkflowMessage{
		ID:                   r.e.cfg.newID(),
		OriginInvocationID:   last.OriginInvocationID,
		FromNodeID:           last.FromNodeID,
		ToNodeID:             last.ToNodeID,
		Seq:                  r.queue.nextSeq(),
		Payload:              aggregate(buffered),
		WorkflowInvocationID: r.id,
		CreatedAt:            r.e.cfg.now(),
	}
	r.persistMessage(ctx, m)
	return m
}

func (r *run) dispatch(ctx context.Context, node *NodeConfig, m WorkflowMessage) NodeInvocationResult {
	r.emit(emit.Event{Type: emit.NodeStarted, Seq: m.Seq, NodeID: node.ID,
		Meta: map[string]interface{}{"from": m.FromNodeID, "kind": string(m.Payload.Kind())}})

	started := r.e.cfg.now()
	res := r.invoke(ctx, node, NodeRequest{
		WorkflowInvocationID: r.id,
		Node:                 node.clone(),
		Message:              m,
		Workflow:             &r.wf,
		Input:                r.input,
	})
	finished := r.e.cfg.now()
	elapsed := finished.Sub(started)

	if res.InvocationID == "" {
		res.InvocationID = r.e.cfg.newID()
	}
	if res.Summary.NodeID == "" {
		res.Summary.NodeID = node.ID
	}
	if res.Summary.InvocationID == "" {
		res.Summary.InvocationID = res.InvocationID
	}

	r.result.Invocations++
	r.result.NodeOutputs = append(r.result.NodeOutputs, res.Logs...)
	r.result.TotalCost += res.UsdCost
	r.result.Summaries = append(r.result.Summaries, res.Summary)
	r.result.FinalWorkflowOutput = res.Output

	r.e.cfg.metrics.recordInvocation(node.ID, elapsed, res.UsdCost, res.Err != nil)
	r.persistInvocation(ctx, node.ID, res, started, finished)

	meta := map[string]interface{}{
		"usd_cost":    res.UsdCost,
		"duration_ms": elapsed.Milliseconds(),
		"next":        res.NextIDs,
	}
	ev := emit.Event{Type: emit.NodeCompleted, Seq: m.Seq, NodeID: node.ID, InvocationID: res.InvocationID, Meta: meta}
	if res.Err != nil {
		ev.Type = emit.NodeFailed
		meta["error"] = res.Err.Error()
		r.logger.Warn("node invocation failed",
			zap.String("node_id", node.ID), zap.String("invocation_id", res.InvocationID), zap.Error(res.Err))
	}
	r.emit(ev)
	return res
}

// invoke calls the node invoker and turns a panic into a *NodeError. The
// failure is routed like any other node error: to the first handoff, or to
// end.
func (r *run) invoke(ctx context.Context, node *NodeConfig, req NodeRequest) (res NodeInvocationResult) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		stack := string(debug.Stack())
		id := r.e.cfg.newID()
		msg := fmt.Sprintf("panic: %v", p)
		r.logger.Error("node invocation panicked",
			zap.String("node_id", node.ID), zap.String("invocation_id", id),
			zap.Any("panic", p), zap.String("stack", stack))

		next := []string{EndNodeID}
		if len(node.HandOffs) > 0 {
			next = []string{node.HandOffs[0]}
		}
		res = NodeInvocationResult{
			InvocationID: id,
			Err:          &NodeError{NodeID: node.ID, Message: msg, Stack: stack},
			NextIDs:      next,
			Summary:      AgentSummary{NodeID: node.ID, InvocationID: id, Summary: "failed: " + msg},
			Logs:         []NodeLog{{Type: LogError, NodeID: node.ID, InvocationID: id, Text: msg}},
		}
	}()
	return r.e.invoker.InvokeNode(ctx, req)
}

// route enqueues one message per next id.
func (r *run) route(ctx context.Context, node *NodeConfig, res NodeInvocationResult) {
	fanOut := len(res.NextIDs) > 1 && !contains(res.NextIDs, EndNodeID)

	reply := res.Reply
	if reply == nil {
		reply = SequentialPayload{Prompt: res.Output}
	}

	for _, next := range res.NextIDs {
		var payload Payload
		switch {
		case res.Err != nil:
			payload = errorPayload(res.Err)
		case fanOut:
			payload = labelFor(reply, next)
		default:
			payload = reply
		}
		r.enqueue(ctx, WorkflowMessage{
			ID:                   r.e.cfg.newID(),
			OriginInvocationID:   res.InvocationID,
			FromNodeID:           node.ID,
			ToNodeID:             next,
			Seq:                  r.queue.nextSeq(),
			Payload:              payload,
			WorkflowInvocationID: r.id,
			CreatedAt:            r.e.cfg.now(),
		})
	}
	r.e.cfg.metrics.updateQueueDepth(r.queue.len())
}

// updateMemory writes returned memory into the run's config. Memory from a
// terminal node is final and is persisted.
func (r *run) updateMemory(ctx context.Context, node *NodeConfig, res NodeInvocationResult) {
	if res.UpdatedMemory == nil {
		return
	}
	node.Memory = copyMemory(res.UpdatedMemory)
	if !contains(res.NextIDs, EndNodeID) {
		return
	}

	r.emit(emit.Event{Type: emit.MemoryReady, NodeID: node.ID, InvocationID: res.InvocationID,
		Meta: map[string]interface{}{"keys": len(node.Memory)}})
	if st := r.e.cfg.store; st != nil {
		rec := store.MemoryRecord{
			WorkflowInvocationID: r.id,
			NodeID:               node.ID,
			Memory:               copyMemory(node.Memory),
			UpdatedAt:            r.e.cfg.now(),
		}
		if err := st.SaveMemory(ctx, rec); err != nil {
			r.logger.Warn("failed to persist node memory", zap.String("node_id", node.ID), zap.Error(err))
		}
	}
}

func (r *run) enqueue(ctx context.Context, m WorkflowMessage) {
	r.queue.push(m)
	r.persistMessage(ctx, m)
}

func (r *run) persistMessage(ctx context.Context, m WorkflowMessage) {
	st := r.e.cfg.store
	if st == nil {
		return
	}
	payload, err := MarshalPayload(m.Payload)
	if err != nil {
		r.logger.Warn("failed to encode message payload", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	rec := store.MessageRecord{
		ID:                   m.ID,
		WorkflowInvocationID: r.id,
		Seq:                  m.Seq,
		FromNodeID:           m.FromNodeID,
		ToNodeID:             m.ToNodeID,
		OriginInvocationID:   m.OriginInvocationID,
		Kind:                 string(m.Payload.Kind()),
		Payload:              payload,
		CreatedAt:            m.CreatedAt,
	}
	if err := st.SaveMessage(ctx, rec); err != nil {
		r.logger.Warn("failed to persist message", zap.String("message_id", m.ID), zap.Error(err))
	}
}

// stamp links consumed messages to the invocation they produced.
func (r *run) stamp(ctx context.Context, messageIDs []string, invocationID string) {
	st := r.e.cfg.store
	if st == nil {
		return
	}
	for _, id := range messageIDs {
		if err := st.StampMessage(ctx, id, invocationID); err != nil {
			r.logger.Warn("failed to stamp message", zap.String("message_id", id), zap.Error(err))
		}
	}
}

func (r *run) persistInvocation(ctx context.Context, nodeID string, res NodeInvocationResult, started, finished time.Time) {
	st := r.e.cfg.store
	if st == nil {
		return
	}
	rec := store.InvocationRecord{
		ID:                   res.InvocationID,
		WorkflowInvocationID: r.id,
		NodeID:               nodeID,
		Output:               res.Output,
		UsdCost:              res.UsdCost,
		Summary:              res.Summary.Summary,
		StartedAt:            started,
		FinishedAt:           finished,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := st.SaveInvocation(ctx, rec); err != nil {
		r.logger.Warn("failed to persist invocation", zap.String("invocation_id", res.InvocationID), zap.Error(err))
	}
}

func (r *run) emit(ev emit.Event) {
	ev.RunID = r.id
	if ev.Time.IsZero() {
		ev.Time = r.e.cfg.now()
	}
	r.e.cfg.emitter.Emit(ev)
}

func (r *run) memorySnapshot() map[string]map[string]string {
	var out map[string]map[string]string
	for _, n := range r.wf.Nodes {
		if len(n.Memory) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]map[string]string)
		}
		out[n.ID] = copyMemory(n.Memory)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Package graph runs agentic workflows: directed graphs of model-backed
// nodes that exchange messages until the queue drains.
//
// A workflow is a WorkflowConfig: nodes referenced by id, an entry node and
// a coordination mode. The Engine:
//   - Seeds the queue with one message from "start" to the entry node
//   - Processes messages one at a time in seq order
//   - Buffers messages for join nodes (waitFor) and delivers them as one
//     aggregated payload when every sender has reported
//   - Enforces the hierarchy in hierarchical mode (workers talk only to the
//     orchestrator or "end"; only the orchestrator delegates)
//   - Invokes the node through a NodeInvoker and routes its reply to the
//     node ids it returns, labelling each branch of a fan-out
//   - Forwards node failures downstream as error payloads, so one failing
//     node never aborts the run
//   - Stops at a soft cap on node invocations
//   - Emits progress events, records Prometheus metrics and persists an
//     audit trail when configured
//
// Only configuration-class problems abort a run, as an *EngineError.
//
// Model-backed nodes live in graph/agent; model calls go through
// graph/invoke; tenant credentials are resolved by graph/registry.
//
// Example:
//
//	exec := invoke.NewExecutor(resolver, invoke.WithLogger(logger))
//	engine, err := graph.New(agent.New(exec),
//	    graph.WithStore(st),
//	    graph.WithEmitter(emit.NewLogEmitter(logger)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := engine.QueueRun(ctx, graph.RunRequest{
//	    Workflow: graph.WorkflowConfig{
//	        EntryNodeID: "draft",
//	        Nodes: []graph.NodeConfig{
//	            {ID: "draft", SystemPrompt: "Draft it.", HandOffs: []string{"review"}},
//	            {ID: "review", SystemPrompt: "Tighten it."},
//	        },
//	    },
//	    Input: "Announce the new pricing page",
//	})
//	fmt.Println(res.FinalWorkflowOutput, res.TotalCost)
package graph

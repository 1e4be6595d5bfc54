package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph/model"
	"github.com/dshills/agentgraph/graph/tool"
)

const defaultMaxSteps = 5

// Step types recorded by the tool-use loop.
const (
	StepText  = "text"
	StepTool  = "tool"
	StepError = "error"
)

// ToolStep is one entry of a tool-use loop transcript.
type ToolStep struct {
	Type     string                 `json:"type"`
	ToolName string                 `json:"toolName,omitempty"`
	Args     map[string]interface{} `json:"args,omitempty"`
	Result   string                 `json:"result,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Error    string                 `json:"error,omitempty"`
	UsdCost  float64                `json:"usdCost"`
}

// ToolData is the payload of a successful tool-mode request.
type ToolData struct {
	Text  string     `json:"text"`
	Steps []ToolStep `json:"steps"`
}

// Tool runs a tool-use loop: the model may call tools for up to MaxSteps
// rounds, after which it is asked for a final answer without tools. Tool
// failures are reported back to the model rather than aborting the loop.
//
// Returns a response whose Data.Steps is the full transcript, one ToolStep
// per tool call, text turn or error, each with its own cost. UsdCost is the
// sum across all rounds.
//
// Example:
//
//	tools := []tool.Tool{tool.NewHTTPTool()}
//	res := exec.Tool(ctx, invoke.Request{
//	    Model:    "balanced",
//	    Messages: msgs,
//	    Options:  invoke.Options{MaxSteps: 3},
//	}, tools)
//	for _, s := range res.Data.Steps {
//	    fmt.Println(s.Type, s.ToolName)
//	}
func (e *Executor) Tool(ctx context.Context, req Request, tools []tool.Tool) Response[ToolData] {
	maxSteps := req.Options.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	byName := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	specs := tool.Specs(tools)

	messages := append([]model.Message(nil), req.Messages...)
	var (
		total float64
		steps []ToolStep
	)

	for step := 0; step < maxSteps; step++ {
		stepReq := req
		stepReq.Messages = messages
		c := e.complete(ctx, stepReq, specs, usableStep)
		total += c.cost
		if !c.ok {
			steps = append(steps, ToolStep{Type: StepError, Error: c.err, UsdCost: c.cost})
			return Response[ToolData]{Data: ToolData{Steps: steps}, Error: c.err, UsdCost: total, Debug: c.debug}
		}

		if len(c.out.ToolCalls) == 0 {
			steps = append(steps, ToolStep{Type: StepText, Text: c.out.Text, UsdCost: c.cost})
			return Response[ToolData]{
				Success: true,
				Data:    ToolData{Text: c.out.Text, Steps: steps},
				UsdCost: total,
				Debug:   c.debug,
			}
		}

		stepCost := c.cost
		if strings.TrimSpace(c.out.Text) != "" {
			steps = append(steps, ToolStep{Type: StepText, Text: c.out.Text, UsdCost: stepCost})
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: c.out.Text})
			stepCost = 0
		}

		for _, call := range c.out.ToolCalls {
			result, step := e.runTool(ctx, byName, call)
			// The model call that requested the tools is billed on the first tool step.
			step.UsdCost, stepCost = stepCost, 0
			steps = append(steps, step)
			args, _ := json.Marshal(call.Input)
			messages = append(messages,
				model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("Calling tool %s with %s", call.Name, args)},
				model.Message{Role: model.RoleUser, Content: fmt.Sprintf("Tool %s returned: %s", call.Name, result)},
			)
		}
	}

	messages = append(messages, model.Message{
		Role:    model.RoleUser,
		Content: "The tool budget is exhausted. Give your final answer now without calling tools.",
	})
	finalReq := req
	finalReq.Messages = messages
	c := e.complete(ctx, finalReq, nil, usableText)
	total += c.cost
	if !c.ok {
		steps = append(steps, ToolStep{Type: StepError, Error: c.err, UsdCost: c.cost})
		return Response[ToolData]{Data: ToolData{Steps: steps}, Error: c.err, UsdCost: total, Debug: c.debug}
	}
	steps = append(steps, ToolStep{Type: StepText, Text: c.out.Text, UsdCost: c.cost})
	return Response[ToolData]{
		Success: true,
		Data:    ToolData{Text: c.out.Text, Steps: steps},
		UsdCost: total,
		Debug:   c.debug,
	}
}

func usableStep(out model.ChatOut) bool {
	return len(out.ToolCalls) > 0 || strings.TrimSpace(out.Text) != ""
}

func (e *Executor) runTool(ctx context.Context, byName map[string]tool.Tool, call model.ToolCall) (string, ToolStep) {
	step := ToolStep{Type: StepTool, ToolName: call.Name, Args: call.Input}

	t, ok := byName[call.Name]
	if !ok {
		step.Error = fmt.Sprintf("tool %q is not available", call.Name)
		return "error: " + step.Error, step
	}

	out, err := t.Call(ctx, call.Input)
	if err != nil {
		e.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		step.Error = err.Error()
		return "error: " + step.Error, step
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		step.Error = fmt.Sprintf("encode result: %v", err)
		return "error: " + step.Error, step
	}
	step.Result = string(encoded)
	return step.Result, step
}

const structuredInstruction = "Respond with a single JSON object and nothing else."

// Structured asks the model for a JSON object and decodes it into T. A
// response that is empty or cannot be decoded counts as an empty attempt and
// is retried like an empty text response.
//
// The model's text may wrap the object in prose or a Markdown fence;
// ExtractJSON strips both before decoding.
//
// Example:
//
//	type route struct {
//	    Next   string `json:"next"`
//	    Reason string `json:"reason"`
//	}
//	res := invoke.Structured[route](ctx, exec, invoke.Request{Model: "fast", Messages: msgs})
//	if res.Success {
//	    fmt.Println("routing to", res.Data.Next)
//	}
func Structured[T any](ctx context.Context, e *Executor, req Request) Response[T] {
	req.Messages = append(append([]model.Message(nil), req.Messages...), model.Message{
		Role:    model.RoleSystem,
		Content: structuredInstruction,
	})

	var decoded T
	c := e.complete(ctx, req, nil, func(out model.ChatOut) bool {
		var v T
		if err := json.Unmarshal([]byte(ExtractJSON(out.Text)), &v); err != nil {
			return false
		}
		decoded = v
		return true
	})
	if !c.ok {
		return Response[T]{Error: c.err, UsdCost: c.cost, Debug: c.debug}
	}
	return Response[T]{Success: true, Data: decoded, UsdCost: c.cost, Debug: c.debug}
}

// ExtractJSON returns the outermost JSON object in text, stripping Markdown
// code fences and surrounding prose.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PayloadKind tags the variants of Payload on the wire.
type PayloadKind string

// Payload kinds.
const (
	KindSequential PayloadKind = "sequential"
	KindDelegation PayloadKind = "delegation"
	KindAggregated PayloadKind = "aggregated"
	KindError      PayloadKind = "error"
)

// Payload is the content of a WorkflowMessage. The set of variants is
// closed: SequentialPayload, DelegationPayload, AggregatedPayload and
// ErrorPayload.
type Payload interface {
	// Kind returns the variant tag used on the wire.
	Kind() PayloadKind
	isPayload()
}

// SequentialPayload is plain text passed from one node to the next.
type SequentialPayload struct {
	Prompt string `json:"prompt"`
}

// DelegationPayload is a task handed from the orchestrator to a worker.
type DelegationPayload struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// AggregatedPayload is built by the runner when a node's waitFor set is
// complete. Messages are in receipt order.
type AggregatedPayload struct {
	Messages []AggregatedItem `json:"messages"`
}

// AggregatedItem is one buffered message of a join.
type AggregatedItem struct {
	FromNodeID string
	Payload    Payload
}

// ErrorPayload carries a node failure downstream.
type ErrorPayload struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Kind implements Payload.
func (SequentialPayload) Kind() PayloadKind { return KindSequential }

// Kind implements Payload.
func (DelegationPayload) Kind() PayloadKind { return KindDelegation }

// Kind implements Payload.
func (AggregatedPayload) Kind() PayloadKind { return KindAggregated }

// Kind implements Payload.
func (ErrorPayload) Kind() PayloadKind { return KindError }

func (SequentialPayload) isPayload() {}
func (DelegationPayload) isPayload() {}
func (AggregatedPayload) isPayload() {}
func (ErrorPayload) isPayload()      {}

// PayloadText renders a payload as prompt text for a model.
//
// Rendering:
//   - Sequential: the prompt
//   - Delegation: the prompt, then "Context:" and the context when set
//   - Aggregated: one "[From <node>]:" block per message, in receipt order
//   - Error: "Error: <message>"
//   - nil: ""
func PayloadText(p Payload) string {
	switch v := p.(type) {
	case SequentialPayload:
		return v.Prompt
	case DelegationPayload:
		if v.Context == "" {
			return v.Prompt
		}
		return v.Prompt + "\n\nContext:\n" + v.Context
	case AggregatedPayload:
		var b strings.Builder
		for i, item := range v.Messages {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[From %s]:\n%s", item.FromNodeID, PayloadText(item.Payload))
		}
		return b.String()
	case ErrorPayload:
		return "Error: " + v.Message
	case nil:
		return ""
	default:
		panic(fmt.Sprintf("graph: unknown payload type %T", p))
	}
}

// labelFor returns the copy of p delivered to one branch of a fan-out, with
// its text prefixed by "[Task for <target>]: ".
func labelFor(p Payload, target string) Payload {
	prefix := "[Task for " + target + "]: "
	switch v := p.(type) {
	case SequentialPayload:
		return SequentialPayload{Prompt: prefix + v.Prompt}
	case DelegationPayload:
		return DelegationPayload{Prompt: prefix + v.Prompt, Context: v.Context}
	case ErrorPayload:
		return v
	default:
		return SequentialPayload{Prompt: prefix + PayloadText(p)}
	}
}

// payloadEnvelope is the tagged wire form of every payload variant.
type payloadEnvelope struct {
	Kind     PayloadKind       `json:"kind"`
	Prompt   string            `json:"prompt,omitempty"`
	Context  string            `json:"context,omitempty"`
	Messages []aggregatedEntry `json:"messages,omitempty"`
	Message  string            `json:"message,omitempty"`
	Stack    string            `json:"stack,omitempty"`
}

type aggregatedEntry struct {
	FromNodeID string          `json:"fromNodeId"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalPayload encodes p as a JSON object tagged with "kind".
//
// Example output:
//
//	{"kind":"delegation","prompt":"Collect pricing data","context":"Announce the new pricing page"}
//	{"kind":"aggregated","messages":[{"fromNodeId":"a","payload":{"kind":"sequential","prompt":"..."}}]}
func MarshalPayload(p Payload) ([]byte, error) {
	env := payloadEnvelope{}
	switch v := p.(type) {
	case SequentialPayload:
		env.Kind, env.Prompt = KindSequential, v.Prompt
	case DelegationPayload:
		env.Kind, env.Prompt, env.Context = KindDelegation, v.Prompt, v.Context
	case AggregatedPayload:
		env.Kind = KindAggregated
		env.Messages = make([]aggregatedEntry, 0, len(v.Messages))
		for _, item := range v.Messages {
			raw, err := MarshalPayload(item.Payload)
			if err != nil {
				return nil, err
			}
			env.Messages = append(env.Messages, aggregatedEntry{FromNodeID: item.FromNodeID, Payload: raw})
		}
	case ErrorPayload:
		env.Kind, env.Message, env.Stack = KindError, v.Message, v.Stack
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}
	return json.Marshal(env)
}

// UnmarshalPayload decodes the output of MarshalPayload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	switch env.Kind {
	case KindSequential:
		return SequentialPayload{Prompt: env.Prompt}, nil
	case KindDelegation:
		return DelegationPayload{Prompt: env.Prompt, Context: env.Context}, nil
	case KindAggregated:
		agg := AggregatedPayload{Messages: make([]AggregatedItem, 0, len(env.Messages))}
		for _, entry := range env.Messages {
			inner, err := UnmarshalPayload(entry.Payload)
			if err != nil {
				return nil, err
			}
			agg.Messages = append(agg.Messages, AggregatedItem{FromNodeID: entry.FromNodeID, Payload: inner})
		}
		return agg, nil
	case KindError:
		return ErrorPayload{Message: env.Message, Stack: env.Stack}, nil
	}
	return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
}

// WorkflowMessage is the unit of communication between nodes.
//
// The payload is immutable once the message is queued. TargetInvocationID
// is the only field written afterwards, once, when the receiving node has
// been invoked.
type WorkflowMessage struct {
	// ID is unique within the store; used to stamp TargetInvocationID.
	ID string

	// OriginInvocationID is the invocation that produced the message. Empty
	// only for the initial message of a run.
	OriginInvocationID string

	// FromNodeID is StartNodeID for the initial message.
	FromNodeID string

	// ToNodeID may be EndNodeID, in which case the message is consumed
	// without invoking anything.
	ToNodeID string

	// Seq orders messages within a run. It is assigned by the runner.
	Seq int

	Payload Payload

	WorkflowInvocationID string

	// TargetInvocationID is the invocation that consumed the message.
	TargetInvocationID string

	CreatedAt time.Time
}

type messageJSON struct {
	ID                   string          `json:"id"`
	OriginInvocationID   *string         `json:"originInvocationId"`
	FromNodeID           string          `json:"fromNodeId"`
	ToNodeID             string          `json:"toNodeId"`
	Seq                  int             `json:"seq"`
	Payload              json.RawMessage `json:"payload"`
	WorkflowInvocationID string          `json:"workflowInvocationId"`
	TargetInvocationID   string          `json:"targetInvocationId,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// MarshalJSON encodes the message with camelCase keys and a tagged payload.
// originInvocationId is null for the initial message.
func (m WorkflowMessage) MarshalJSON() ([]byte, error) {
	payload, err := MarshalPayload(m.Payload)
	if err != nil {
		return nil, err
	}
	out := messageJSON{
		ID:                   m.ID,
		FromNodeID:           m.FromNodeID,
		ToNodeID:             m.ToNodeID,
		Seq:                  m.Seq,
		Payload:              payload,
		WorkflowInvocationID: m.WorkflowInvocationID,
		TargetInvocationID:   m.TargetInvocationID,
		CreatedAt:            m.CreatedAt,
	}
	if m.OriginInvocationID != "" {
		origin := m.OriginInvocationID
		out.OriginInvocationID = &origin
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the output of MarshalJSON.
func (m *WorkflowMessage) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload, err := UnmarshalPayload(in.Payload)
	if err != nil {
		return err
	}
	*m = WorkflowMessage{
		ID:                   in.ID,
		FromNodeID:           in.FromNodeID,
		ToNodeID:             in.ToNodeID,
		Seq:                  in.Seq,
		Payload:              payload,
		WorkflowInvocationID: in.WorkflowInvocationID,
		TargetInvocationID:   in.TargetInvocationID,
		CreatedAt:            in.CreatedAt,
	}
	if in.OriginInvocationID != nil {
		m.OriginInvocationID = *in.OriginInvocationID
	}
	return nil
}

package graph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadText(t *testing.T) {
	tests := []struct {
		name string
		in   Payload
		want string
	}{
		{"sequential", SequentialPayload{Prompt: "hi"}, "hi"},
		{"delegation", DelegationPayload{Prompt: "do x"}, "do x"},
		{"delegation with context", DelegationPayload{Prompt: "do x", Context: "y"}, "do x\n\nContext:\ny"},
		{"error", ErrorPayload{Message: "boom"}, "Error: boom"},
		{"nil", nil, ""},
		{"aggregated", AggregatedPayload{Messages: []AggregatedItem{
			{FromNodeID: "A", Payload: SequentialPayload{Prompt: "one"}},
			{FromNodeID: "B", Payload: ErrorPayload{Message: "two"}},
		}}, "[From A]:\none\n\n[From B]:\nError: two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PayloadText(tt.in))
		})
	}
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, SequentialPayload{Prompt: "[Task for X]: foo"}, labelFor(SequentialPayload{Prompt: "foo"}, "X"))
	assert.Equal(t, DelegationPayload{Prompt: "[Task for Y]: foo", Context: "c"},
		labelFor(DelegationPayload{Prompt: "foo", Context: "c"}, "Y"))
	assert.Equal(t, ErrorPayload{Message: "e"}, labelFor(ErrorPayload{Message: "e"}, "X"))

	agg := AggregatedPayload{Messages: []AggregatedItem{{FromNodeID: "A", Payload: SequentialPayload{Prompt: "a"}}}}
	assert.Equal(t, SequentialPayload{Prompt: "[Task for Z]: [From A]:\na"}, labelFor(agg, "Z"))
}

func TestPayloadJSON(t *testing.T) {
	nested := AggregatedPayload{Messages: []AggregatedItem{
		{FromNodeID: "A", Payload: SequentialPayload{Prompt: "one"}},
		{FromNodeID: "B", Payload: DelegationPayload{Prompt: "two", Context: "ctx"}},
		{FromNodeID: "C", Payload: ErrorPayload{Message: "three", Stack: "s"}},
	}}

	data, err := MarshalPayload(nested)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"aggregated","messages":[
		{"fromNodeId":"A","payload":{"kind":"sequential","prompt":"one"}},
		{"fromNodeId":"B","payload":{"kind":"delegation","prompt":"two","context":"ctx"}},
		{"fromNodeId":"C","payload":{"kind":"error","message":"three","stack":"s"}}]}`, string(data))

	got, err := UnmarshalPayload(data)
	require.NoError(t, err)
	assert.Equal(t, nested, got)

	_, err = UnmarshalPayload([]byte(`{"kind":"telepathy"}`))
	assert.ErrorContains(t, err, `unknown payload kind "telepathy"`)

	_, err = MarshalPayload(nil)
	assert.Error(t, err)
}

func TestWorkflowMessageJSON(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	initial := WorkflowMessage{ID: "m1", FromNodeID: StartNodeID, ToNodeID: "A", Seq: 1,
		Payload: SequentialPayload{Prompt: "go"}, WorkflowInvocationID: "run", CreatedAt: at}
	data, err := json.Marshal(initial)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"originInvocationId":null`)

	var back WorkflowMessage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, initial.Payload, back.Payload)
	assert.Empty(t, back.OriginInvocationID)
	assert.True(t, at.Equal(back.CreatedAt))

	reply := initial
	reply.OriginInvocationID = "inv-1"
	reply.TargetInvocationID = "inv-2"
	data, err = json.Marshal(reply)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "inv-1", back.OriginInvocationID)
	assert.Equal(t, "inv-2", back.TargetInvocationID)
}

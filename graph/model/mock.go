package model

import (
	"context"
	"sync"
	"time"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel to test executors, agents and whole workflows without
// calling a provider. It provides:
//   - Scripted responses; once consumed, the last one repeats
//   - Per-call error injection (Errs) and a global error (Err)
//   - An optional per-call delay that honours ctx, for timeout tests
//   - Call history with the messages and tools the model was sent
//   - Thread-safe operation
//
// Errs is consulted by call index before Responses, so a test can fail a
// specific attempt.
//
// Example usage:
//
//	// Empty first answer, then a real one: exercises the retry path.
//	mock := &MockChatModel{
//	    Responses: []ChatOut{{Text: ""}, {Text: "second try"}},
//	}
//
// Example with error injection:
//
//	mock := &MockChatModel{
//	    Errs:      map[int]error{0: &ProviderError{Kind: KindRateLimit, Provider: "openai"}},
//	    Responses: []ChatOut{{Text: "recovered"}},
//	}
type MockChatModel struct {
	// Responses is the sequence of outputs returned by Chat.
	Responses []ChatOut

	// Err, if set, is returned by every call.
	Err error

	// Errs maps a zero-based call index to an error for that call only.
	Errs map[int]error

	// Delay blocks each call for the given duration or until ctx is done.
	Delay time.Duration

	// Calls tracks the history of all Chat invocations.
	Calls []MockChatCall

	mu        sync.Mutex // guards Calls and callIndex
	callIndex int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel.
//
// Returns, in order of precedence:
//   - ctx.Err() if the context is done before or during Delay
//   - Errs[n] for the n-th call (zero-based)
//   - Err when set
//   - the next scripted response, or an empty ChatOut when Responses is empty
//
// Every call that gets past the first context check is recorded in Calls.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	call := len(m.Calls)
	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ChatOut{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.Errs[call]; ok {
		return ChatOut{}, err
	}
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Chat has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

package llm

import (
	"context"
	"sync"
)

// MockStep scripts one model call of a Mock generator.
type MockStep struct {
	Tokens    []string
	ToolCalls []ToolCall
	Err       error
}

// Mock is a scripted Generator for tests. Each Stream call consumes the next
// step and records the request it received; exhausting the script yields
// empty completions.
type Mock struct {
	mu       sync.Mutex
	steps    []MockStep
	requests []Request
}

// NewMock creates a Mock that plays the given steps in order.
func NewMock(steps ...MockStep) *Mock {
	return &Mock{steps: steps}
}

// Stream implements Generator.
func (m *Mock) Stream(ctx context.Context, req Request, onToken func(string)) (*Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step MockStep
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}

	var content string
	for _, tok := range step.Tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content += tok
		onToken(tok)
	}
	return &Completion{Content: content, ToolCalls: step.ToolCalls}, nil
}

// Requests returns a copy of every request received so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

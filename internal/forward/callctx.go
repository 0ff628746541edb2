package forward

import (
	"time"

	"github.com/google/uuid"
	"github.com/nulpointcorp/inference-gateway/internal/usage"
)

// CallContext is the per-request state threaded through the forwarding chain:
// a correlation id and the mutable usage accumulator. It is created once at
// request entry and passed explicitly — never looked up from ambient state.
type CallContext struct {
	ID    string
	Usage *usage.Usage

	// FirstTokenDelay is set after a stream completes, when the first
	// content-carrying chunk could be identified. Zero otherwise.
	FirstTokenDelay time.Duration
}

// NewCallContext returns a fresh context with an empty accumulator.
func NewCallContext() *CallContext {
	return &CallContext{
		ID:    NewRequestID(),
		Usage: usage.New(),
	}
}

// accumulator returns the call's usage accumulator, creating it on first use
// when the caller supplied a bare context.
func (c *CallContext) accumulator() *usage.Usage {
	if c.Usage == nil {
		c.Usage = usage.New()
	}
	return c.Usage
}

// NewRequestID generates a response/correlation id in the OpenAI style.
func NewRequestID() string {
	return "chatcmpl-" + uuid.NewString()
}

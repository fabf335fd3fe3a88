// Package agent is the boundary to the external LLM agent that
// answers chat questions. The service only sees the Runtime
// interface; tool calls the agent makes are executed in-process and
// reported through a ToolFunc.
package agent

import (
	"context"
	"errors"
)

var (
	// ErrAgentUnavailable means no agent command is configured.
	ErrAgentUnavailable = errors.New("chat agent not configured")
	// ErrCircuitOpen means recent runs failed and the breaker is
	// rejecting new ones.
	ErrCircuitOpen = errors.New("chat agent temporarily unavailable")
)

// Task is one user question plus the correlation pair of the run.
type Task struct {
	Input    string
	ThreadID string
	RunID    string
}

// ToolEvent reports a completed tool call.
type ToolEvent struct {
	Tool     string
	Output   string
	ThreadID string
	RunID    string
}

// ToolFunc receives tool events as they complete. It may be nil.
type ToolFunc func(ToolEvent)

// Result is the agent's final answer.
type Result struct {
	Query       string           `json:"query"`
	Results     []map[string]any `json:"results"`
	Reasoning   string           `json:"reasoning"`
	FinalAnswer string           `json:"final_answer,omitempty"`
}

// Runtime runs one task to completion. Implementations must return
// when ctx is done.
type Runtime interface {
	Run(ctx context.Context, task Task, onTool ToolFunc) (Result, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(
	ctx context.Context, task Task, onTool ToolFunc,
) (Result, error)

func (f RuntimeFunc) Run(
	ctx context.Context, task Task, onTool ToolFunc,
) (Result, error) {
	return f(ctx, task, onTool)
}

// Unavailable is the Runtime used when no agent is configured.
var Unavailable Runtime = RuntimeFunc(func(
	context.Context, Task, ToolFunc,
) (Result, error) {
	return Result{}, ErrAgentUnavailable
})

func emit(onTool ToolFunc, ev ToolEvent) {
	if onTool != nil {
		onTool(ev)
	}
}

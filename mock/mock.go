// Package mock provides test doubles for the Provider and ToolExecutor
// capabilities.
package mock

import (
	"context"
	"sync"

	"github.com/mizukami-io/reagent"
)

// Provider is a mock implementation of reagent.Provider. Set the *Func
// fields to control behavior; call counts are tracked per method.
type Provider struct {
	NameValue       string
	ChatFunc        func(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error)
	ChatStreamFunc  func(ctx context.Context, req *reagent.ChatRequest) (<-chan reagent.Delta, error)
	HealthCheckFunc func(ctx context.Context) error
	AvailableFunc   func() bool

	mu               sync.Mutex
	ChatCalls        int
	ChatStreamCalls  int
	HealthCheckCalls int
}

func (m *Provider) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *Provider) Chat(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error) {
	m.mu.Lock()
	m.ChatCalls++
	m.mu.Unlock()

	if m.ChatFunc == nil {
		return &reagent.ChatResponse{}, nil
	}
	return m.ChatFunc(ctx, req)
}

func (m *Provider) ChatStream(ctx context.Context, req *reagent.ChatRequest) (<-chan reagent.Delta, error) {
	m.mu.Lock()
	m.ChatStreamCalls++
	m.mu.Unlock()

	if m.ChatStreamFunc == nil {
		ch := make(chan reagent.Delta)
		close(ch)
		return ch, nil
	}
	return m.ChatStreamFunc(ctx, req)
}

func (m *Provider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.HealthCheckCalls++
	m.mu.Unlock()

	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}

func (m *Provider) Available() bool {
	if m.AvailableFunc == nil {
		return true
	}
	return m.AvailableFunc()
}

// Executor is a mock implementation of reagent.ToolExecutor. Requests are
// recorded in order.
type Executor struct {
	ExecuteFunc func(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error)

	mu       sync.Mutex
	Requests []*reagent.ActionRequest
}

func (m *Executor) Execute(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.ExecuteFunc == nil {
		return &reagent.ActionOutcome{Success: true, Output: "ok"}, nil
	}
	return m.ExecuteFunc(ctx, req)
}

// Calls returns how many actions were executed.
func (m *Executor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

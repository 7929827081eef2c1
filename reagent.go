// Package reagent is the execution core of an autonomous LLM agent. It
// drives a bounded reasoning-acting loop that alternates between asking a
// language model what to do and executing the tools it requests, while
// tolerating unreliable providers and unreliable tool outcomes.
package reagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultMaxIterations bounds one loop run.
const DefaultMaxIterations = 8

// reminderPrompt is the single-shot corrective message injected when the
// model is suspected of claiming completion in prose without acting.
const reminderPrompt = "You must accomplish the user's request by calling the available tools. " +
	"Do not state that an action was performed unless you actually called the corresponding tool. " +
	"Call the appropriate tool now."

// Agent runs the ReAct loop: one provider call and the tool executions it
// requests per iteration, up to the iteration budget. A run terminates with
// a final answer, a pending confirmation, or exhaustion.
type Agent struct {
	client   ChatClient
	executor ToolExecutor

	agentConfig
}

type agentConfig struct {
	maxIterations int
	tools         []*ToolSpec
	validator     *Validator
	detector      Detector
	logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*agentConfig)

// WithMaxIterations sets the iteration budget for one run.
func WithMaxIterations(n int) Option {
	return func(c *agentConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithTools sets the tool catalog passed to the provider on every call.
func WithTools(tools ...*ToolSpec) Option {
	return func(c *agentConfig) {
		c.tools = append(c.tools, tools...)
	}
}

// WithValidator enables JSON-Schema validation of extracted arguments
// before dispatch. A violation becomes a failed tool result fed back to
// the model, not a dropped call.
func WithValidator(v *Validator) Option {
	return func(c *agentConfig) {
		c.validator = v
	}
}

// WithDetector replaces the tool-required heuristic. Pass nil to disable
// the corrective nudge entirely.
func WithDetector(d Detector) Option {
	return func(c *agentConfig) {
		c.detector = d
	}
}

// WithLogger sets the logger. Default discards all records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *agentConfig) {
		c.logger = logger
	}
}

// New creates an agent around the given model client and tool executor.
func New(client ChatClient, executor ToolExecutor, options ...Option) *Agent {
	agent := &Agent{
		client:   client,
		executor: executor,
		agentConfig: agentConfig{
			maxIterations: DefaultMaxIterations,
			detector:      DefaultDetector(),
			logger:        slog.New(slog.DiscardHandler),
		},
	}

	for _, opt := range options {
		opt(&agent.agentConfig)
	}

	return agent
}

// Run executes the loop against the given conversation history and returns
// the ordered event sequence. The channel is unbuffered, so the consumer
// paces production, and it is closed on the terminal event. The sequence is
// not restartable: resuming after a pending confirmation requires a new Run
// with updated history.
func (a *Agent) Run(ctx context.Context, history []Message) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)
		a.run(ctx, append([]Message{}, history...), events)
	}()

	return events
}

// emit delivers one event unless the consumer is gone. Returns false when
// the run must stop because the context was cancelled.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	ev.Timestamp = time.Now()
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) run(ctx context.Context, history []Message, events chan<- Event) {
	runID := uuid.New().String()
	logger := a.logger.With("reagent.run_id", runID)
	logger.Info("start run", "max_iterations", a.maxIterations, "history", len(history))

	toolCalls := 0
	nudged := false

	for iter := 1; iter <= a.maxIterations; iter++ {
		resp, err := a.client.Chat(ctx, &ChatRequest{Messages: history, Tools: a.tools})
		if err != nil {
			// Transient-error tolerance: one failed provider call costs one
			// iteration, not the whole run.
			logger.Warn("provider call failed", "iteration", iter, "error", err)
			if !emit(ctx, events, Event{Type: EventIterationError, Iteration: iter, Error: err.Error()}) {
				return
			}
			continue
		}
		if resp == nil || !resp.HasData() {
			logger.Warn("provider returned empty response", "iteration", iter)
			if !emit(ctx, events, Event{Type: EventIterationError, Iteration: iter, Error: "provider returned empty response"}) {
				return
			}
			continue
		}

		actions := Extract(resp)
		logger.Debug("model response", "iteration", iter, "actions", len(actions), "text_len", len(resp.Text()))

		if len(actions) == 0 {
			if a.shouldNudge(iter, toolCalls, nudged, history) {
				logger.Info("tool required but not invoked, injecting reminder", "iteration", iter)
				nudged = true
				history = append(history, Message{Role: RoleSystem, Content: reminderPrompt})
				continue
			}

			emit(ctx, events, Event{
				Type:      EventFinalAnswer,
				Iteration: iter,
				Text:      resp.Text(),
				ToolCalls: toolCalls,
			})
			return
		}

		if !emit(ctx, events, Event{Type: EventThinking, Iteration: iter, Text: resp.Text()}) {
			return
		}

		if stop := a.act(ctx, iter, actions, &history, &toolCalls, events, logger); stop {
			return
		}
	}

	logger.Warn("iteration budget exhausted", "iterations", a.maxIterations, "tool_calls", toolCalls)
	emit(ctx, events, Event{
		Type:      EventExhausted,
		Iteration: a.maxIterations,
		Error:     ErrExhausted.Error(),
		ToolCalls: toolCalls,
	})
}

// act executes the iteration's actions strictly in order. It reports true
// when the run must terminate: a confirmation is pending or the consumer is
// gone. A catastrophic executor failure ends the iteration early but the
// run continues with the next iteration.
func (a *Agent) act(ctx context.Context, iter int, actions []*ActionRequest, history *[]Message, toolCalls *int, events chan<- Event, logger *slog.Logger) bool {
	for _, action := range actions {
		if !emit(ctx, events, Event{Type: EventActionRequested, Iteration: iter, Action: action}) {
			return true
		}

		outcome, err := a.execute(ctx, action)
		if err != nil {
			// Only catastrophic integration errors reach here; ordinary
			// tool failures arrive as outcome data.
			logger.Error("executor failed", "action", action, "error", err)
			if !emit(ctx, events, Event{Type: EventIterationError, Iteration: iter, Action: action, Error: err.Error()}) {
				return true
			}
			return false
		}
		*toolCalls++

		if !emit(ctx, events, Event{Type: EventActionCompleted, Iteration: iter, Action: action, Outcome: outcome}) {
			return true
		}

		if outcome.RequiresConfirmation {
			logger.Info("action awaiting confirmation",
				"confirmation_id", outcome.ConfirmationID, "command", outcome.Command)
			emit(ctx, events, Event{
				Type:           EventAwaitingConfirmation,
				Iteration:      iter,
				Action:         action,
				ConfirmationID: outcome.ConfirmationID,
				Command:        outcome.Command,
			})
			return true
		}

		*history = append(*history, assistantCallMessage(action), toolResultMessage(action, outcome))
	}

	return false
}

// execute runs one action through the validator and the executor, turning
// panics into errors so a misbehaving tool cannot crash the loop.
func (a *Agent) execute(ctx context.Context, action *ActionRequest) (outcome *ActionOutcome, err error) {
	if a.validator != nil {
		if verr := a.validator.Validate(action.Name, action.Arguments); verr != nil {
			return &ActionOutcome{
				Success: false,
				Error:   verr.Error(),
			}, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = goerr.New("tool executor panicked", goerr.V("panic", fmt.Sprintf("%v", r)), goerr.V("tool", action.Name))
		}
	}()

	outcome, err = a.executor.Execute(ctx, action)
	if err != nil {
		return nil, goerr.Wrap(err, "tool executor failed", goerr.V("tool", action.Name))
	}
	if outcome == nil {
		return nil, goerr.New("tool executor returned no outcome", goerr.V("tool", action.Name))
	}
	return outcome, nil
}

func (a *Agent) shouldNudge(iter, toolCalls int, nudged bool, history []Message) bool {
	if a.detector == nil || nudged {
		return false
	}
	// Bounded to the first two iterations of a run that has taken no
	// actions yet; beyond that window the response is accepted as-is.
	if iter > 2 || toolCalls > 0 {
		return false
	}
	return a.detector.RequiresTool(lastUserText(history))
}

func lastUserText(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// assistantCallMessage records the tool call in history so the provider
// sees what the model asked for on the next iteration.
func assistantCallMessage(action *ActionRequest) Message {
	return Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{{
			ID:        action.ID,
			Name:      action.Name,
			Arguments: action.Arguments,
		}},
	}
}

func toolResultMessage(action *ActionRequest, outcome *ActionOutcome) Message {
	content, err := json.Marshal(outcome)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}

	return Message{
		Role:       RoleTool,
		ToolCallID: action.ID,
		Name:       action.Name,
		Content:    string(content),
	}
}

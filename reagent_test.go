package reagent_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/mizukami-io/reagent"
	"github.com/mizukami-io/reagent/confirm"
	"github.com/mizukami-io/reagent/internal"
	"github.com/mizukami-io/reagent/mock"
)

// scriptedClient replays a fixed sequence of responses and records every
// request it saw.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*reagent.ChatResponse
	errs      []error
	requests  []*reagent.ChatRequest
}

func (c *scriptedClient) Chat(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := &reagent.ChatRequest{
		Messages: append([]reagent.Message{}, req.Messages...),
		Tools:    req.Tools,
	}
	c.requests = append(c.requests, copied)

	i := len(c.requests) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return &reagent.ChatResponse{Texts: []string{"done"}}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func collect(t *testing.T, events <-chan reagent.Event) []reagent.Event {
	t.Helper()

	var out []reagent.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func textResponse(texts ...string) *reagent.ChatResponse {
	return &reagent.ChatResponse{Texts: texts}
}

func toolResponse(calls ...reagent.ToolCall) *reagent.ChatResponse {
	return &reagent.ChatResponse{ToolCalls: calls}
}

func userMessage(text string) []reagent.Message {
	return []reagent.Message{{Role: reagent.RoleUser, Content: text}}
}

func TestRunFinalAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*reagent.ChatResponse{
		textResponse("Paris is the capital of France."),
	}}
	agent := reagent.New(client, &mock.Executor{},
		reagent.WithLogger(internal.TestLogger()))

	events := collect(t, agent.Run(context.Background(), userMessage("What is the capital of France?")))

	gt.Equal(t, 1, len(events))
	gt.Equal(t, reagent.EventFinalAnswer, events[0].Type)
	gt.Equal(t, 1, events[0].Iteration)
	gt.Equal(t, "Paris is the capital of France.", events[0].Text)
	gt.Equal(t, 0, events[0].ToolCalls)
	gt.Equal(t, 1, client.calls())
}

func TestRunToolThenAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*reagent.ChatResponse{
		toolResponse(reagent.ToolCall{ID: "call_1", Name: "read_file", Arguments: `{"path":"a.txt"}`}),
		textResponse("The file says hello."),
	}}
	executor := &mock.Executor{}
	agent := reagent.New(client, executor,
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events := collect(t, agent.Run(context.Background(), userMessage("read a.txt")))

	gt.Equal(t, 4, len(events))
	gt.Equal(t, reagent.EventThinking, events[0].Type)
	gt.Equal(t, reagent.EventActionRequested, events[1].Type)
	gt.Equal(t, "read_file", events[1].Action.Name)
	gt.Equal(t, reagent.EventActionCompleted, events[2].Type)
	gt.True(t, events[2].Outcome.Success)
	gt.Equal(t, reagent.EventFinalAnswer, events[3].Type)
	gt.Equal(t, 2, events[3].Iteration)
	gt.Equal(t, 1, events[3].ToolCalls)

	gt.Equal(t, 1, executor.Calls())
	gt.Equal(t, "a.txt", executor.Requests[0].Arguments["path"])

	// The second provider call sees the assistant call and the tool result.
	second := client.requests[1].Messages
	gt.Equal(t, 3, len(second))
	gt.Equal(t, reagent.RoleAssistant, second[1].Role)
	gt.Equal(t, reagent.RoleTool, second[2].Role)
	gt.Equal(t, "call_1", second[2].ToolCallID)
	gt.True(t, strings.Contains(second[2].Content, `"success":true`))
}

func TestRunNudge(t *testing.T) {
	t.Run("prose claiming completion gets one reminder", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			textResponse("I have created the presentation for you."),
			toolResponse(reagent.ToolCall{ID: "c1", Name: "make_presentation", Arguments: `{"topic":"dogs"}`}),
			textResponse("The presentation about dogs is ready."),
		}}
		executor := &mock.Executor{}
		agent := reagent.New(client, executor,
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("Create a PPT about dogs")))

		// The nudged iteration emits nothing; the run resumes at iteration 2.
		gt.Equal(t, reagent.EventThinking, events[0].Type)
		gt.Equal(t, 2, events[0].Iteration)
		gt.Equal(t, reagent.EventFinalAnswer, events[len(events)-1].Type)
		gt.Equal(t, 1, events[len(events)-1].ToolCalls)

		gt.Equal(t, 3, client.calls())
		gt.Equal(t, 1, executor.Calls())

		// The reminder rides into history as a system message.
		second := client.requests[1].Messages
		last := second[len(second)-1]
		gt.Equal(t, reagent.RoleSystem, last.Role)
		gt.True(t, strings.Contains(last.Content, "calling the available tools"))
	})

	t.Run("nudge fires at most once", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			textResponse("Done, I made the slides."),
			textResponse("Really, the slides exist."),
		}}
		agent := reagent.New(client, &mock.Executor{},
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("make slides about cats")))

		gt.Equal(t, 1, len(events))
		gt.Equal(t, reagent.EventFinalAnswer, events[0].Type)
		gt.Equal(t, 2, events[0].Iteration)
		gt.Equal(t, 2, client.calls())
	})

	t.Run("no nudge for plain questions", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			textResponse("Blue."),
		}}
		agent := reagent.New(client, &mock.Executor{},
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("What color is the sky?")))

		gt.Equal(t, 1, len(events))
		gt.Equal(t, reagent.EventFinalAnswer, events[0].Type)
		gt.Equal(t, 1, events[0].Iteration)
	})

	t.Run("nil detector disables the nudge", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			textResponse("I created the file."),
		}}
		agent := reagent.New(client, &mock.Executor{},
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("create a file named x")))

		gt.Equal(t, 1, len(events))
		gt.Equal(t, reagent.EventFinalAnswer, events[0].Type)
		gt.Equal(t, 1, client.calls())
	})
}

func TestRunConfirmation(t *testing.T) {
	store := confirm.NewStore()
	inner := &mock.Executor{}
	gate := confirm.NewGate(store, inner,
		confirm.WithRiskFunc(confirm.GateTools("execute_command")))

	riskyCall := reagent.ToolCall{
		ID:        "c1",
		Name:      "execute_command",
		Arguments: `{"command":"rm -rf /tmp/scratch"}`,
	}

	// First run: the gated action suspends the loop.
	client := &scriptedClient{responses: []*reagent.ChatResponse{
		toolResponse(riskyCall),
	}}
	agent := reagent.New(client, gate,
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events := collect(t, agent.Run(context.Background(), userMessage("clean up the scratch dir")))

	last := events[len(events)-1]
	gt.Equal(t, reagent.EventAwaitingConfirmation, last.Type)
	gt.Equal(t, "rm -rf /tmp/scratch", last.Command)
	gt.NotEqual(t, "", last.ConfirmationID)
	gt.Equal(t, 0, inner.Calls())
	gt.Equal(t, 1, store.Len())

	confirmationID := last.ConfirmationID
	gt.NoError(t, store.Confirm(confirmationID))

	// Second run: the model resubmits with the confirmation id and the
	// command executes exactly once.
	client2 := &scriptedClient{responses: []*reagent.ChatResponse{
		toolResponse(reagent.ToolCall{
			ID:   "c2",
			Name: "execute_command",
			Arguments: map[string]any{
				"command":         "rm -rf /tmp/scratch",
				"confirmation_id": confirmationID,
			},
		}),
		textResponse("Scratch directory removed."),
	}}
	agent2 := reagent.New(client2, gate,
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events2 := collect(t, agent2.Run(context.Background(), userMessage("clean up the scratch dir")))

	gt.Equal(t, reagent.EventFinalAnswer, events2[len(events2)-1].Type)
	gt.Equal(t, 1, inner.Calls())
	gt.Equal(t, "rm -rf /tmp/scratch", inner.Requests[0].Arguments["command"])

	// confirmation_id is stripped before the call is forwarded.
	_, leaked := inner.Requests[0].Arguments["confirmation_id"]
	gt.False(t, leaked)

	// The token is consumed; replaying the same id is refused.
	gt.Equal(t, 0, store.Len())
	gt.Error(t, store.Consume(confirmationID, "rm -rf /tmp/scratch"))
}

func TestRunProviderError(t *testing.T) {
	t.Run("one failed call costs one iteration", func(t *testing.T) {
		client := &scriptedClient{
			errs: []error{
				context.DeadlineExceeded,
				nil,
			},
			responses: []*reagent.ChatResponse{
				nil,
				textResponse("recovered"),
			},
		}
		agent := reagent.New(client, &mock.Executor{},
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("hello")))

		gt.Equal(t, 2, len(events))
		gt.Equal(t, reagent.EventIterationError, events[0].Type)
		gt.Equal(t, 1, events[0].Iteration)
		gt.Equal(t, reagent.EventFinalAnswer, events[1].Type)
		gt.Equal(t, 2, events[1].Iteration)
	})

	t.Run("empty response costs one iteration", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			{},
			textResponse("recovered"),
		}}
		agent := reagent.New(client, &mock.Executor{},
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("hello")))

		gt.Equal(t, 2, len(events))
		gt.Equal(t, reagent.EventIterationError, events[0].Type)
		gt.Equal(t, reagent.EventFinalAnswer, events[1].Type)
	})

	t.Run("persistent failure exhausts the budget", func(t *testing.T) {
		client := &scriptedClient{
			errs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
		}
		agent := reagent.New(client, &mock.Executor{},
			reagent.WithMaxIterations(2),
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("hello")))

		gt.Equal(t, 3, len(events))
		gt.Equal(t, reagent.EventIterationError, events[0].Type)
		gt.Equal(t, reagent.EventIterationError, events[1].Type)
		gt.Equal(t, reagent.EventExhausted, events[2].Type)
		gt.Equal(t, 2, events[2].Iteration)
		gt.Equal(t, 0, events[2].ToolCalls)
	})
}

func TestRunExhausted(t *testing.T) {
	call := reagent.ToolCall{ID: "c1", Name: "busy_tool", Arguments: `{}`}
	client := &scriptedClient{responses: []*reagent.ChatResponse{
		toolResponse(call), toolResponse(call), toolResponse(call),
	}}
	executor := &mock.Executor{}
	agent := reagent.New(client, executor,
		reagent.WithMaxIterations(3),
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events := collect(t, agent.Run(context.Background(), userMessage("loop forever")))

	last := events[len(events)-1]
	gt.Equal(t, reagent.EventExhausted, last.Type)
	gt.Equal(t, 3, last.Iteration)
	gt.Equal(t, 3, last.ToolCalls)
	gt.Equal(t, reagent.ErrExhausted.Error(), last.Error)
	gt.Equal(t, 3, executor.Calls())
	gt.Equal(t, 3, client.calls())
}

func TestRunExecutorFailures(t *testing.T) {
	t.Run("tool failure outcome feeds back into history", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			toolResponse(reagent.ToolCall{ID: "c1", Name: "flaky", Arguments: `{}`}),
			textResponse("giving up"),
		}}
		executor := &mock.Executor{
			ExecuteFunc: func(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error) {
				return &reagent.ActionOutcome{Success: false, Error: "disk full"}, nil
			},
		}
		agent := reagent.New(client, executor,
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("try it")))

		gt.Equal(t, reagent.EventActionCompleted, events[2].Type)
		gt.False(t, events[2].Outcome.Success)
		gt.Equal(t, "disk full", events[2].Outcome.Error)
		gt.Equal(t, reagent.EventFinalAnswer, events[3].Type)

		second := client.requests[1].Messages
		gt.True(t, strings.Contains(second[len(second)-1].Content, "disk full"))
	})

	t.Run("catastrophic executor error becomes iteration error", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			toolResponse(reagent.ToolCall{ID: "c1", Name: "broken", Arguments: `{}`}),
			textResponse("moving on"),
		}}
		executor := &mock.Executor{
			ExecuteFunc: func(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error) {
				return nil, context.DeadlineExceeded
			},
		}
		agent := reagent.New(client, executor,
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("try it")))

		gt.Equal(t, reagent.EventThinking, events[0].Type)
		gt.Equal(t, reagent.EventActionRequested, events[1].Type)
		gt.Equal(t, reagent.EventIterationError, events[2].Type)
		gt.Equal(t, reagent.EventFinalAnswer, events[len(events)-1].Type)
		gt.Equal(t, 0, events[len(events)-1].ToolCalls)
	})

	t.Run("panicking tool cannot crash the loop", func(t *testing.T) {
		client := &scriptedClient{responses: []*reagent.ChatResponse{
			toolResponse(reagent.ToolCall{ID: "c1", Name: "bomb", Arguments: `{}`}),
			textResponse("survived"),
		}}
		executor := &mock.Executor{
			ExecuteFunc: func(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error) {
				panic("boom")
			},
		}
		agent := reagent.New(client, executor,
			reagent.WithDetector(nil),
			reagent.WithLogger(internal.TestLogger()))

		events := collect(t, agent.Run(context.Background(), userMessage("try it")))

		gt.Equal(t, reagent.EventIterationError, events[2].Type)
		gt.True(t, strings.Contains(events[2].Error, "boom"))
		gt.Equal(t, reagent.EventFinalAnswer, events[len(events)-1].Type)
	})
}

func TestRunValidator(t *testing.T) {
	spec := &reagent.ToolSpec{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: map[string]*reagent.Parameter{
			"path": {Type: reagent.TypeString, Description: "File path"},
		},
		Required: []string{"path"},
	}
	validator, err := reagent.NewValidator([]*reagent.ToolSpec{spec})
	gt.NoError(t, err)

	client := &scriptedClient{responses: []*reagent.ChatResponse{
		toolResponse(reagent.ToolCall{ID: "c1", Name: "read_file", Arguments: `{"wrong":"arg"}`}),
		textResponse("fixed"),
	}}
	executor := &mock.Executor{}
	agent := reagent.New(client, executor,
		reagent.WithTools(spec),
		reagent.WithValidator(validator),
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events := collect(t, agent.Run(context.Background(), userMessage("read something")))

	// The violation becomes a failed outcome fed back to the model; the
	// executor itself is never reached.
	gt.Equal(t, reagent.EventActionCompleted, events[2].Type)
	gt.False(t, events[2].Outcome.Success)
	gt.NotEqual(t, "", events[2].Outcome.Error)
	gt.Equal(t, 0, executor.Calls())
	gt.Equal(t, reagent.EventFinalAnswer, events[len(events)-1].Type)
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []*reagent.ChatResponse{
		textResponse("never delivered"),
	}}
	agent := reagent.New(client, &mock.Executor{},
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events := agent.Run(ctx, userMessage("hello"))

	// The channel must close without the consumer reading anything.
	for range events {
	}
}

func TestRunMultipleActionsInOrder(t *testing.T) {
	client := &scriptedClient{responses: []*reagent.ChatResponse{
		toolResponse(
			reagent.ToolCall{ID: "c1", Name: "step_one", Arguments: `{}`},
			reagent.ToolCall{ID: "c2", Name: "step_two", Arguments: `{}`},
		),
		textResponse("both done"),
	}}
	executor := &mock.Executor{}
	agent := reagent.New(client, executor,
		reagent.WithDetector(nil),
		reagent.WithLogger(internal.TestLogger()))

	events := collect(t, agent.Run(context.Background(), userMessage("do both")))

	gt.Equal(t, 2, executor.Calls())
	gt.Equal(t, "step_one", executor.Requests[0].Name)
	gt.Equal(t, "step_two", executor.Requests[1].Name)

	var order []string
	for _, ev := range events {
		if ev.Type == reagent.EventActionRequested {
			order = append(order, ev.Action.Name)
		}
	}
	gt.Equal(t, []string{"step_one", "step_two"}, order)
	gt.Equal(t, 2, events[len(events)-1].ToolCalls)
}

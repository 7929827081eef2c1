package reagent

import (
	"context"
	"log/slog"
)

// ActionRequest is one normalized tool invocation extracted from a model
// response. It lives for a single loop iteration and is never persisted.
type ActionRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (r *ActionRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("name", r.Name),
		slog.Int("arguments", len(r.Arguments)),
	)
}

// ActionOutcome is the result of executing one action. Ordinary tool
// failures are data (Success=false plus Error), not Go errors: the executor
// contract reserves returned errors for catastrophic integration failures,
// which the loop converts into an iteration error event.
type ActionOutcome struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`

	// RequiresConfirmation marks a high-risk command that must be approved
	// out-of-band before it runs. ConfirmationID and Command identify the
	// pending approval; the loop suspends when this flag is set.
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmationID       string `json:"confirmation_id,omitempty"`
	Command              string `json:"command,omitempty"`

	// Blocked marks a policy-level refusal that must never be retried.
	Blocked bool `json:"blocked,omitempty"`
}

// ToolExecutor performs the actions the model requests. Implementations
// live outside the execution core (terminal, file I/O, MCP servers).
type ToolExecutor interface {
	Execute(ctx context.Context, req *ActionRequest) (*ActionOutcome, error)
}

package reagent

import (
	"context"
	"log/slog"
	"strings"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the running conversation history. The loop is the
// sole writer of synthetic assistant-call and tool-result messages; callers
// own the history across loop invocations.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

func (m Message) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("role", string(m.Role)),
		slog.Int("content_len", len(m.Content)),
		slog.Int("tool_calls", len(m.ToolCalls)),
	)
}

// ToolCall is a single tool invocation as reported by a provider. Arguments
// is kept as the backend delivered it: an already-decoded map or a string
// holding a serialized mapping. Normalization happens in Extract, not here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// ChatRequest is the uniform request the router passes to a provider.
type ChatRequest struct {
	Messages []Message
	Tools    []*ToolSpec
}

// ChatResponse is the uniform response shape for all providers.
type ChatResponse struct {
	Texts        []string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
}

// Text joins all text fragments of the response.
func (r *ChatResponse) Text() string {
	return strings.Join(r.Texts, "\n")
}

func (r *ChatResponse) HasData() bool {
	return len(r.Texts) > 0 || len(r.ToolCalls) > 0
}

// Delta is one fragment of a streaming chat response. Token counts are
// reported on the final fragment only.
type Delta struct {
	Text         string
	ToolCall     *ToolCall
	Done         bool
	InputTokens  int
	OutputTokens int
	Err          error
}

// Provider is the capability each LLM backend implements. The router treats
// any implementation uniformly.
type Provider interface {
	// Name identifies the provider for breaker tracking and reporting.
	Name() string

	// Chat generates a blocking response for the request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream generates a streaming response. The channel is closed when
	// the stream ends; the caller must drain it.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan Delta, error)

	// HealthCheck verifies the backend is reachable before routing to it.
	HealthCheck(ctx context.Context) error

	// Available reports whether the provider is configured for use at all
	// (e.g. credentials present). Unavailable providers are never tried.
	Available() bool
}

// ChatClient is the single "ask the model" operation the loop consumes.
// router.Router is the production implementation.
type ChatClient interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

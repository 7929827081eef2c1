// Package claude adapts Anthropic's Messages API to the reagent.Provider
// capability.
package claude

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"

	"github.com/mizukami-io/reagent"
)

const providerName = "claude"

// Client is a reagent.Provider backed by Anthropic Claude.
type Client struct {
	client *anthropic.Client
	apiKey string

	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel sets the Claude model identifier.
func WithModel(model anthropic.Model) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithMaxTokens limits the generated tokens per response.
func WithMaxTokens(n int64) ClientOption {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) ClientOption {
	return func(c *Client) {
		c.temperature = temp
	}
}

// New creates a Claude-backed provider.
func New(apiKey string, options ...ClientOption) *Client {
	client := &Client{
		apiKey:      apiKey,
		model:       anthropic.ModelClaude3_5SonnetLatest,
		maxTokens:   4096,
		temperature: 0.7,
	}

	for _, opt := range options {
		opt(client)
	}

	newClient := anthropic.NewClient(option.WithAPIKey(apiKey))
	client.client = &newClient

	return client
}

func (c *Client) Name() string {
	return providerName
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

// HealthCheck issues a one-token message, the smallest authenticated
// round-trip the Messages API offers.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return goerr.Wrap(err, "claude health check failed")
	}
	return nil
}

func (c *Client) createRequest(req *reagent.ChatRequest) (anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages:    messages,
		Tools:       convertTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	return params, nil
}

func (c *Client) Chat(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error) {
	params, err := c.createRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "claude message failed", goerr.V("model", string(c.model)))
	}

	out := &reagent.ChatResponse{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}

	for _, content := range resp.Content {
		if text := content.AsResponseTextBlock(); text.Type == "text" {
			out.Texts = append(out.Texts, text.Text)
		}
		if toolUse := content.AsResponseToolUseBlock(); toolUse.Type == "tool_use" {
			out.ToolCalls = append(out.ToolCalls, reagent.ToolCall{
				ID:   toolUse.ID,
				Name: toolUse.Name,
				// Input stays serialized; Extract owns decoding.
				Arguments: string(toolUse.Input),
			})
		}
	}

	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, req *reagent.ChatRequest) (<-chan reagent.Delta, error) {
	params, err := c.createRequest(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	if stream == nil {
		return nil, goerr.New("claude stream open failed", goerr.V("model", string(c.model)))
	}

	deltas := make(chan reagent.Delta)
	go func() {
		defer close(deltas)

		var callID, callName, callArgs string
		var inputTokens, outputTokens int

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "message_start":
				start := event.AsMessageStartEvent()
				inputTokens = int(start.Message.Usage.InputTokens)

			case "content_block_start":
				start := event.AsContentBlockStartEvent()
				if start.ContentBlock.Type == "tool_use" {
					toolUse := start.ContentBlock.AsResponseToolUseBlock()
					callID, callName, callArgs = toolUse.ID, toolUse.Name, ""
				}

			case "content_block_delta":
				delta := event.AsContentBlockDeltaEvent()
				switch delta.Delta.Type {
				case "text_delta":
					deltas <- reagent.Delta{Text: delta.Delta.AsTextContentBlockDelta().Text}
				case "input_json_delta":
					callArgs += delta.Delta.AsInputJSONContentBlockDelta().PartialJSON
				}

			case "content_block_stop":
				if callID != "" {
					deltas <- reagent.Delta{ToolCall: &reagent.ToolCall{
						ID:        callID,
						Name:      callName,
						Arguments: callArgs,
					}}
					callID, callName, callArgs = "", "", ""
				}

			case "message_delta":
				delta := event.AsMessageDeltaEvent()
				outputTokens = int(delta.Usage.OutputTokens)
			}
		}

		if err := stream.Err(); err != nil {
			deltas <- reagent.Delta{Err: goerr.Wrap(err, "claude stream failed")}
			return
		}

		deltas <- reagent.Delta{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()

	return deltas, nil
}

func convertMessages(messages []reagent.Message) ([]anthropic.MessageParam, string, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	system := ""

	for _, msg := range messages {
		switch msg.Role {
		case reagent.RoleSystem:
			// The Messages API carries the system prompt outside the
			// message list.
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case reagent.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case reagent.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input, err := normalizeArguments(call.Arguments)
				if err != nil {
					return nil, "", err
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfRequestToolUseBlock: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: input,
						Type:  "tool_use",
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case reagent.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		default:
			return nil, "", goerr.Wrap(reagent.ErrInvalidParameter, "unknown message role", goerr.V("role", string(msg.Role)))
		}
	}

	return out, system, nil
}

func normalizeArguments(v any) (map[string]any, error) {
	switch args := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return args, nil
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(args), &decoded); err != nil {
			return nil, goerr.Wrap(err, "failed to decode tool call arguments")
		}
		return decoded, nil
	default:
		return nil, goerr.Wrap(reagent.ErrInvalidParameter, "unsupported argument payload")
	}
}

func convertTools(tools []*reagent.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, spec := range tools {
		properties := make(map[string]any, len(spec.Parameters))
		for name, param := range spec.Parameters {
			properties[name] = reagent.ToJSONSchema(param)
		}
		out = append(out, anthropic.ToolUnionParamOfTool(
			anthropic.ToolInputSchemaParam{Properties: properties},
			spec.Name,
		))
	}
	return out
}

var _ reagent.Provider = (*Client)(nil)

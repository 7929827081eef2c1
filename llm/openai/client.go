// Package openai adapts the OpenAI chat completion API to the
// reagent.Provider capability.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/mizukami-io/reagent"
)

const (
	// DefaultModel is the model used when WithModel is not given.
	DefaultModel = "gpt-4o"

	providerName = "openai"
)

// Client is a reagent.Provider backed by the OpenAI API.
type Client struct {
	client *openai.Client
	apiKey string

	model       string
	temperature float32
	maxTokens   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel sets the chat completion model.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float32) ClientOption {
	return func(c *Client) {
		c.temperature = temp
	}
}

// WithMaxTokens limits the generated tokens per response.
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// New creates an OpenAI-backed provider.
func New(apiKey string, options ...ClientOption) *Client {
	client := &Client{
		client:      openai.NewClient(apiKey),
		apiKey:      apiKey,
		model:       DefaultModel,
		temperature: 0.7,
	}

	for _, opt := range options {
		opt(client)
	}

	return client
}

func (c *Client) Name() string {
	return providerName
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

// HealthCheck lists models, the cheapest authenticated round-trip the API
// offers.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return goerr.Wrap(err, "openai health check failed")
	}
	return nil
}

func (c *Client) createRequest(req *reagent.ChatRequest, stream bool) (openai.ChatCompletionRequest, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	out := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       convertTools(req.Tools),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out, nil
}

func (c *Client) Chat(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error) {
	apiReq, err := c.createRequest(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, goerr.Wrap(err, "openai chat completion failed", goerr.V("model", c.model))
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.New("openai returned no choices", goerr.V("model", c.model))
	}

	msg := resp.Choices[0].Message
	out := &reagent.ChatResponse{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if msg.Content != "" {
		out.Texts = append(out.Texts, msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, reagent.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			// Arguments stay a serialized string; Extract owns decoding.
			Arguments: tc.Function.Arguments,
		})
	}

	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, req *reagent.ChatRequest) (<-chan reagent.Delta, error) {
	apiReq, err := c.createRequest(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, goerr.Wrap(err, "openai stream open failed", goerr.V("model", c.model))
	}

	deltas := make(chan reagent.Delta)
	go func() {
		defer close(deltas)
		defer stream.Close()

		acc := map[int]*reagent.ToolCall{}
		rawArgs := map[int]string{}
		var inputTokens, outputTokens int

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				for _, idx := range sortedKeys(acc) {
					call := acc[idx]
					call.Arguments = rawArgs[idx]
					deltas <- reagent.Delta{ToolCall: call}
				}
				deltas <- reagent.Delta{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			if err != nil {
				deltas <- reagent.Delta{Err: goerr.Wrap(err, "openai stream failed")}
				return
			}

			if chunk.Usage != nil {
				inputTokens = chunk.Usage.PromptTokens
				outputTokens = chunk.Usage.CompletionTokens
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					deltas <- reagent.Delta{Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					idx := 0
					if tc.Index != nil {
						idx = *tc.Index
					}
					call, ok := acc[idx]
					if !ok {
						call = &reagent.ToolCall{}
						acc[idx] = call
					}
					if tc.ID != "" {
						call.ID = tc.ID
					}
					if tc.Function.Name != "" {
						call.Name = tc.Function.Name
					}
					rawArgs[idx] += tc.Function.Arguments
				}
			}
		}
	}()

	return deltas, nil
}

func sortedKeys(m map[int]*reagent.ToolCall) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func convertMessages(messages []reagent.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Content: msg.Content,
		}

		switch msg.Role {
		case reagent.RoleSystem:
			converted.Role = openai.ChatMessageRoleSystem
		case reagent.RoleUser:
			converted.Role = openai.ChatMessageRoleUser
		case reagent.RoleAssistant:
			converted.Role = openai.ChatMessageRoleAssistant
			for _, call := range msg.ToolCalls {
				args, err := marshalArguments(call.Arguments)
				if err != nil {
					return nil, err
				}
				converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
		case reagent.RoleTool:
			converted.Role = openai.ChatMessageRoleTool
			converted.ToolCallID = msg.ToolCallID
			converted.Name = msg.Name
		default:
			return nil, goerr.Wrap(reagent.ErrInvalidParameter, "unknown message role", goerr.V("role", string(msg.Role)))
		}

		out = append(out, converted)
	}

	return out, nil
}

func marshalArguments(v any) (string, error) {
	switch args := v.(type) {
	case nil:
		return "{}", nil
	case string:
		return args, nil
	default:
		raw, err := json.Marshal(args)
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal tool call arguments")
		}
		return string(raw), nil
	}
}

func convertTools(tools []*reagent.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, spec := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  reagent.ToolInputSchema(spec),
			},
		})
	}
	return out
}

var _ reagent.Provider = (*Client)(nil)

// String implements fmt.Stringer for debug logging.
func (c *Client) String() string {
	return fmt.Sprintf("openai(model=%s)", c.model)
}

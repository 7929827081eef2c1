// Package gemini adapts Vertex AI Gemini models to the reagent.Provider
// capability.
package gemini

import (
	"context"
	"encoding/json"
	"errors"

	"cloud.google.com/go/vertexai/genai"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mizukami-io/reagent"
)

const (
	// DefaultModel is the model used when WithModel is not given.
	DefaultModel = "gemini-1.5-flash"

	providerName = "gemini"
)

// Client is a reagent.Provider backed by Vertex AI Gemini.
type Client struct {
	client    *genai.Client
	projectID string

	model       string
	temperature float32
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	model         string
	temperature   float32
	googleOptions []option.ClientOption
}

// WithModel sets the Gemini model identifier.
func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float32) ClientOption {
	return func(c *clientConfig) {
		c.temperature = temp
	}
}

// WithGoogleOptions passes extra options (credentials, endpoint) to the
// underlying Vertex AI client.
func WithGoogleOptions(options ...option.ClientOption) ClientOption {
	return func(c *clientConfig) {
		c.googleOptions = append(c.googleOptions, options...)
	}
}

// New creates a Gemini-backed provider for the given project and location.
func New(ctx context.Context, projectID, location string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		model:       DefaultModel,
		temperature: 0.7,
	}
	for _, opt := range options {
		opt(cfg)
	}

	client, err := genai.NewClient(ctx, projectID, location, cfg.googleOptions...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create vertex ai client",
			goerr.V("project", projectID), goerr.V("location", location))
	}

	return &Client{
		client:      client,
		projectID:   projectID,
		model:       cfg.model,
		temperature: cfg.temperature,
	}, nil
}

func (c *Client) Name() string {
	return providerName
}

func (c *Client) Available() bool {
	return c.projectID != ""
}

// HealthCheck counts tokens for a trivial input, the cheapest round-trip
// the API offers.
func (c *Client) HealthCheck(ctx context.Context) error {
	model := c.client.GenerativeModel(c.model)
	if _, err := model.CountTokens(ctx, genai.Text("ping")); err != nil {
		return goerr.Wrap(err, "gemini health check failed")
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// session builds a chat session holding all but the last content as history
// and returns the parts to send.
func (c *Client) session(req *reagent.ChatRequest) (*genai.ChatSession, []genai.Part, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(c.temperature)
	if tools := convertTools(req.Tools); len(tools) > 0 {
		model.Tools = tools
	}

	contents, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(contents) == 0 {
		return nil, nil, goerr.Wrap(reagent.ErrInvalidParameter, "no messages to send")
	}

	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	return session, contents[len(contents)-1].Parts, nil
}

func (c *Client) Chat(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error) {
	session, parts, err := c.session(req)
	if err != nil {
		return nil, err
	}

	resp, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, goerr.Wrap(err, "gemini generation failed", goerr.V("model", c.model))
	}

	return convertResponse(resp)
}

func (c *Client) ChatStream(ctx context.Context, req *reagent.ChatRequest) (<-chan reagent.Delta, error) {
	session, parts, err := c.session(req)
	if err != nil {
		return nil, err
	}

	iter := session.SendMessageStream(ctx, parts...)

	deltas := make(chan reagent.Delta)
	go func() {
		defer close(deltas)

		var inputTokens, outputTokens int

		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				deltas <- reagent.Delta{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			if err != nil {
				deltas <- reagent.Delta{Err: goerr.Wrap(err, "gemini stream failed")}
				return
			}

			if resp.UsageMetadata != nil {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch p := part.(type) {
					case genai.Text:
						deltas <- reagent.Delta{Text: string(p)}
					case genai.FunctionCall:
						deltas <- reagent.Delta{ToolCall: &reagent.ToolCall{
							Name:      p.Name,
							Arguments: p.Args,
						}}
					}
				}
			}
		}
	}()

	return deltas, nil
}

func convertResponse(resp *genai.GenerateContentResponse) (*reagent.ChatResponse, error) {
	out := &reagent.ChatResponse{}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 {
		return nil, goerr.New("gemini returned no candidates")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Texts = append(out.Texts, string(p))
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, reagent.ToolCall{
				// Gemini assigns no call ids; Extract synthesizes one.
				Name:      p.Name,
				Arguments: p.Args,
			})
		}
	}

	return out, nil
}

func convertMessages(messages []reagent.Message) ([]*genai.Content, string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	system := ""

	for _, msg := range messages {
		switch msg.Role {
		case reagent.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case reagent.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})

		case reagent.RoleAssistant:
			parts := make([]genai.Part, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				args, err := argumentsToMap(call.Arguments)
				if err != nil {
					return nil, "", err
				}
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: args})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})

		case reagent.RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.Name,
					Response: map[string]any{"content": msg.Content},
				}},
			})

		default:
			return nil, "", goerr.Wrap(reagent.ErrInvalidParameter, "unknown message role", goerr.V("role", string(msg.Role)))
		}
	}

	return contents, system, nil
}

func argumentsToMap(v any) (map[string]any, error) {
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

func convertTools(tools []*reagent.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, spec := range tools {
		properties := make(map[string]*genai.Schema, len(spec.Parameters))
		for name, param := range spec.Parameters {
			properties[name] = convertSchema(param)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   spec.Required,
			},
		})
	}

	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchema(param *reagent.Parameter) *genai.Schema {
	schema := &genai.Schema{
		Type:        convertType(param.Type),
		Description: param.Description,
		Enum:        param.Enum,
	}

	if param.Properties != nil {
		schema.Properties = make(map[string]*genai.Schema, len(param.Properties))
		for name, prop := range param.Properties {
			schema.Properties[name] = convertSchema(prop)
		}
		schema.Required = param.Required
	}
	if param.Items != nil {
		schema.Items = convertSchema(param.Items)
	}

	return schema
}

func convertType(t reagent.ParameterType) genai.Type {
	switch t {
	case reagent.TypeString:
		return genai.TypeString
	case reagent.TypeNumber:
		return genai.TypeNumber
	case reagent.TypeInteger:
		return genai.TypeInteger
	case reagent.TypeBoolean:
		return genai.TypeBoolean
	case reagent.TypeArray:
		return genai.TypeArray
	case reagent.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

var _ reagent.Provider = (*Client)(nil)

// Package mcptool exposes an MCP server's tools as a reagent.ToolExecutor
// plus the matching tool catalog for the loop's provider calls.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mizukami-io/reagent"
)

const clientName = "reagent"

// Executor routes tool execution to one MCP server, local via stdio or
// remote via HTTP SSE.
type Executor struct {
	// local server
	path    string
	args    []string
	envVars []string

	// remote server
	baseURL string
	headers map[string]string

	client     *client.Client
	initResult *mcp.InitializeResult
	initMutex  sync.Mutex
}

// StdioOption configures a stdio-transport executor.
type StdioOption func(*Executor)

// WithEnvVars appends environment variables for the spawned MCP server.
func WithEnvVars(envVars []string) StdioOption {
	return func(e *Executor) {
		e.envVars = append(e.envVars, envVars...)
	}
}

// NewStdio creates an executor for a local MCP server executable.
func NewStdio(path string, args []string, options ...StdioOption) *Executor {
	e := &Executor{path: path, args: args}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// SSEOption configures an SSE-transport executor.
type SSEOption func(*Executor)

// WithHeaders sets the HTTP headers sent to the remote MCP server.
func WithHeaders(headers map[string]string) SSEOption {
	return func(e *Executor) {
		e.headers = headers
	}
}

// NewSSE creates an executor for a remote MCP server.
func NewSSE(baseURL string, options ...SSEOption) *Executor {
	e := &Executor{baseURL: baseURL}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Start connects and initializes the MCP session. Idempotent.
func (e *Executor) Start(ctx context.Context) error {
	e.initMutex.Lock()
	defer e.initMutex.Unlock()

	if e.initResult != nil {
		return nil
	}

	var tp transport.Interface
	if e.path != "" {
		tp = transport.NewStdio(e.path, e.envVars, e.args...)
	}
	if e.baseURL != "" {
		sse, err := transport.NewSSE(e.baseURL, transport.WithHeaders(e.headers))
		if err != nil {
			return goerr.Wrap(err, "failed to create SSE transport")
		}
		tp = sse
	}
	if tp == nil {
		return goerr.New("no MCP transport configured")
	}

	e.client = client.NewClient(tp)
	if err := e.client.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start MCP client")
	}

	var initRequest mcp.InitializeRequest
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: "0.0.1",
	}

	resp, err := e.client.Initialize(ctx, initRequest)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize MCP client")
	}
	e.initResult = resp

	return nil
}

// Close shuts the session down.
func (e *Executor) Close() error {
	if e.client == nil {
		return nil
	}
	if err := e.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	return nil
}

// Catalog lists the server's tools converted to the loop's catalog format.
func (e *Executor) Catalog(ctx context.Context) ([]*reagent.ToolSpec, error) {
	if e.initResult == nil {
		return nil, goerr.New("MCP client not initialized")
	}

	resp, err := e.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list MCP tools")
	}

	specs := make([]*reagent.ToolSpec, 0, len(resp.Tools))
	for i := range resp.Tools {
		spec, err := convertToolSpec(&resp.Tools[i])
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert MCP tool", goerr.V("tool", resp.Tools[i].Name))
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// Execute calls the named tool on the MCP server. Transport failures are
// returned as errors (catastrophic); a tool-reported error becomes a failed
// outcome per the ToolExecutor contract.
func (e *Executor) Execute(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error) {
	if e.initResult == nil {
		return nil, goerr.New("MCP client not initialized")
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = req.Name
	callReq.Params.Arguments = req.Arguments

	resp, err := e.client.CallTool(ctx, callReq)
	if err != nil {
		return nil, goerr.Wrap(err, "MCP tool call failed", goerr.V("tool", req.Name))
	}

	output := contentText(resp.Content)
	if resp.IsError {
		return &reagent.ActionOutcome{
			Success: false,
			Error:   output,
		}, nil
	}

	return &reagent.ActionOutcome{
		Success: true,
		Output:  output,
	}, nil
}

func contentText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", c))
	}
	return strings.Join(parts, "\n")
}

// convertToolSpec maps the MCP input schema onto the catalog's parameter
// model via a JSON round-trip, which tolerates either the struct or the
// raw-map schema representation.
func convertToolSpec(tool *mcp.Tool) (*reagent.ToolSpec, error) {
	spec := &reagent.ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  map[string]*reagent.Parameter{},
	}

	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to decode input schema")
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for name, prop := range props {
			param, err := convertProperty(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property", goerr.V("property", name))
			}
			spec.Parameters[name] = param
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				spec.Required = append(spec.Required, s)
			}
		}
	}

	return spec, nil
}

func convertProperty(prop any) (*reagent.Parameter, error) {
	raw, err := json.Marshal(prop)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal property schema")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, goerr.Wrap(err, "failed to decode property schema")
	}

	param := &reagent.Parameter{}
	if t, ok := m["type"].(string); ok {
		param.Type = reagent.ParameterType(t)
	}
	if desc, ok := m["description"].(string); ok {
		param.Description = desc
	}
	if def, ok := m["default"]; ok {
		param.Default = def
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			param.Enum = append(param.Enum, fmt.Sprintf("%v", e))
		}
	}
	if items, ok := m["items"]; ok {
		converted, err := convertProperty(items)
		if err != nil {
			return nil, err
		}
		param.Items = converted
	}
	if props, ok := m["properties"].(map[string]any); ok {
		param.Properties = map[string]*reagent.Parameter{}
		for name, p := range props {
			converted, err := convertProperty(p)
			if err != nil {
				return nil, err
			}
			param.Properties[name] = converted
		}
		if required, ok := m["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					param.Required = append(param.Required, s)
				}
			}
		}
	}

	return param, nil
}

var _ reagent.ToolExecutor = (*Executor)(nil)

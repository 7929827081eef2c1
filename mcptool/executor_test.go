package mcptool_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mizukami-io/reagent"
	"github.com/mizukami-io/reagent/mcptool"
)

func TestConvertToolSpec(t *testing.T) {
	tool := &mcp.Tool{
		Name:        "search_docs",
		Description: "Searches the documentation index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
				"limit": map[string]any{
					"type":    "integer",
					"default": float64(10),
				},
				"tags": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"filter": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"lang": map[string]any{
							"type": "string",
							"enum": []any{"en", "ja"},
						},
					},
					"required": []any{"lang"},
				},
			},
			Required: []string{"query"},
		},
	}

	spec, err := mcptool.ConvertToolSpec(tool)
	gt.NoError(t, err)
	gt.Equal(t, "search_docs", spec.Name)
	gt.Equal(t, "Searches the documentation index", spec.Description)
	gt.Equal(t, []string{"query"}, spec.Required)
	gt.Equal(t, 4, len(spec.Parameters))

	query := spec.Parameters["query"]
	gt.Equal(t, reagent.TypeString, query.Type)
	gt.Equal(t, "Search query", query.Description)

	limit := spec.Parameters["limit"]
	gt.Equal(t, reagent.TypeInteger, limit.Type)
	gt.Equal[any](t, float64(10), limit.Default)

	tags := spec.Parameters["tags"]
	gt.Equal(t, reagent.TypeArray, tags.Type)
	gt.NotNil(t, tags.Items)
	gt.Equal(t, reagent.TypeString, tags.Items.Type)

	filter := spec.Parameters["filter"]
	gt.Equal(t, reagent.TypeObject, filter.Type)
	gt.Equal(t, []string{"lang"}, filter.Required)
	gt.Equal(t, []string{"en", "ja"}, filter.Properties["lang"].Enum)

	// The converted spec satisfies the catalog contract.
	gt.NoError(t, spec.Validate())
}

func TestContentText(t *testing.T) {
	t.Run("joins text contents", func(t *testing.T) {
		out := mcptool.ContentText([]mcp.Content{
			&mcp.TextContent{Type: "text", Text: "line one"},
			&mcp.TextContent{Type: "text", Text: "line two"},
		})
		gt.Equal(t, "line one\nline two", out)
	})

	t.Run("empty contents", func(t *testing.T) {
		gt.Equal(t, "", mcptool.ContentText(nil))
	})
}

func TestExecutorNotStarted(t *testing.T) {
	executor := mcptool.NewStdio("/usr/local/bin/mcp-server", nil)

	_, err := executor.Execute(context.Background(), &reagent.ActionRequest{
		ID:   "c1",
		Name: "anything",
	})
	gt.Error(t, err)

	_, err = executor.Catalog(context.Background())
	gt.Error(t, err)
}

func TestExecutorCloseBeforeStart(t *testing.T) {
	executor := mcptool.NewSSE("http://localhost:9999/sse")
	gt.NoError(t, executor.Close())
}

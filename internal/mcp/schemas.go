package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegrep/pkg/types"
)

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// kindNames lists the accepted kind filters, "any" included
func kindNames() []string {
	names := []string{"any"}
	for _, k := range types.AllKinds {
		names = append(names, string(k))
	}
	return names
}

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Revalidate the code index: parse new and changed Go and Python files and commit them",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to index (default: the server's project root)",
				},
				"prune": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, drop indexed files under path that no longer exist",
					"default":     false,
				},
				"parse_failure_policy": map[string]interface{}{
					"type":        "string",
					"description": "retry: reparse failed files on every run; advance: only after they change",
					"enum":        []string{"retry", "advance"},
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search indexed code units by phrase, regular expression or fuzzy match, grouped by file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search term (may be omitted when keys is given)",
				},
				"keys": map[string]interface{}{
					"type":        "array",
					"description": "Exact flattened key paths that must all be present on a unit, e.g. function_decl.identifier.run (see list_key_shapes)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Unit kind to match (default: the configured search kind)",
					"enum":        kindNames(),
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "phrase (default), regex or fuzzy",
					"enum":        []string{"phrase", "regex", "fuzzy"},
				},
				"field": map[string]interface{}{
					"type":        "string",
					"description": "content (default) searches unit text; keys searches flattened key paths",
					"enum":        []string{"content", "keys"},
				},
				"max_edits": map[string]interface{}{
					"type":        "integer",
					"description": "Fuzzy edit distance per word",
					"minimum":     1,
					"maximum":     5,
				},
				"revalidate": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, bring the index up to date before searching",
					"default":     true,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Annotations: readOnlyAnnotation,
		Description: "Query index statistics for the server's project",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listKeyShapesTool returns the tool definition for list_key_shapes
func listKeyShapesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_key_shapes",
		Annotations: readOnlyAnnotation,
		Description: "List the generalized key paths of indexed units, useful for building keys searches",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only return shapes starting with this prefix",
				},
			},
		},
	}
}

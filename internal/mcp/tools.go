package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all signature directory tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(deriveTool(), deriveHandler(client))
	s.AddTool(lookupTool(), lookupHandler(client))
	s.AddTool(searchTool(), searchHandler(client))
	s.AddTool(collisionsTool(), collisionsHandler(client))
	s.AddTool(sourcesTool(), sourcesHandler(client))
	s.AddTool(scanTool(), scanHandler(client))
	s.AddTool(statusTool(), statusHandler(client))
	s.AddTool(healthTool(), healthHandler(client))
}

func deriveTool() gomcp.Tool {
	return gomcp.NewTool("abisig_derive",
		gomcp.WithDescription("Derive the 4-byte selector of a canonical signature such as transfer(address,uint256). Events also get their 32-byte topic."),
		gomcp.WithString("signature",
			gomcp.Required(),
			gomcp.Description("Canonical signature: name(type1,type2,...) with tuples written as (t1,t2)"),
		),
		gomcp.WithString("kind",
			gomcp.Description("Entry kind: function (default), event, error"),
			gomcp.Enum("function", "event", "error"),
		),
	)
}

func deriveHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sig, err := req.RequireString("signature")
		if err != nil || strings.TrimSpace(sig) == "" {
			return gomcp.NewToolResultError("signature is required"), nil
		}
		payload := map[string]any{"signature": strings.TrimSpace(sig)}
		if kind := req.GetString("kind", ""); kind != "" {
			payload["kind"] = kind
		}

		raw, err := client.Post(ctx, "/v1/derive", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Derive failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatDerived(raw)), nil
	}
}

func lookupTool() gomcp.Tool {
	return gomcp.NewTool("abisig_lookup",
		gomcp.WithDescription("Look up the known signatures for a 4-byte selector (e.g. 0xa9059cbb) in the signature directory."),
		gomcp.WithString("selector",
			gomcp.Required(),
			gomcp.Description("Selector as 8 hex digits, with or without 0x"),
		),
	)
}

func lookupHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		selector, err := req.RequireString("selector")
		if err != nil || strings.TrimSpace(selector) == "" {
			return gomcp.NewToolResultError("selector is required"), nil
		}
		selector = strings.TrimSpace(selector)

		raw, err := client.Get(ctx, "/v1/selectors/"+url.PathEscape(selector))
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return gomcp.NewToolResultText(joinLines(
					section("Selector "+selector),
					"No known signature. Scan more artifacts or derive a candidate with abisig_derive.",
				)), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatLookup(selector, raw)), nil
	}
}

func searchTool() gomcp.Tool {
	return gomcp.NewTool("abisig_search",
		gomcp.WithDescription("Search stored signatures by substring (case-insensitive, paginated)."),
		gomcp.WithString("query",
			gomcp.Description("Substring of the signature, e.g. 'transfer' (empty lists everything)"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 50, max: 500)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
}

func searchHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		q := url.Values{}
		if query := strings.TrimSpace(req.GetString("query", "")); query != "" {
			q.Set("q", query)
		}
		q.Set("limit", fmt.Sprint(req.GetInt("limit", 50)))
		q.Set("offset", fmt.Sprint(req.GetInt("offset", 0)))

		raw, err := client.Get(ctx, "/v1/signatures?"+q.Encode())
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatSearch(raw)), nil
	}
}

func collisionsTool() gomcp.Tool {
	return gomcp.NewTool("abisig_collisions",
		gomcp.WithDescription("List function and error selectors shared by more than one distinct signature."),
	)
}

func collisionsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/collisions")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Collisions failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatCollisions(raw)), nil
	}
}

func sourcesTool() gomcp.Tool {
	return gomcp.NewTool("abisig_sources",
		gomcp.WithDescription("List scanned artifact files with their entry and error counts (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 50, max: 500)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
}

func sourcesHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		path := fmt.Sprintf("/v1/sources?limit=%d&offset=%d", req.GetInt("limit", 50), req.GetInt("offset", 0))
		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Sources failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatSources(raw)), nil
	}
}

func scanTool() gomcp.Tool {
	return gomcp.NewTool("abisig_scan",
		gomcp.WithDescription("Rescan the configured artifact tree into the signature directory. This is a MUTATING operation."),
	)
}

func scanHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post(ctx, "/v1/scan", nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
				return gomcp.NewToolResultError("A scan is already running. Check progress with abisig_status."), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatScan(raw)), nil
	}
}

func statusTool() gomcp.Tool {
	return gomcp.NewTool("abisig_status",
		gomcp.WithDescription("Get signature directory status: scan state, last scan summary, signature and collision counts."),
	)
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Signature directory unreachable: %v\n\nIs it running? Try: selectors -serve :3002", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	}
}

func healthTool() gomcp.Tool {
	return gomcp.NewTool("abisig_health",
		gomcp.WithDescription("Quick health check for the signature directory. Checks the database and, when configured, RPC connectivity."),
	)
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
				return gomcp.NewToolResultError(formatHealth(apiErr.Body)), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Signature directory unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	}
}

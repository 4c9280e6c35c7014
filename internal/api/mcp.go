package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/hrq/internal/ingest"
)

// MCPDeps holds dependencies for the MCP server. Stdio has no per-request
// identity, so every call runs as CallerID.
type MCPDeps struct {
	Engine   QueryEngine
	Catalog  DatasetCatalog
	Ingester DocumentIngester
	History  HistoryLister
	CallerID string
	Version  string
}

// NewMCPServer creates an MCP server with the hrq tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"hrq",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("hrq answers questions about employees from HR databases and ingested documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_employees",
			mcp.WithDescription("Answer a natural-language question about employees using the HR database, ingested documents, or both."),
			mcp.WithString("query", mcp.Description("The question, e.g. \"How many employees do we have?\""), mcp.Required()),
			mcp.WithString("dataset_id", mcp.Description("Dataset to run SQL against; optional for document-only questions")),
		),
		mcpQueryEmployees(deps),
	)

	s.AddTool(
		mcp.NewTool("list_datasets",
			mcp.WithDescription("List the datasets whose schemas have been imported."),
		),
		mcpListDatasets(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Ingest a plain-text document (CV, policy, review) for semantic search."),
			mcp.WithString("filename", mcp.Description("Source filename shown in results"), mcp.Required()),
			mcp.WithString("content", mcp.Description("The document text"), mcp.Required()),
		),
		mcpAddDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"hrq://history/recent",
			"Recent Queries",
			mcp.WithResourceDescription("Last 10 processed questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpQueryEmployees(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		datasetID := req.GetString("dataset_id", "")

		resp, err := deps.Engine.ProcessQuery(ctx, text, datasetID, deps.CallerID)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDatasets(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := deps.Catalog.List(ctx, deps.CallerID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list datasets: %v", err)), nil
		}

		type datasetSummary struct {
			ID     string   `json:"id"`
			Name   string   `json:"name,omitempty"`
			Driver string   `json:"driver"`
			Tables []string `json:"tables"`
		}
		out := make([]datasetSummary, len(list))
		for i, ds := range list {
			tables := make([]string, len(ds.Schema.Tables))
			for j, t := range ds.Schema.Tables {
				tables[j] = t.Name
			}
			out[i] = datasetSummary{ID: ds.ID, Name: ds.Name, Driver: ds.Driver, Tables: tables}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal datasets: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		doc, err := deps.Ingester.Ingest(ctx, deps.CallerID, ingest.Document{
			Filename: filename,
			Text:     content,
			Metadata: map[string]string{"source": "mcp"},
		})
		if errors.Is(err, ingest.ErrEmptyDocument) {
			return mcpError("content is empty"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to ingest: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued document %s (%d chunks)", doc.ID, doc.ChunkCount)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := deps.History.List(ctx, deps.CallerID, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent queries: %w", err)
		}

		type querySummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Query     string `json:"query"`
			Intent    string `json:"intent"`
			Status    string `json:"status"`
			CacheHit  bool   `json:"cache_hit"`
		}

		summaries := make([]querySummary, len(recs))
		for i, rec := range recs {
			summaries[i] = querySummary{
				ID:        rec.ID,
				CreatedAt: rec.Timestamp.Format(time.RFC3339),
				Query:     truncate(rec.QueryText, 200),
				Intent:    string(rec.Intent),
				Status:    rec.Status,
				CacheHit:  rec.CacheHit,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queries: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}


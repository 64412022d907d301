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

	"github.com/kalambet/parentproof/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server. Every call runs as UserID.
type MCPDeps struct {
	Pipeline Answerer
	Quota    QuotaService
	Log      QueryLog // optional; enables the history resource
	UserID   string
	Version  string
}

// NewMCPServer creates an MCP server exposing the answer pipeline as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"parentproof",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("parentproof answers pregnancy and childcare questions with cited pros and cons from medical literature."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a pregnancy or childcare question. Returns pros and cons with numbered citations."),
			mcp.WithString("question", mcp.Description("The question, in plain language"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("quota_status",
			mcp.WithDescription("Report how many questions remain today and when the counter resets."),
		),
		mcpQuotaStatus(deps),
	)

	if deps.Log != nil {
		s.AddResource(
			mcp.NewResource(
				"parentproof://history",
				"Recent Questions",
				mcp.WithResourceDescription("Last 10 questions asked and how each was resolved"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceHistory(deps),
		)
	}

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		a, meta, err := deps.Pipeline.Answer(ctx, question, deps.UserID)
		logQuery(ctx, deps.Log, deps.UserID, question, outcome(meta, err))
		if err != nil {
			return mcpError(describe(err)), nil
		}

		b, err := json.Marshal(a)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// describe turns a pipeline failure into a message for a tool caller.
func describe(err error) string {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return fmt.Sprintf("internal error: %v", err)
	}
	switch pe.Kind {
	case pipeline.KindNotRelevant:
		return "this service only answers questions about pregnancy and childcare"
	case pipeline.KindQuotaExceeded:
		return fmt.Sprintf("daily request limit reached; resets at %s", pe.ResetAt.Format(time.RFC3339))
	case pipeline.KindNoSubscription:
		return "account is not provisioned; run `parentproof users provision` first"
	default:
		return fmt.Sprintf("%s: %v", pe.Kind, pe.Err)
	}
}

func mcpQuotaStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d, err := deps.Quota.Status(ctx, deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("quota lookup failed: %v", err)), nil
		}
		b, err := json.Marshal(quotaResponse{
			Count:     d.Count,
			Limit:     d.Limit,
			Remaining: d.Remaining(),
			ResetAt:   d.ResetAt.UTC(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal quota: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Log.RecentQueries(ctx, deps.UserID, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent queries: %w", err)
		}

		out := make([]historyEntry, len(entries))
		for i, e := range entries {
			q := e.Question
			if utf8.RuneCountInString(q) > 200 {
				q = string([]rune(q)[:200]) + "..."
			}
			out[i] = historyEntry{ID: e.ID, Question: q, Outcome: e.Outcome, CreatedAt: e.CreatedAt}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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

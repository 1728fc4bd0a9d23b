// CLAUDE:SUMMARY MCP tool surface: search, book, history and preferences exposed through kit endpoints.
package booking

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/platz/kit"
)

// RegisterMCP registers the booking tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerSearchTool(srv)
	s.registerBookTool(srv)
	s.registerHistoryTool(srv)
	s.registerPreferencesTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- search ---

type searchReq struct {
	UserID string `json:"user_id"`
	Query
}

func (s *Service) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "platz_search",
		Description: "Search free tennis court or trainer slots across the configured portals for one date.",
		InputSchema: inputSchema(map[string]any{
			"user_id":      map[string]any{"type": "string", "description": "User whose credentials and preferences apply"},
			"date":         map[string]any{"type": "string", "description": "Day to search, YYYY-MM-DD"},
			"start_time":   map[string]any{"type": "string", "description": "Window start, HH:MM"},
			"end_time":     map[string]any{"type": "string", "description": "Window end, HH:MM"},
			"venues":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Restrict to these venues or portal keys"},
			"kind":         map[string]any{"type": "string", "description": "court (default) or trainer"},
			"trainer_name": map[string]any{"type": "string", "description": "Filter trainer results by name"},
		}, []string{"user_id", "date", "start_time", "end_time"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		return s.Search(ctx, r.UserID, r.Query)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithUserID(ctx, r.UserID) },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- book ---

func (s *Service) registerBookTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "platz_book",
		Description: "Book one exact slot: portal, court, date and start time must all match a free slot.",
		InputSchema: inputSchema(map[string]any{
			"user_id":    map[string]any{"type": "string", "description": "User whose stored portal credentials are used"},
			"portal":     map[string]any{"type": "string", "description": "Portal key, e.g. dasspiel or postsv"},
			"court_name": map[string]any{"type": "string", "description": "Exact court name as returned by search"},
			"date":       map[string]any{"type": "string", "description": "Day, YYYY-MM-DD"},
			"time_start": map[string]any{"type": "string", "description": "Start time, HH:MM"},
		}, []string{"user_id", "portal", "court_name", "date", "time_start"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*BookingRequest)
		return s.Book(ctx, *r)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r BookingRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithUserID(ctx, r.UserID) },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- history ---

type historyReq struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "platz_history",
		Description: "List the user's past booking attempts, newest first, including unresolved unknown outcomes.",
		InputSchema: inputSchema(map[string]any{
			"user_id": map[string]any{"type": "string", "description": "User to list history for"},
			"limit":   map[string]any{"type": "integer", "description": "Maximum entries, default 50"},
		}, []string{"user_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyReq)
		return s.History(ctx, r.UserID, r.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- preferences ---

type preferencesReq struct {
	UserID string `json:"user_id"`
}

func (s *Service) registerPreferencesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "platz_preferences",
		Description: "Summarize the user's learned booking preferences: venues, times of day, weekdays, typical price.",
		InputSchema: inputSchema(map[string]any{
			"user_id": map[string]any{"type": "string", "description": "User to summarize"},
		}, []string{"user_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*preferencesReq)
		return s.Preferences(ctx, r.UserID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r preferencesReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

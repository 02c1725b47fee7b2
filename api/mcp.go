package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/variazioni/variation"
)

// Implementation identifies the MCP server.
var Implementation = &mcp.Implementation{Name: "variazioni", Version: "1.0.0"}

// RegisterMCP registers the variazioni tools on an MCP server. They answer
// the same queries as the HTTP routes.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerVariations(srv)
	s.registerFindTeacher(srv)
	s.registerStats(srv)
	s.registerRuns(srv)
	s.registerRunNow(srv)
}

// MCPHandler serves srv over streamable HTTP.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerTool decodes the arguments into a T, calls endpoint and returns
// its result as JSON text. Errors are tool errors, not protocol errors.
func registerTool[T any](srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, *T) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := endpoint(ctx, &p)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

func (s *Server) registerVariations(srv *mcp.Server) {
	type req struct {
		Dates []string `json:"dates"`
		Class string   `json:"class"`
		From  string   `json:"from"`
	}
	tool := &mcp.Tool{
		Name:        "variazioni_variations",
		Description: "Stored variations for the given dates, or for a class from a date on",
		InputSchema: inputSchema(map[string]any{
			"dates": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Dates as YYYY-MM-DD"},
			"class": map[string]any{"type": "string", "description": "Class name, e.g. 3A"},
			"from":  map[string]any{"type": "string", "description": "First date for the class query, YYYY-MM-DD"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, p *req) (any, error) {
		if p.Class != "" {
			var from variation.Date
			if p.From != "" {
				d, err := variation.ParseDate(p.From)
				if err != nil {
					return nil, err
				}
				from = d
			}
			vs, err := s.store.VariationsOf(ctx, p.Class, from)
			return nonNil(vs), err
		}
		if len(p.Dates) == 0 {
			return nil, errors.New("dates or class is required")
		}
		dates := make([]variation.Date, 0, len(p.Dates))
		for _, raw := range p.Dates {
			d, err := variation.ParseDate(raw)
			if err != nil {
				return nil, err
			}
			dates = append(dates, d)
		}
		vs, err := s.store.GetVariationsByDate(ctx, dates)
		return nonNil(vs), err
	})
}

func (s *Server) registerFindTeacher(srv *mcp.Server) {
	type req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	tool := &mcp.Tool{
		Name:        "variazioni_find_teacher",
		Description: "Fuzzy lookup of teacher names seen in stored variations",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Part of a name"},
			"limit": map[string]any{"type": "integer", "description": "Max results (default 10)"},
		}, []string{"query"}),
	}
	registerTool(srv, tool, func(ctx context.Context, p *req) (any, error) {
		if p.Query == "" {
			return nil, errors.New("query is required")
		}
		if p.Limit <= 0 {
			p.Limit = 10
		}
		names, err := s.store.FindTeacher(ctx, p.Query, p.Limit)
		return nonNil(names), err
	})
}

func (s *Server) registerStats(srv *mcp.Server) {
	type req struct {
		Kind  string `json:"kind"`
		Month int    `json:"month"`
		Age   int    `json:"age"`
	}
	tool := &mcp.Tool{
		Name:        "variazioni_stats",
		Description: "Variation analytics: classes, professors, class_age, yearly, monthly, hourly, weekday, summary, classes_count",
		InputSchema: inputSchema(map[string]any{
			"kind":  map[string]any{"type": "string", "description": "Aggregation name"},
			"month": map[string]any{"type": "integer", "description": "Month 1-12, for monthly"},
			"age":   map[string]any{"type": "integer", "description": "Class year 1-9, for class_age"},
		}, []string{"kind"}),
	}
	registerTool(srv, tool, func(ctx context.Context, p *req) (any, error) {
		switch p.Kind {
		case "classes":
			out, err := s.store.ClassesLeaderboard(ctx)
			return nonNil(out), err
		case "professors":
			out, err := s.store.ProfessorsLeaderboard(ctx)
			return nonNil(out), err
		case "class_age":
			if p.Age < 1 || p.Age > 9 {
				return nil, errors.New("age must be 1-9")
			}
			out, err := s.store.VariationsPerClassAge(ctx, p.Age)
			return nonNil(out), err
		case "yearly":
			out, err := s.store.YearlyStats(ctx)
			return nonNil(out), err
		case "monthly":
			if p.Month < 1 || p.Month > 12 {
				return nil, errors.New("month must be 1-12")
			}
			out, err := s.store.MonthlyStats(ctx, time.Month(p.Month))
			return nonNil(out), err
		case "hourly":
			out, err := s.store.HourlyStats(ctx)
			return nonNil(out), err
		case "weekday":
			out, err := s.store.WeekdayStats(ctx)
			return nonNil(out), err
		case "summary":
			out, err := s.store.Summary(ctx)
			return nonNil(out), err
		case "classes_count":
			out, err := s.store.ClassesCount(ctx)
			return nonNil(out), err
		default:
			return nil, fmt.Errorf("unknown stats kind %q", p.Kind)
		}
	})
}

func (s *Server) registerRuns(srv *mcp.Server) {
	type req struct {
		RunID string `json:"run_id"`
		Limit int    `json:"limit"`
	}
	tool := &mcp.Tool{
		Name:        "variazioni_runs",
		Description: "Recent polling runs, or the documents of one run",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run ID; lists its documents"},
			"limit":  map[string]any{"type": "integer", "description": "Max runs (default 20)"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, p *req) (any, error) {
		if p.RunID != "" {
			out, err := s.store.RunDocuments(ctx, p.RunID)
			return nonNil(out), err
		}
		if p.Limit <= 0 {
			p.Limit = 20
		}
		out, err := s.store.RecentRuns(ctx, p.Limit)
		return nonNil(out), err
	})
}

func (s *Server) registerRunNow(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "variazioni_run_now",
		Description: "Start a polling cycle in the background",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(context.Context, *req) (any, error) {
		if err := s.startRun(); err != nil {
			return nil, err
		}
		return map[string]string{"status": "started"}, nil
	})
}

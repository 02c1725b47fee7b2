package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/variazioni/store"
	"github.com/hazyhaar/variazioni/variation"
)

var testMCPImpl = &mcp.Implementation{Name: "variazioni-test", Version: "0.1.0"}

func mcpSession(t *testing.T, runner Runner) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	newAPI(t, runner).RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text
}

// mcpCall calls a tool that must succeed and decodes its JSON answer.
func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args, out any) {
	t.Helper()
	result := callTool(t, session, name, args)
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), out); err != nil {
		t.Fatalf("CallTool(%s): decode: %v", name, err)
	}
}

// mcpCallErr calls a tool that must fail and returns its error text.
func mcpCallErr(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := callTool(t, session, name, args)
	if !result.IsError {
		t.Fatalf("CallTool(%s): expected a tool error, got %s", name, toolText(t, result))
	}
	return toolText(t, result)
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpSession(t, nil)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{
		"variazioni_find_teacher", "variazioni_run_now", "variazioni_runs",
		"variazioni_stats", "variazioni_variations",
	}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestMCP_VariationsByDate(t *testing.T) {
	// WHAT: The tool answers the same date and class queries as the HTTP route.
	// WHY: Agents read the schedule changes without scraping the JSON API.
	session := mcpSession(t, nil)

	var vs []variation.Variation
	mcpCall(t, session, "variazioni_variations", map[string]any{"dates": []string{"2024-05-13", "2024-05-14"}}, &vs)
	if len(vs) != 3 {
		t.Fatalf("variations = %d, want 3", len(vs))
	}

	vs = nil
	mcpCall(t, session, "variazioni_variations", map[string]any{"class": "3A", "from": "2024-05-13"}, &vs)
	if len(vs) != 2 {
		t.Errorf("3A variations = %d, want 2", len(vs))
	}

	vs = nil
	mcpCall(t, session, "variazioni_variations", map[string]any{"dates": []string{"2024-01-01"}}, &vs)
	if vs == nil || len(vs) != 0 {
		t.Errorf("empty date = %v, want []", vs)
	}

	if msg := mcpCallErr(t, session, "variazioni_variations", map[string]any{}); !strings.Contains(msg, "required") {
		t.Errorf("no arguments: %q", msg)
	}
	mcpCallErr(t, session, "variazioni_variations", map[string]any{"dates": []string{"13/05/2024"}})
}

func TestMCP_FindTeacher(t *testing.T) {
	session := mcpSession(t, nil)
	var names []string
	mcpCall(t, session, "variazioni_find_teacher", map[string]any{"query": "ross"}, &names)
	if !slices.Equal(names, []string{"Rossi"}) {
		t.Errorf("names = %v, want [Rossi]", names)
	}
}

func TestMCP_Stats(t *testing.T) {
	session := mcpSession(t, nil)

	var ranked []store.Ranked
	mcpCall(t, session, "variazioni_stats", map[string]any{"kind": "classes"}, &ranked)
	if len(ranked) == 0 || ranked[0] != (store.Ranked{Name: "3A", Count: 2}) {
		t.Errorf("classes = %+v, want 3A first with 2", ranked)
	}

	ranked = nil
	mcpCall(t, session, "variazioni_stats", map[string]any{"kind": "class_age", "age": 4}, &ranked)
	if want := []store.Ranked{{Name: "4B", Count: 1}}; !reflect.DeepEqual(ranked, want) {
		t.Errorf("class_age 4 = %+v, want %+v", ranked, want)
	}

	var buckets []store.Bucket
	mcpCall(t, session, "variazioni_stats", map[string]any{"kind": "monthly", "month": 5}, &buckets)
	if len(buckets) != 31 {
		t.Errorf("monthly buckets = %d, want 31", len(buckets))
	}

	if msg := mcpCallErr(t, session, "variazioni_stats", map[string]any{"kind": "bogus"}); !strings.Contains(msg, "unknown stats kind") {
		t.Errorf("unknown kind: %q", msg)
	}
	mcpCallErr(t, session, "variazioni_stats", map[string]any{"kind": "monthly", "month": 13})
}

func TestMCP_Runs(t *testing.T) {
	session := mcpSession(t, nil)
	var runs []store.Run
	mcpCall(t, session, "variazioni_runs", map[string]any{}, &runs)
	if runs == nil || len(runs) != 0 {
		t.Errorf("runs = %v, want []", runs)
	}
}

func TestMCP_RunNow(t *testing.T) {
	// WHAT: run_now starts a cycle and refuses while one is active.
	// WHY: Runs never overlap, whichever surface triggers them.
	runner := &fakeRunner{}
	session := mcpSession(t, runner)

	var status map[string]string
	mcpCall(t, session, "variazioni_run_now", map[string]any{}, &status)
	if status["status"] != "started" {
		t.Errorf("status = %v", status)
	}
	waitFor(t, func() bool { return runner.calls.Load() == 1 })

	runner.busy.Store(true)
	if msg := mcpCallErr(t, session, "variazioni_run_now", map[string]any{}); !strings.Contains(msg, "in progress") {
		t.Errorf("busy: %q", msg)
	}

	disabled := mcpSession(t, nil)
	if msg := mcpCallErr(t, disabled, "variazioni_run_now", map[string]any{}); !strings.Contains(msg, "disabled") {
		t.Errorf("no runner: %q", msg)
	}
}

func TestMCPHandler_ServesStreamableHTTP(t *testing.T) {
	// WHAT: The streamable HTTP handler mounted by serve answers an MCP client.
	srv := mcp.NewServer(testMCPImpl, nil)
	newAPI(t, nil).RegisterMCP(srv)
	ts := httptest.NewServer(MCPHandler(srv))
	defer ts.Close()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	var names []string
	mcpCall(t, session, "variazioni_find_teacher", map[string]any{"query": "verd"}, &names)
	if !slices.Equal(names, []string{"Verdi"}) {
		t.Errorf("names = %v, want [Verdi]", names)
	}
}

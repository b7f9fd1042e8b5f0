// mcp/server.go
// Minimal MCP stdio server exposing the research orchestration tools.
// - Session state lives ONLY in the injected registry (boundary).
// - Tool handlers operate on explicit inputs and the shared service.
//
// Start: `go run ./mcp`
// Clients connect via stdio JSON-RPC: "tools/list" and "tools/call".

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Cownjackson/open-deep-research/config"
	"github.com/Cownjackson/open-deep-research/internal/app"
	"github.com/Cownjackson/open-deep-research/internal/research"
)

// ---------- JSON-RPC skeleton ----------

type rpcReq struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}
type rpcResp struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   *rpcError              `json:"error,omitempty"`
}
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeResp(w io.Writer, id any, result map[string]interface{}, err error) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(resp)
}

// ---------- Tool registry ----------

// ToolDesc describes a single MCP tool, including input schema.
type ToolDesc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// MCPServer holds the shared research service (the only state).
type MCPServer struct {
	Svc    *research.Service
	Logger *log.Logger

	// SyncTimeout bounds research.question calls; the engine-side wait
	// deadline still applies underneath.
	SyncTimeout time.Duration

	// AllowClarification is the default when a tool call omits the flag.
	AllowClarification bool

	tools []ToolDesc
}

// NewMCPServer wires dependencies once.
func NewMCPServer(cfgPath string) (*MCPServer, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	// stdout carries the protocol; all logging goes to stderr.
	logger := log.New(os.Stderr, "[MCP] ", log.LstdFlags)

	svc, _, err := app.Build(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv := &MCPServer{
		Svc:                svc,
		Logger:             logger,
		SyncTimeout:        cfg.Research.WaitDeadline + 30*time.Second,
		AllowClarification: cfg.Research.AllowClarification,
	}
	srv.initTools()
	return srv, nil
}

// initTools defines schemas and descriptions surfaced to MCP clients.
func (srv *MCPServer) initTools() {
	sessionIDProp := map[string]any{"type": "string", "description": "Session id returned by research.start"}
	srv.tools = []ToolDesc{
		{
			Name:        "research.start",
			Description: "Start a research session. Returns immediately with a session id; monitor with research.progress and collect with research.result.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question":            map[string]any{"type": "string"},
					"allow_clarification": map[string]any{"type": "boolean"},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        "research.progress",
			Description: "Check the progress of a research session.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"session_id": sessionIDProp},
				"required":   []string{"session_id"},
			},
		},
		{
			Name:        "research.result",
			Description: "Get the result of a completed research session: the final report, a clarification request, or an error.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"session_id": sessionIDProp},
				"required":   []string{"session_id"},
			},
		},
		{
			Name:        "research.continue",
			Description: "Continue a session by answering its clarification question. Omit session_id to target the most recent session.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProp,
					"answer":     map[string]any{"type": "string"},
				},
				"required": []string{"answer"},
			},
		},
		{
			Name:        "research.sessions",
			Description: "List active research sessions.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "research.recover",
			Description: "Recover a result directly by engine thread id, bypassing the session registry. Useful after a timeout or restart.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"thread_id": map[string]any{"type": "string"}},
				"required":   []string{"thread_id"},
			},
		},
		{
			Name:        "research.question",
			Description: "Research a question synchronously: start, wait for completion, and return the report or clarification request.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question":            map[string]any{"type": "string"},
					"allow_clarification": map[string]any{"type": "boolean"},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        "research.status",
			Description: "Check whether the research engine is up.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// callTool dispatches to handler functions.
func (srv *MCPServer) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "research.start":
		return srv.tStart(ctx, args)
	case "research.progress":
		return srv.tProgress(ctx, args)
	case "research.result":
		return srv.tResult(ctx, args)
	case "research.continue":
		return srv.tContinue(ctx, args)
	case "research.sessions":
		return srv.tSessions(ctx)
	case "research.recover":
		return srv.tRecover(ctx, args)
	case "research.question":
		return srv.tQuestion(ctx, args)
	case "research.status":
		return srv.tStatus(ctx)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// ---------- Tool handlers ----------

func (srv *MCPServer) tStart(ctx context.Context, args map[string]any) (map[string]any, error) {
	question := str(args["question"])
	if question == "" {
		return nil, errors.New("question is required")
	}
	sessionID, err := srv.Svc.StartResearch(ctx, question, research.Options{
		AllowClarification: asBool(args["allow_clarification"], srv.AllowClarification),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": sessionID}, nil
}

func (srv *MCPServer) tProgress(ctx context.Context, args map[string]any) (map[string]any, error) {
	sessionID := str(args["session_id"])
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	p, err := srv.Svc.PollProgress(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id":      p.SessionID,
		"status":          string(p.Status),
		"run_status":      string(p.RunStatus),
		"elapsed_seconds": int(p.Elapsed / time.Second),
	}, nil
}

func (srv *MCPServer) tResult(ctx context.Context, args map[string]any) (map[string]any, error) {
	sessionID := str(args["session_id"])
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	outcome, err := srv.Svc.FetchResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return outcomeMap(outcome), nil
}

func (srv *MCPServer) tContinue(ctx context.Context, args map[string]any) (map[string]any, error) {
	answer := str(args["answer"])
	if answer == "" {
		return nil, errors.New("answer is required")
	}
	sessionID, err := srv.Svc.Continue(ctx, str(args["session_id"]), answer)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": sessionID}, nil
}

func (srv *MCPServer) tSessions(ctx context.Context) (map[string]any, error) {
	sessions, err := srv.Svc.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]any{
			"session_id":      s.ID,
			"thread_id":       s.ThreadID,
			"status":          string(s.Status),
			"question":        s.Question,
			"elapsed_seconds": int(s.Elapsed() / time.Second),
		})
	}
	return map[string]any{"sessions": out}, nil
}

func (srv *MCPServer) tRecover(ctx context.Context, args map[string]any) (map[string]any, error) {
	threadID := str(args["thread_id"])
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	outcome, err := srv.Svc.RecoverByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return outcomeMap(outcome), nil
}

func (srv *MCPServer) tQuestion(ctx context.Context, args map[string]any) (map[string]any, error) {
	question := str(args["question"])
	if question == "" {
		return nil, errors.New("question is required")
	}
	outcome, err := srv.Svc.Research(ctx, question, research.Options{
		AllowClarification: asBool(args["allow_clarification"], srv.AllowClarification),
	})
	if err != nil {
		return nil, err
	}
	return outcomeMap(outcome), nil
}

func (srv *MCPServer) tStatus(ctx context.Context) (map[string]any, error) {
	return map[string]any{"engine_up": srv.Svc.Health(ctx)}, nil
}

// ---------- helpers ----------

func outcomeMap(o research.Outcome) map[string]any {
	out := map[string]any{"kind": string(o.Kind)}
	switch o.Kind {
	case research.OutcomeReport:
		out["report"] = o.Report
	case research.OutcomeClarification:
		out["clarification"] = o.Clarification
	}
	return out
}

func str(v any) string { s, _ := v.(string); return s }

func asBool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// ---------- stdio loop ----------

// Serve runs a simple stdio JSON-RPC loop for MCP. Input is line-delimited;
// a malformed line is skipped so one bad message cannot stall the stream.
func (srv *MCPServer) Serve(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var req rpcReq
		if err := json.Unmarshal(line, &req); err != nil {
			srv.Logger.Printf("skipping malformed request: %v", err)
			continue
		}

		switch req.Method {
		case "tools/list":
			writeResp(out, req.ID, map[string]any{"tools": srv.tools}, nil)

		case "tools/call":
			name := ""
			args := map[string]any{}
			if v, ok := req.Params["name"].(string); ok {
				name = v
			}
			if m, ok := req.Params["arguments"].(map[string]any); ok {
				args = m
			}
			// Per-call timeout; the synchronous research tool needs the
			// full wait window, everything else stays short.
			timeout := 60 * time.Second
			if name == "research.question" {
				timeout = srv.SyncTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			res, err := srv.callTool(ctx, name, args)
			cancel()
			writeResp(out, req.ID, res, err)

		default:
			writeResp(out, req.ID, nil, fmt.Errorf("unknown method: %s", req.Method))
		}
	}
	return sc.Err()
}

func main() {
	cfgPath := os.Getenv("DEEPRESEARCH_CONFIG")
	srv, err := NewMCPServer(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}

// Package executor connects the suite engine to a live MCP server over the
// stdio or streamable-http transport.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rustic-ai/moth/packages/harness"
	"github.com/rustic-ai/moth/packages/spec"
)

const protocolVersion = "2024-11-05"

// MCPExecutor owns one server connection for the lifetime of a suite run.
// Connect starts the server (stdio) or dials it (http) and performs the
// protocol handshake; Execute then issues tools/call requests against it.
type MCPExecutor struct {
	server  spec.ServerConfig
	limiter *rate.Limiter
	log     *logrus.Entry

	mu        sync.Mutex
	client    client.MCPClient
	connected bool
}

// Option configures the executor.
type Option func(*MCPExecutor)

// WithRateLimit caps outgoing tool calls at rps per second. Zero or
// negative disables pacing.
func WithRateLimit(rps float64) Option {
	return func(e *MCPExecutor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New builds an executor for the given server. Call Connect before Execute.
func New(server spec.ServerConfig, opts ...Option) *MCPExecutor {
	e := &MCPExecutor{
		server: server,
		log:    logrus.WithField("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect launches or dials the server and completes the initialize
// handshake, bounded by the configured startup timeout.
func (e *MCPExecutor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}

	mcpClient, err := e.newClient()
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, e.server.StartupTimeout())
	defer cancel()

	result, err := mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "moth",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"server":  result.ServerInfo.Name,
		"version": result.ServerInfo.Version,
	}).Info("connected to server")

	e.client = mcpClient
	e.connected = true
	return nil
}

func (e *MCPExecutor) newClient() (client.MCPClient, error) {
	switch strings.ToLower(e.server.Transport) {
	case "", "stdio":
		var envStrings []string
		for k, v := range e.server.Env {
			envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
		}
		c, err := client.NewStdioMCPClient(e.server.Command, envStrings, e.server.Args...)
		if err != nil {
			return nil, fmt.Errorf("starting server process: %w", err)
		}
		return c, nil
	case "http":
		c, err := client.NewStreamableHttpClient(e.server.URL)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", e.server.URL, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", e.server.Transport)
	}
}

// Execute issues one tools/call request and maps the result to the engine's
// execution contract. Server-flagged errors come back as ToolError, not err;
// transport failures come back as err.
func (e *MCPExecutor) Execute(ctx context.Context, tool string, tc *spec.TestCase) (*harness.Execution, error) {
	e.mu.Lock()
	mcpClient, connected := e.client, e.connected
	e.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("executor not connected")
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      tool,
			Arguments: tc.Input,
		},
	}

	start := time.Now()
	result, err := mcpClient.CallTool(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", tool, err)
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	exec := &harness.Execution{
		Response:  response,
		ToolError: result.IsError,
		Duration:  elapsed,
	}
	if result.IsError {
		exec.ErrorMessage = textContent(result)
	}

	e.log.WithFields(logrus.Fields{
		"tool":     tool,
		"test":     tc.Name,
		"duration": elapsed,
		"is_error": result.IsError,
	}).Debug("tool call completed")
	return exec, nil
}

// ListTools fetches the server's advertised tool list, used for capability
// verification before a run.
func (e *MCPExecutor) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	e.mu.Lock()
	mcpClient, connected := e.client, e.connected
	e.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("executor not connected")
	}
	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return result.Tools, nil
}

// Close shuts down the connection and, for stdio, the server process.
func (e *MCPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return nil
	}
	e.connected = false
	return e.client.Close()
}

func textContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/hilagent/agent"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
)

// MCPServer describes a remote MCP server.
type MCPServer struct {
	Name string
	URL  string
	// Transport is "sse" or "streamable"; empty means sse.
	Transport string
	// Review puts every tool of the server behind human review.
	Review bool
}

// MCPToolset holds the sessions opened to MCP servers and the tools they expose.
type MCPToolset struct {
	sessions []*mcp.ClientSession
	tools    []tools.Tool
}

// Tools returns the discovered tools.
func (s *MCPToolset) Tools() []tools.Tool {
	return s.tools
}

// Close closes every session.
func (s *MCPToolset) Close() error {
	var errs []error
	for _, cs := range s.sessions {
		if err := cs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectMCP connects to every server and collects its tools. A server that
// cannot be reached is logged and skipped so the agent still starts with the
// rest of its tools.
func ConnectMCP(ctx context.Context, servers []MCPServer, logger log.Logger) *MCPToolset {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	set := &MCPToolset{}
	client := mcp.NewClient(&mcp.Implementation{Name: "hilagent", Version: "v1.0.0"}, nil)

	for _, srv := range servers {
		var transport mcp.Transport
		switch srv.Transport {
		case "streamable":
			transport = &mcp.StreamableClientTransport{Endpoint: srv.URL}
		default:
			transport = &mcp.SSEClientTransport{Endpoint: srv.URL}
		}

		cs, err := client.Connect(ctx, transport, nil)
		if err != nil {
			logger.Error("connect mcp server %s: %v", srv.Name, err)
			continue
		}
		ts, err := SessionTools(ctx, cs)
		if err != nil {
			logger.Error("list tools of mcp server %s: %v", srv.Name, err)
			cs.Close()
			continue
		}
		for _, t := range ts {
			if srv.Review {
				t = agent.WithHumanReview(t, schema.AllowAll(), agent.WithReviewLogger(logger))
			}
			set.tools = append(set.tools, t)
		}
		set.sessions = append(set.sessions, cs)
		logger.Info("mcp server %s: %d tool(s)", srv.Name, len(ts))
	}
	return set
}

type toolCaller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// MCPTool adapts a tool of an MCP server to the agent's tool contract.
type MCPTool struct {
	caller      toolCaller
	name        string
	description string
	params      map[string]any
}

// SessionTools lists the tools of an open MCP session.
func SessionTools(ctx context.Context, cs *mcp.ClientSession) ([]tools.Tool, error) {
	res, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	out := make([]tools.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, &MCPTool{
			caller:      cs,
			name:        t.Name,
			description: t.Description,
			params:      inputSchema(t.InputSchema),
		})
	}
	return out, nil
}

func inputSchema(v any) map[string]any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

func (t *MCPTool) Name() string               { return t.name }
func (t *MCPTool) Description() string        { return t.description }
func (t *MCPTool) Parameters() map[string]any { return t.params }

func (t *MCPTool) Call(ctx context.Context, input string) (string, error) {
	var args map[string]any
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", t.name, err)
		}
	}

	res, err := t.caller.CallTool(ctx, &mcp.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", t.name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("%s: %s", t.name, text)
	}
	return text, nil
}

func contentText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n")
}

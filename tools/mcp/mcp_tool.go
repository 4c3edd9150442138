// Package mcp connects the agent to external Model Context Protocol servers
// and exposes their tools. Each configured server runs as a subprocess
// speaking MCP over stdio; its tools satisfy the parent tools.Tool interface
// structurally so the registry treats them like built-ins.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*Tool
}

// NewClient starts the MCP server subprocess, initializes the session and
// discovers the tools the server provides.
func NewClient(name, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "grok-cli", Version: "v1.0.0"}, nil)
	ctx := context.Background()
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &Client{
		Name:  name,
		cmd:   cmd,
		conn:  conn,
		tools: make(map[string]*Tool),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, params)
		if err != nil {
			cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range toolList.Tools {
			client.tools[t.Name] = &Tool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				client:      client,
			}
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	return client, nil
}

// GetTool returns a specific tool provided by this server by its short name.
func (c *Client) GetTool(toolName string) (*Tool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns every tool the server advertised.
func (c *Client) Tools() []*Tool {
	out := make([]*Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Stop terminates the MCP server subprocess.
func (c *Client) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// Tool represents a tool available from an external MCP server.
type Tool struct {
	serverName  string
	toolName    string
	description string
	client      *Client
}

// Name returns the tool's short name as advertised by the server. Qualified
// "<server>.<tool>" names trip argument validation on some providers, so the
// short name is used on the wire.
func (t *Tool) Name() string {
	return t.toolName
}

// Description returns the tool's description, provided by the MCP server.
func (t *Tool) Description() string {
	return t.description
}

// RequiresConfirmation: external server tools are treated as unsafe; only
// full auto-approval skips the prompt. The signature matches the parent
// package's Confirmer interface.
func (t *Tool) RequiresConfirmation(args map[string]interface{}, mode config.ApprovalMode) *config.Confirmation {
	if mode == config.ApprovalAuto {
		return nil
	}
	return &config.Confirmation{
		Title:       "Run MCP tool",
		Description: fmt.Sprintf("MCP server '%s' tool '%s' wants to run with args %v", t.serverName, t.toolName, args),
	}
}

// Execute sends the call to the MCP server and concatenates the text content
// of the result.
func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	op := ""
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			op += text.Text
		}
	}
	return op, nil
}

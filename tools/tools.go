package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/tools/mcp"
	"github.com/bmatcuk/doublestar/v4"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Confirmation aliases the config type so tool implementations in other
// packages (tools/mcp) return the identical type from RequiresConfirmation.
type Confirmation = config.Confirmation

// Confirmer is implemented by tools whose execution may need user sign-off.
// RequiresConfirmation returns nil when the call can run without asking,
// given the resolved arguments and the current approval mode. Tools that do
// not implement Confirmer never require confirmation.
type Confirmer interface {
	RequiresConfirmation(args map[string]interface{}, mode config.ApprovalMode) *Confirmation
}

// SchemaProvider is implemented by tools that declare a JSON schema for
// their arguments. Tools without one are advertised with an open object
// schema.
type SchemaProvider interface {
	ParameterSchema() map[string]interface{}
}

// Schema describes one tool for attaching to a model request.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Schemas builds the ordered schema list for a set of tools, preserving the
// input order.
func Schemas(ts []Tool) []Schema {
	out := make([]Schema, 0, len(ts))
	for _, t := range ts {
		params := map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
		if sp, ok := t.(SchemaProvider); ok {
			if s := sp.ParameterSchema(); s != nil {
				params = s
			}
		}
		out = append(out, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return out
}

// Registry holds all available tools, including tools discovered from
// configured MCP servers.
type Registry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.Client
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.Client),
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})
	r.Register(&SearchFilesTool{fsAccess: &cfg.FilesystemAccess})

	for _, srv := range cfg.AdditionalMCPServers {
		client, err := mcp.NewClient(srv.Name, srv.Command, srv.Args)
		if err != nil {
			// A broken MCP server should not take the whole agent down;
			// its tools are simply absent from the registry.
			continue
		}
		r.mcpClients[srv.Name] = client
	}

	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ActiveTools returns the tool instances for a given toolset. Entries of the
// form "<server>:<tool>" resolve against that MCP server; "<server>:*"
// selects every tool the server advertises.
func (r *Registry) ActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if server, short, ok := strings.Cut(toolName, ":"); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("MCP server '%s' for tool '%s' is not configured", server, toolName)
			}
			if short == "*" {
				for _, t := range client.Tools() {
					activeTools = append(activeTools, t)
				}
				continue
			}
			t, found := client.GetTool(short)
			if !found {
				return nil, errors.New("MCP server '%s' does not provide tool '%s'", server, short)
			}
			activeTools = append(activeTools, t)
			continue
		}

		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

// Close terminates any MCP server subprocesses owned by the registry.
func (r *Registry) Close() {
	for _, client := range r.mcpClients {
		_ = client.Stop()
	}
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.New("invalid glob pattern '%s': %v", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	cmdParts := strings.Fields(command)
	if len(cmdParts) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fall back to literal comparison when the pattern is not a
			// valid regex.
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}

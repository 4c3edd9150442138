package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alby13/grok-cli/agent"
	"github.com/alby13/grok-cli/session"
)

// Run starts the Agent Client Protocol server over stdio using JSON-RPC.
// It implements a minimal subset of ACP:
//   - initialize
//   - session/new
//   - session/load
//   - session/prompt (emits session/update notifications with
//     agent_message_chunk, tool_call, and tool_result)
//
// Messages are newline-delimited JSON objects rather than Content-Length
// framed. Nothing but JSON-RPC messages is ever written to stdout; debug
// output goes to the trace file when tracing is enabled.
func Run(ctx context.Context, grokAgent *agent.Agent, in *bufio.Reader, out *bufio.Writer, traceEnabled bool) error {
	trace := func(msg string) {}
	if traceEnabled {
		traceFile, _ := os.OpenFile("acp.trace", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if traceFile != nil {
			defer traceFile.Close()
			trace = func(msg string) {
				fmt.Fprintf(traceFile, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
			}
		}
	}

	server := &acpServer{
		ctx:      ctx,
		agent:    grokAgent,
		sessions: make(map[string]*session.Session),
		in:       in,
		out:      out,
		trace:    trace,
	}

	trace("Run: starting ACP server")
	for {
		payload, err := server.readMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			// Broken framing cannot be recovered from safely.
			return fmt.Errorf("ACP: read error: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		trace(fmt.Sprintf("Run: received payload: %s", payload))

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = server.writeResponseError(nil, -32700, "Parse error", nil)
			continue
		}

		switch req.Method {
		case "initialize":
			server.handleInitialize(&req)
		case "session/new":
			server.handleSessionNew(&req)
		case "session/load":
			server.handleSessionLoad(&req)
		case "session/prompt":
			server.handleSessionPrompt(&req)
		default:
			_ = server.writeResponseError(req.ID, -32601, "Method not found", nil)
		}
	}
}

// jsonrpcRequest represents a JSON-RPC 2.0 request message.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// acpServer holds the state of one ACP server instance: the sessions it
// created or loaded, and the stdio transport.
type acpServer struct {
	ctx          context.Context
	agent        *agent.Agent
	sessions     map[string]*session.Session
	sessionsLock sync.Mutex
	sessionIDSeq int64

	in        *bufio.Reader
	out       *bufio.Writer
	writeLock sync.Mutex
	trace     func(string)
}

// readMessage reads one newline-delimited JSON-RPC payload.
func (s *acpServer) readMessage() ([]byte, error) {
	line, _, err := s.in.ReadLine()
	if err != nil {
		return nil, err
	}
	return line, nil
}

// writeJSON serializes and writes one newline-delimited JSON-RPC message.
func (s *acpServer) writeJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to serialize JSON-RPC message: %w", err)
	}
	s.trace(fmt.Sprintf("writeJSON: %s", data))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	if _, err := s.out.WriteString("\n"); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *acpServer) writeResponseOK(id any, result json.RawMessage) error {
	return s.writeJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	return s.writeJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeNotification sends a JSON-RPC notification (a request without an ID).
func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decodeParams re-marshals the loosely typed params field into a concrete
// parameter struct.
func decodeParams(params any, dst any) error {
	b, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// handleInitialize answers the client handshake with the protocol version
// and the agent's capabilities.
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	s.trace("handleInitialize")
	resp := map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	}
	respBytes, _ := json.Marshal(resp)
	_ = s.writeResponseOK(req.ID, respBytes)
}

// handleSessionNew creates a fresh session carrying the agent's current
// settings and returns its ID to the client.
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	s.trace("handleSessionNew")
	sid := s.nextSessionID()

	sess, err := session.New(sid)
	if err != nil {
		_ = s.writeResponseError(req.ID, -32603, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	sess.ApprovalMode = s.agent.Session.ApprovalMode
	sess.Toolset = s.agent.Session.Toolset
	sess.ToolVerbosity = s.agent.Session.ToolVerbosity
	sess.Acp = true

	// Persist immediately so a later session/load finds it even if no
	// prompt ever ran.
	if err := sess.Save(); err != nil {
		_ = s.writeResponseError(req.ID, -32603, "Internal error", fmt.Sprintf("failed to save session: %v", err))
		return
	}

	s.sessionsLock.Lock()
	s.sessions[sid] = sess
	s.sessionsLock.Unlock()

	respBytes, _ := json.Marshal(map[string]any{"sessionId": sid})
	_ = s.writeResponseOK(req.ID, respBytes)
}

// handleSessionLoad loads a persisted session and replays its history as
// session/update notifications: user_message_chunk for user messages,
// agent_message_chunk and tool_call for assistant messages, tool_result for
// tool messages. Synthetic continuation prompts are internal to the loop and
// are not replayed.
func (s *acpServer) handleSessionLoad(req *jsonrpcRequest) {
	s.trace("handleSessionLoad")
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeParams(req.Params, &p); err != nil {
		_ = s.writeResponseError(req.ID, -32603, "Internal error", err.Error())
		return
	}

	sess, err := session.Load(p.SessionID)
	if err != nil {
		_ = s.writeResponseError(req.ID, -32602, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}

	s.sessionsLock.Lock()
	s.sessions[p.SessionID] = sess
	s.sessionsLock.Unlock()

	for _, msg := range sess.Messages {
		switch msg.Role {
		case session.RoleUser:
			_ = s.writeNotification("session/update", map[string]any{
				"sessionId": p.SessionID,
				"update": map[string]any{
					"sessionUpdate": "user_message_chunk",
					"content":       map[string]any{"type": "text", "text": msg.Content},
				},
			})
		case session.RoleAssistant:
			if msg.Content != "" {
				_ = s.sendAgentMessageChunk(p.SessionID, msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				_ = s.sendToolCallNotification(p.SessionID, tc)
			}
		case session.RoleTool:
			if len(msg.ToolCalls) > 0 {
				_ = s.sendToolResultNotification(p.SessionID, msg.ToolCalls[0].ID, msg.Content)
			}
		}
	}

	_ = s.writeResponseOK(req.ID, json.RawMessage("null"))
}

// contentBlock is an ACP prompt content block. Text and resource_link are
// the only types this implementation understands.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// resource_link fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// handleSessionPrompt runs the full conversation loop for one prompt,
// streaming progress back as session/update notifications. The ACP client
// has no interactive confirmation channel, so calls awaiting approval are
// approved; running with -m auto or a safe toolset is the expected setup.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	s.trace("handleSessionPrompt")
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := decodeParams(req.Params, &p); err != nil {
		_ = s.writeResponseError(req.ID, -32603, "Internal error", err.Error())
		return
	}

	s.sessionsLock.Lock()
	sess, ok := s.sessions[p.SessionID]
	s.sessionsLock.Unlock()
	if !ok {
		_ = s.writeResponseError(req.ID, -32602, "Invalid params", "unknown sessionId")
		return
	}

	userText := extractUserText(p.Prompt)
	s.trace(fmt.Sprintf("handleSessionPrompt: user text: %s", userText))

	notified := make(map[string]bool)
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			_ = s.sendAgentMessageChunk(p.SessionID, message)
		},
		OnToolCallUpdate: func(calls []agent.ToolCall) {
			for _, call := range calls {
				if call.Status == agent.StatusExecuting && !notified[call.Request.ID] {
					notified[call.Request.ID] = true
					_ = s.sendToolCallNotification(p.SessionID, call.Request)
				}
			}
		},
		RequestConfirmation: func(call agent.ToolCall) agent.ConfirmationOutcome {
			return agent.OutcomeApprove
		},
		OnToolResult: func(tc session.ToolCall, result string) {
			_ = s.sendToolResultNotification(p.SessionID, tc.ID, result)
		},
		OnWarning: func(warning string) {
			s.trace("handleSessionPrompt: warning - " + warning)
		},
	}

	// ProcessUserInput appends the user message itself.
	s.agent.Session = sess
	if err := s.agent.ProcessUserInput(s.ctx, userText, callbacks); err != nil {
		_ = s.writeResponseError(req.ID, -32603, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	}

	respBytes, _ := json.Marshal(map[string]any{"stopReason": "end_turn"})
	_ = s.writeResponseOK(req.ID, respBytes)
}

func (s *acpServer) sendToolCallNotification(sessionID string, tc session.ToolCall) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_call",
			"toolCall": map[string]any{
				"id":   tc.ID,
				"name": tc.Name,
				"args": json.RawMessage(argsOrEmpty(tc.Arguments)),
			},
		},
	})
}

func (s *acpServer) sendToolResultNotification(sessionID, toolCallID, result string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": toolCallID,
				"result":     result,
			},
		},
	})
}

func (s *acpServer) sendAgentMessageChunk(sessionID, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content":       map[string]any{"type": "text", "text": text},
		},
	})
}

func (s *acpServer) nextSessionID() string {
	s.sessionIDSeq++
	return fmt.Sprintf("sess_%d_%d", time.Now().UnixNano(), s.sessionIDSeq)
}

// argsOrEmpty keeps tool_call notifications valid JSON when the model sent
// no argument text at all.
func argsOrEmpty(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	if !json.Valid([]byte(raw)) {
		b, _ := json.Marshal(raw)
		return string(b)
	}
	return raw
}

// readFileFromURI reads file contents referenced by a file:// URI so
// resource_link blocks can be inlined into the prompt.
func readFileFromURI(uri string) (string, error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %v", err)
	}
	if parsedURL.Scheme != "file" {
		return "", fmt.Errorf("unsupported URI scheme: %s", parsedURL.Scheme)
	}
	content, err := os.ReadFile(parsedURL.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}
	return string(content), nil
}

// extractUserText flattens the prompt's content blocks into one string,
// inlining file:// resource links up to a size cap.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			info := fmt.Sprintf("=== Resource: %s ===\n", b.Name)
			if b.Title != "" {
				info += fmt.Sprintf("Title: %s\n", b.Title)
			}
			if b.Description != "" {
				info += fmt.Sprintf("Description: %s\n", b.Description)
			}
			info += fmt.Sprintf("URI: %s\n", b.URI)
			if b.MimeType != "" {
				info += fmt.Sprintf("Type: %s\n", b.MimeType)
			}
			if b.Size != nil {
				info += fmt.Sprintf("Size: %d bytes\n", *b.Size)
			}

			if strings.HasPrefix(b.URI, "file://") {
				content, err := readFileFromURI(b.URI)
				if err != nil {
					info += fmt.Sprintf("\n[Error reading file: %v]\n", err)
				} else {
					const maxContentSize = 50000
					if len(content) > maxContentSize {
						content = content[:maxContentSize] + "\n\n[... truncated to 50KB ...]"
					}
					info += fmt.Sprintf("\n--- File Contents ---\n%s\n--- End of File ---\n", content)
				}
			} else {
				info += "\n[External resource - content not available]\n"
			}
			info += "=== End Resource ===\n"
			parts = append(parts, info)
		}
	}
	return strings.Join(parts, "\n")
}

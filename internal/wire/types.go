// Package wire defines the envelope messages exchanged between the gateway
// and its three peer kinds (agent, client, pack), and the gRPC plumbing
// that moves them over the wire without a protobuf toolchain (see
// SPEC_FULL.md section C).
package wire

import "encoding/json"

// GitInfo describes the working tree of an agent's working_directory at
// registration time. Purely informational (SPEC_FULL.md section D).
type GitInfo struct {
	Branch  string `json:"branch,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
	Remote  string `json:"remote,omitempty"`
	Ahead   int    `json:"ahead,omitempty"`
	Behind  int    `json:"behind,omitempty"`
}

// ToolDefinition describes one tool a pack exposes.
type ToolDefinition struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	InputSchema          json.RawMessage `json:"input_schema,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	TimeoutSeconds       int             `json:"timeout_seconds,omitempty"`
}

// BackendEventWire is the wire form of a backend event (spec.md section 3).
// Exactly one payload group is populated per Type.
type BackendEventWire struct {
	Type string `json:"type"`

	SessionID     string          `json:"session_id,omitempty"`
	Text          string          `json:"text,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput    string          `json:"tool_output,omitempty"`
	ToolIsError   bool            `json:"tool_is_error,omitempty"`
	ToolState     string          `json:"tool_state,omitempty"`
	ToolDetail    string          `json:"tool_detail,omitempty"`
	InputTokens   int             `json:"input_tokens,omitempty"`
	OutputTokens  int             `json:"output_tokens,omitempty"`
	CacheRead     int             `json:"cache_read,omitempty"`
	CacheWrite    int             `json:"cache_write,omitempty"`
	ThinkingTok   int             `json:"thinking_tokens,omitempty"`
	FullResponse  string          `json:"full_response,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// Event type discriminants for BackendEventWire.Type.
const (
	EventThinking            = "thinking"
	EventSessionInit         = "session_init"
	EventSessionOrphaned     = "session_orphaned"
	EventText                = "text"
	EventToolUse             = "tool_use"
	EventToolResult          = "tool_result"
	EventToolApprovalRequest = "tool_approval_request"
	EventToolState           = "tool_state"
	EventUsage               = "usage"
	EventDone                = "done"
	EventError               = "error"
)

// --- AgentControl stream --------------------------------------------------

// AgentMessage is sent agent -> gateway. Exactly one field is set.
type AgentMessage struct {
	Register  *RegisterRequest `json:"register,omitempty"`
	Heartbeat *Heartbeat       `json:"heartbeat,omitempty"`
	Response  *AgentResponse   `json:"response,omitempty"`
}

type RegisterRequest struct {
	AgentID         string   `json:"agent_id"`
	Name            string   `json:"name"`
	Backend         string   `json:"backend"`
	WorkingDir      string   `json:"working_directory"`
	Workspaces      []string `json:"workspaces,omitempty"`
	Hostname        string   `json:"hostname,omitempty"`
	OS              string   `json:"os,omitempty"`
	Git             *GitInfo `json:"git_info,omitempty"`
}

type Heartbeat struct{}

type AgentResponse struct {
	RequestID string           `json:"request_id"`
	Event     BackendEventWire `json:"event"`
}

// ServerMessage is sent gateway -> agent. Exactly one field is set.
type ServerMessage struct {
	Welcome      *Welcome      `json:"welcome,omitempty"`
	SendMessage  *SendToAgent  `json:"send_message,omitempty"`
	ToolApproval *ToolApproval `json:"tool_approval,omitempty"`
	Shutdown     *Shutdown     `json:"shutdown,omitempty"`
}

type Welcome struct {
	ServerID        string           `json:"server_id"`
	AssignedAgentID string           `json:"assigned_agent_id"`
	InstanceID      string           `json:"instance_id"`
	PrincipalID     string           `json:"principal_id"`
	AvailableTools  []ToolDefinition `json:"available_tools,omitempty"`
	MCPToken        string           `json:"mcp_token,omitempty"`
	MCPEndpoint     string           `json:"mcp_endpoint,omitempty"`
}

type SendToAgent struct {
	RequestID  string `json:"request_id"`
	ThreadID   string `json:"thread_id"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	IsNewChat  bool   `json:"is_new_session,omitempty"`
}

type ToolApproval struct {
	ToolID      string `json:"tool_id"`
	Approved    bool   `json:"approved"`
	ApproveAll  bool   `json:"approve_all,omitempty"`
}

type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

// --- ClientService ---------------------------------------------------------

type AgentInfo struct {
	AgentID     string   `json:"agent_id"`
	Name        string   `json:"name"`
	Backend     string   `json:"backend"`
	WorkingDir  string   `json:"working_directory"`
	Workspaces  []string `json:"workspaces,omitempty"`
	Connected   bool     `json:"connected"`
	ConnectedAt int64    `json:"connected_at,omitempty"`
	LastSeen    int64    `json:"last_seen,omitempty"`
	Git         *GitInfo `json:"git_info,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	OS          string   `json:"os,omitempty"`
}

type ListAgentsRequest struct {
	Workspace string `json:"workspace,omitempty"`
}

type ListAgentsResponse struct {
	Agents []AgentInfo `json:"agents"`
}

type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

type SendMessageRequest struct {
	ConversationKey string       `json:"conversation_key"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	IdempotencyKey  string       `json:"idempotency_key,omitempty"`
}

type SendMessageResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type StreamEventsRequest struct {
	ConversationKey string `json:"conversation_key"`
	SinceEventID    int64  `json:"since_event_id,omitempty"`
}

// ClientStreamEvent is sent gateway -> client on the StreamEvents call.
// Exactly one field is set; Done terminates the stream (spec.md section 7's
// "no silent end-of-stream" rule).
type ClientStreamEvent struct {
	Message *LedgerMessage `json:"message,omitempty"`
	Done    *StreamDone    `json:"done,omitempty"`
	Error   *StreamError   `json:"error,omitempty"`
}

type LedgerMessage struct {
	ID              int64  `json:"id"`
	ConversationID  string `json:"conversation_id"`
	Direction       string `json:"direction"`
	Author          string `json:"author"`
	Content         string `json:"content"`
	MessageType     string `json:"message_type"`
	CreatedAt       int64  `json:"created_at"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

type StreamDone struct{}

type StreamError struct {
	Message string `json:"message"`
}

type ApproveToolRequest struct {
	AgentID    string `json:"agent_id"`
	ToolID     string `json:"tool_id"`
	Approved   bool   `json:"approved"`
	ApproveAll bool   `json:"approve_all,omitempty"`
}

type ApproveToolResponse struct{}

// --- PackService ------------------------------------------------------------

type PackManifest struct {
	PackID  string           `json:"pack_id"`
	Version string           `json:"version"`
	Tools   []ToolDefinition `json:"tools"`
}

// PackWelcome is the gateway's reply to a pack's first manifest frame.
type PackWelcome struct {
	Accepted      bool     `json:"accepted"`
	RejectedTools []string `json:"rejected_tools,omitempty"`
}

type ExecuteToolRequest struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	InputJSON json.RawMessage `json:"input_json"`
}

type ExecuteToolResponse struct {
	RequestID  string          `json:"request_id"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type ToolResultAck struct{}

// PackServerEvent is sent gateway -> pack on the Register stream. The first
// frame is always Welcome; every frame after that is an Execute.
type PackServerEvent struct {
	Welcome *PackWelcome        `json:"welcome,omitempty"`
	Execute *ExecuteToolRequest `json:"execute,omitempty"`
}

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/swarmgate/swarm/internal/toolregistry"
	"github.com/swarmgate/swarm/internal/wire"
)

// MuxConfig configures the in-process mux variant.
type MuxConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// history is one session's turn-by-turn conversation, keyed by session_id
// per spec.md 4.3 ("session reuse is driven by session_id as a history key").
type history struct {
	mu       sync.Mutex
	messages []anthropic.MessageParam
}

// Mux is the in-process backend variant built on the embedded Anthropic
// SDK. Grounded on the teacher's internal/agent/providers AnthropicProvider
// streaming loop, generalized from the teacher's CompletionChunk shape to
// this core's BackendEvent shape and from a stateless per-call message list
// to a session_id-keyed history the backend owns itself.
type Mux struct {
	client anthropic.Client
	cfg    MuxConfig
	tools  *toolregistry.Registry
	logger *slog.Logger

	mu        sync.Mutex
	histories map[string]*history
}

// NewMux returns a Mux backend. tools is the registry the mux backend reads
// at the start of every Send call, so tools added to it take effect on the
// next turn. The agent session does not register the Welcome frame's tools
// into it; only tools the caller placed there are offered.
func NewMux(cfg MuxConfig, tools *toolregistry.Registry) *Mux {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Mux{
		client:    anthropic.NewClient(opts...),
		cfg:       cfg,
		tools:     tools,
		logger:    slog.Default().With("backend", "mux"),
		histories: make(map[string]*history),
	}
}

func (m *Mux) historyFor(sessionID string, isNewSession bool) *history {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[sessionID]
	if !ok || isNewSession {
		h = &history{}
		m.histories[sessionID] = h
	}
	return h
}

func (m *Mux) toolParams() []anthropic.ToolUnionParam {
	if m.tools == nil {
		return nil
	}
	var params []anthropic.ToolUnionParam
	for _, t := range m.tools.All() {
		var schema anthropic.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				m.logger.Warn("skipping tool with invalid schema", "tool", t.Name, "error", err)
				continue
			}
		}
		p := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if p.OfTool != nil {
			p.OfTool.Description = anthropic.String(t.Description)
		}
		params = append(params, p)
	}
	return params
}

// Send implements Backend. Unlike direct-cli, no SessionInit is emitted;
// session identity is purely the history key.
func (m *Mux) Send(ctx context.Context, sessionID, userMessage string, isNewSession bool) (<-chan Event, error) {
	h := m.historyFor(sessionID, isNewSession)

	h.mu.Lock()
	h.messages = append(h.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)))
	messages := make([]anthropic.MessageParam, len(h.messages))
	copy(messages, h.messages)
	h.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.cfg.Model),
		Messages:  messages,
		MaxTokens: m.cfg.MaxTokens,
	}
	if m.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: m.cfg.SystemPrompt}}
	}
	if tools := m.toolParams(); len(tools) > 0 {
		params.Tools = tools
	}

	stream := m.client.Messages.NewStreaming(ctx, params)

	out := newEventChan()
	go m.consume(stream, h, out)
	return out, nil
}

func (m *Mux) consume(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, h *history, out chan Event) {
	defer close(out)

	var assistantContent []anthropic.ContentBlockParamUnion
	var textAccum string
	var currentBlockText string
	var currentToolID, currentToolName string
	var toolInputJSON string
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			currentBlockText = ""
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				currentToolID, currentToolName = tu.ID, tu.Name
				toolInputJSON = ""
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textAccum += delta.Text
					currentBlockText += delta.Text
					out <- Event{Type: wire.EventText, Text: delta.Text}
				}
			case "input_json_delta":
				toolInputJSON += delta.PartialJSON
			}

		case "content_block_stop":
			if currentToolID != "" {
				var inputMap map[string]any
				_ = json.Unmarshal([]byte(toolInputJSON), &inputMap)
				assistantContent = append(assistantContent, anthropic.NewToolUseBlock(currentToolID, inputMap, currentToolName))
				out <- Event{
					Type:       wire.EventToolUse,
					ToolCallID: currentToolID,
					ToolName:   currentToolName,
					ToolInput:  json.RawMessage(toolInputJSON),
				}
				currentToolID, currentToolName = "", ""
			} else if currentBlockText != "" {
				assistantContent = append(assistantContent, anthropic.NewTextBlock(currentBlockText))
			}
			currentBlockText = ""

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			h.mu.Lock()
			if len(assistantContent) > 0 {
				h.messages = append(h.messages, anthropic.NewAssistantMessage(assistantContent...))
			}
			h.mu.Unlock()
			out <- Event{Type: wire.EventUsage, InputTokens: inputTokens, OutputTokens: outputTokens}
			out <- doneEvent(textAccum)
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- errorEvent(fmt.Sprintf("mux backend stream error: %v", err))
		out <- doneEvent("")
	}
}

// RecordToolResult appends a tool_result message to sessionID's history so
// the next Send call's request includes it (called by the agent session
// after a tool invocation completes, before requesting the next turn).
func (m *Mux) RecordToolResult(sessionID, toolCallID, output string, isError bool) {
	m.mu.Lock()
	h, ok := m.histories[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.messages = append(h.messages, anthropic.NewUserMessage(anthropic.NewToolResultBlock(toolCallID, output, isError)))
	h.mu.Unlock()
}

package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/swarmgate/swarm/internal/swerr"
	"github.com/swarmgate/swarm/internal/wire"
)

// orphanMarker is the stderr substring that flags a --resume session the
// wrapped CLI no longer recognizes (spec.md 4.3).
const orphanMarker = "No conversation found with session ID"

// DirectCLIConfig configures the direct-cli variant: a child process that
// speaks line-delimited JSON on stdout.
type DirectCLIConfig struct {
	Binary       string
	Args         []string
	WorkDir      string
	PackEndpoint string
	Timeout      time.Duration
}

// DirectCLI spawns the wrapped CLI as a subprocess per Send call and maps
// its line-delimited JSON stdout to BackendEvents. Grounded on the
// subprocess/pipe/goroutine shape of internal/mcp's stdio transport,
// generalized from JSON-RPC request/response framing to one-way streamed
// events with no request correlation.
type DirectCLI struct {
	cfg    DirectCLIConfig
	logger *slog.Logger
}

// NewDirectCLI returns a DirectCLI backend for cfg.
func NewDirectCLI(cfg DirectCLIConfig) *DirectCLI {
	return &DirectCLI{cfg: cfg, logger: slog.Default().With("backend", "direct-cli")}
}

func (d *DirectCLI) buildArgs(sessionID string, isNewSession bool) []string {
	args := make([]string, 0, len(d.cfg.Args)+4)
	if !isNewSession {
		args = append(args, "--resume", sessionID)
	}
	args = append(args, d.cfg.Args...)
	if d.cfg.PackEndpoint != "" {
		args = append(args, "--tool-endpoint", d.cfg.PackEndpoint)
	}
	return args
}

// Send implements Backend.
func (d *DirectCLI) Send(ctx context.Context, sessionID, userMessage string, isNewSession bool) (<-chan Event, error) {
	if d.cfg.Binary == "" {
		return nil, swerr.New(swerr.InvalidArgument, "direct-cli backend has no binary configured")
	}

	args := append(d.buildArgs(sessionID, isNewSession), "-p", userMessage)

	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)

	cmd := exec.CommandContext(runCtx, d.cfg.Binary, args...)
	if d.cfg.WorkDir != "" {
		cmd.Dir = d.cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("direct-cli: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("direct-cli: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("direct-cli: start: %w", err)
	}

	out := newEventChan()
	go d.run(runCtx, cancel, cmd, stdout, stderr, out, timeout)
	return out, nil
}

func (d *DirectCLI) run(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, stdout, stderr io.ReadCloser, out chan Event, timeout time.Duration) {
	defer close(out)
	defer cancel()

	var orphaned bool
	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := sc.Text()
			if strings.Contains(line, orphanMarker) {
				orphaned = true
			}
			d.logger.Debug("direct-cli stderr", "line", line)
		}
	}()

	var textAccum strings.Builder
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		events := parseCLILine(line, &textAccum)
		for _, ev := range events {
			out <- ev
		}
	}

	waitErr := cmd.Wait()
	stderrWG.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		out <- errorEvent(fmt.Sprintf("Request timed out after %d seconds", int(timeout.Seconds())))
		out <- doneEvent("")
		return
	}

	if orphaned {
		out <- Event{Type: wire.EventSessionOrphaned}
		out <- doneEvent("")
		return
	}

	if waitErr != nil && ctx.Err() == nil {
		out <- errorEvent(waitErr.Error())
		out <- doneEvent("")
	}
}

// cliLine is the subset of the wrapped CLI's line-delimited JSON shape this
// parser needs, across all line types it emits.
type cliLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	SessionID string `json:"session_id"`

	// Message carries Content for the "assistant" and "user" line types:
	// the wrapped CLI nests a block array one level down, under message,
	// not at the top level.
	Message struct {
		Content []cliContentBlock `json:"content"`
	} `json:"message"`

	IsError      bool            `json:"is_error"`
	ErrorMessage string          `json:"error_message"`
	Usage        *cliUsage       `json:"usage"`
	FullResponse json.RawMessage `json:"result"`
}

type cliContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text"`

	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	ToolUseID string          `json:"tool_use_id"`
	Output    json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type cliUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read_input_tokens"`
	CacheWrite   int `json:"cache_creation_input_tokens"`
}

// parseCLILine maps one line of the wrapped CLI's stdout to zero or more
// BackendEvents per the exact rules in spec.md 4.3. textAccum carries the
// running Done.full_response across calls for one Send invocation.
func parseCLILine(line string, textAccum *strings.Builder) []Event {
	var cl cliLine
	if err := json.Unmarshal([]byte(line), &cl); err != nil {
		return nil
	}

	switch cl.Type {
	case "system":
		if cl.Subtype == "init" {
			return []Event{{Type: wire.EventSessionInit, SessionID: cl.SessionID}}
		}
		return nil

	case "assistant":
		var events []Event
		for _, block := range cl.Message.Content {
			switch block.Type {
			case "text":
				appendText(textAccum, block.Text)
				events = append(events, Event{Type: wire.EventText, Text: block.Text})
			case "tool_use":
				events = append(events, Event{
					Type:       wire.EventToolUse,
					ToolCallID: block.ID,
					ToolName:   block.Name,
					ToolInput:  block.Input,
				})
			}
		}
		return events

	case "user":
		var events []Event
		for _, block := range cl.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			events = append(events, Event{
				Type:        wire.EventToolResult,
				ToolCallID:  block.ToolUseID,
				ToolOutput:  string(block.Output),
				ToolIsError: block.IsError,
			})
		}
		return events

	case "result":
		if cl.IsError {
			return []Event{
				errorEvent(cl.ErrorMessage),
				doneEvent(""),
			}
		}
		var events []Event
		if cl.Usage != nil {
			events = append(events, Event{
				Type:         wire.EventUsage,
				InputTokens:  cl.Usage.InputTokens,
				OutputTokens: cl.Usage.OutputTokens,
				CacheRead:    cl.Usage.CacheRead,
				CacheWrite:   cl.Usage.CacheWrite,
			})
		}
		events = append(events, doneEvent(textAccum.String()))
		return events
	}

	return nil
}

// appendText joins a new text fragment onto the accumulator, inserting a
// single space iff the accumulator does not already end in whitespace and
// the fragment does not begin with whitespace or punctuation (spec.md 4.3).
func appendText(accum *strings.Builder, fragment string) {
	if fragment == "" {
		return
	}
	current := accum.String()
	if current != "" {
		lastEndsWhitespace := isSpace(rune(current[len(current)-1]))
		firstRune := []rune(fragment)[0]
		firstStartsWhitespaceOrPunct := isSpace(firstRune) || isPunct(firstRune)
		if !lastEndsWhitespace && !firstStartsWhitespaceOrPunct {
			accum.WriteByte(' ')
		}
	}
	accum.WriteString(fragment)
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}

func isPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':', ')', ']', '}', '\'', '"', '-':
		return true
	default:
		return false
	}
}

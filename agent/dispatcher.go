package agent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/m4xw311/agentwire/auth"
	"github.com/m4xw311/agentwire/logging"
	"github.com/m4xw311/agentwire/rpc"
	"github.com/m4xw311/agentwire/tools"
	"github.com/m4xw311/agentwire/usage"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultExecOutputLimit = 64 * 1024

	runningSummaryWords = 8
	previewMaxRows      = 5
	previewMaxRowLen    = 200
	roleAssistant       = "assistant"
	roleUser            = "user"
)

// Configured describes the conversation reported by session_configured.
type Configured struct {
	SessionID   string
	Model       string
	RolloutPath string
}

// DispatcherOptions configures a Dispatcher. Zero values select defaults.
type DispatcherOptions struct {
	Verbose         bool
	ExecOutputLimit int
	ExecPolicy      *ExecPolicy
	Refresher       Refresher
	RefreshIgnore   []string
	Workdir         string
	Inventory       *tools.Inventory
	// ContextWindow is consulted when token_count carries no window.
	ContextWindow func(model string) int64

	OnStatus       func(Status)
	OnUnauthorized func(message string)
	OnConfigured   func(Configured)
	OnUsage        func(usage.Report)
}

type execCall struct {
	command    []string
	emitted    int
	truncated  bool
	suppressed bool
}

// Dispatcher drives the turn state machine from agent notifications and
// renders the conversation to a Transcript. Handle is called from a single
// dispatch goroutine; the query methods are safe from any goroutine.
type Dispatcher struct {
	out    *Transcript
	opts   DispatcherOptions
	policy *ExecPolicy
	logger *logrus.Entry

	status    *statusCell
	verbose   atomic.Bool
	workdir   atomic.Value
	streaming atomic.Bool
	sawExec   atomic.Bool
	sawPatch  atomic.Bool

	execMu  sync.Mutex
	execs   map[string]*execCall
	patches map[string][]string

	textMu       sync.Mutex
	stream       strings.Builder
	lastRendered string
	lastSent     string

	usageMu sync.Mutex
	model   string
	window  int64
	report  usage.Report
}

func NewDispatcher(out *Transcript, opts DispatcherOptions) *Dispatcher {
	if opts.ExecOutputLimit <= 0 {
		opts.ExecOutputLimit = DefaultExecOutputLimit
	}
	if opts.Inventory == nil {
		opts.Inventory = tools.NewInventory()
	}
	policy := opts.ExecPolicy
	if policy == nil {
		policy = NewExecPolicy(nil)
	}
	d := &Dispatcher{
		out:     out,
		opts:    opts,
		policy:  policy,
		logger:  logging.NewLogger("dispatcher"),
		status:  newStatusCell(opts.OnStatus),
		execs:   make(map[string]*execCall),
		patches: make(map[string][]string),
	}
	d.verbose.Store(opts.Verbose)
	d.workdir.Store(opts.Workdir)
	return d
}

// SetVerbose toggles rendering of unknown events and forced previews.
func (d *Dispatcher) SetVerbose(v bool) { d.verbose.Store(v) }

// SetWorkdir sets the directory relative refresh patterns are matched in.
func (d *Dispatcher) SetWorkdir(dir string) { d.workdir.Store(dir) }

// Status returns the current session status.
func (d *Dispatcher) Status() Status { return d.status.Load() }

// SetStatus is used by the session for lifecycle transitions.
func (d *Dispatcher) SetStatus(s Status) { d.status.Set(s) }

// Busy reports whether the agent is working or streaming text.
func (d *Dispatcher) Busy() bool {
	return d.status.Load().busy() || d.streaming.Load()
}

// Inventory returns the tool inventory filled by mcp_list_tools_response.
func (d *Dispatcher) Inventory() *tools.Inventory { return d.opts.Inventory }

// Usage returns the latest token accounting.
func (d *Dispatcher) Usage() usage.Report {
	d.usageMu.Lock()
	defer d.usageMu.Unlock()
	return d.report
}

// SetModel records the model used for context-window lookups.
func (d *Dispatcher) SetModel(model string) {
	d.usageMu.Lock()
	defer d.usageMu.Unlock()
	d.model = model
}

// NoteSent remembers text the client submitted so its echo is not shown
// twice.
func (d *Dispatcher) NoteSent(text string) {
	d.textMu.Lock()
	defer d.textMu.Unlock()
	d.lastSent = text
}

// Reset clears per-process state after a restart.
func (d *Dispatcher) Reset() {
	d.closeStream()
	d.sawExec.Store(false)
	d.sawPatch.Store(false)
	d.execMu.Lock()
	clear(d.execs)
	clear(d.patches)
	d.execMu.Unlock()
}

// Handle processes one notification.
func (d *Dispatcher) Handle(msg *rpc.Message) {
	typ, payload := eventOf(msg)
	if typ == "" {
		d.unknown(msg.Method, msg.Raw)
		return
	}
	d.handleEvent(typ, payload)
}

// HandleLegacyError processes a bare top-level error object.
func (d *Dispatcher) HandleLegacyError(msg *rpc.Message) {
	text := ""
	if msg.Error != nil {
		text = msg.Error.Message
	}
	d.fail(text)
}

func (d *Dispatcher) handleEvent(typ string, payload json.RawMessage) {
	switch {
	case typ == "task_started":
		d.taskStarted(payload)
	case strings.HasPrefix(typ, "agent_reasoning"):
		d.status.Set(StatusThinking)
	case typ == "agent_message_delta":
		d.messageDelta(payload)
	case typ == "agent_message":
		d.agentMessage(payload)
	case typ == "user_message":
		d.userMessage(payload)
	case typ == "exec_command_begin":
		d.execBegin(payload)
	case typ == "exec_command_output_delta":
		d.execDelta(payload)
	case typ == "exec_command_end":
		d.execEnd(payload)
	case typ == "patch_apply_begin":
		d.patchBegin(payload)
	case typ == "patch_apply_end":
		d.patchEnd(payload)
	case typ == "mcp_tool_call_begin":
		d.mcpBegin(payload)
	case typ == "mcp_tool_call_end":
		d.mcpEnd(payload)
	case typ == "mcp_list_tools_response":
		d.listTools(payload)
	case typ == "token_count":
		d.tokenCount(payload)
	case typ == "turn_aborted":
		var ev abortedEvent
		decode(payload, &ev)
		d.endTurn()
		if ev.Reason != "" {
			d.out.Printf("turn aborted: %s", ev.Reason)
		} else {
			d.out.Printf("turn aborted")
		}
	case typ == "task_complete":
		d.endTurn()
	case typ == "stream_error" || typ == "error":
		var ev errorEvent
		decode(payload, &ev)
		d.fail(ev.Message)
	case typ == "session_configured":
		d.sessionConfigured(payload)
	default:
		d.unknown(typ, payload)
	}
}

func decode(payload json.RawMessage, v any) bool {
	if len(payload) == 0 {
		return false
	}
	return json.Unmarshal(payload, v) == nil
}

func (d *Dispatcher) taskStarted(payload json.RawMessage) {
	var ev taskStartedEvent
	decode(payload, &ev)
	if ev.ModelContextWindow > 0 {
		d.usageMu.Lock()
		d.window = ev.ModelContextWindow
		d.usageMu.Unlock()
	}
	d.sawExec.Store(false)
	d.sawPatch.Store(false)
	d.execMu.Lock()
	clear(d.execs)
	d.execMu.Unlock()
	d.status.Set(StatusThinking)
}

func (d *Dispatcher) messageDelta(payload json.RawMessage) {
	var ev messageEvent
	decode(payload, &ev)
	d.status.Set(StatusResponding)
	d.streaming.Store(true)

	d.textMu.Lock()
	d.stream.WriteString(ev.Delta)
	d.textMu.Unlock()
	d.out.StreamDelta(roleAssistant, ev.Delta)
}

func (d *Dispatcher) agentMessage(payload json.RawMessage) {
	var ev messageEvent
	decode(payload, &ev)

	if d.streaming.Load() {
		d.closeStream()
		return
	}

	d.textMu.Lock()
	duplicate := ev.Message == d.lastRendered
	d.lastRendered = ev.Message
	d.textMu.Unlock()
	if duplicate || ev.Message == "" {
		return
	}
	d.out.Message(roleAssistant, ev.Message)
}

// closeStream ends an open streaming block and remembers its text so a
// restated final message is not rendered again.
func (d *Dispatcher) closeStream() {
	if !d.streaming.Swap(false) {
		return
	}
	d.textMu.Lock()
	d.lastRendered = d.stream.String()
	d.stream.Reset()
	d.textMu.Unlock()
	d.out.EndStream()
}

func (d *Dispatcher) userMessage(payload json.RawMessage) {
	var ev messageEvent
	decode(payload, &ev)

	d.textMu.Lock()
	local := d.lastSent != "" && strings.TrimSpace(ev.Message) == strings.TrimSpace(d.lastSent)
	if local {
		d.lastSent = ""
	}
	d.textMu.Unlock()
	if local || ev.Message == "" {
		return
	}
	d.out.Message(roleUser, ev.Message)
}

func (d *Dispatcher) execBegin(payload json.RawMessage) {
	var ev execBeginEvent
	decode(payload, &ev)
	d.sawExec.Store(true)

	call := &execCall{
		command:    ev.Command,
		suppressed: d.policy.Suppressed(ev.Command),
	}
	d.execMu.Lock()
	d.execs[ev.CallID] = call
	d.execMu.Unlock()

	d.out.Printf("running: %s", firstWords(ev.Command, runningSummaryWords))
}

func (d *Dispatcher) execDelta(payload json.RawMessage) {
	var ev execDeltaEvent
	decode(payload, &ev)

	chunk, err := base64.StdEncoding.DecodeString(ev.Chunk)
	if err != nil {
		chunk = []byte(ev.Chunk)
	}

	d.execMu.Lock()
	call, ok := d.execs[ev.CallID]
	if !ok {
		call = &execCall{}
		d.execs[ev.CallID] = call
	}
	if call.suppressed || call.truncated {
		d.execMu.Unlock()
		return
	}
	remaining := d.opts.ExecOutputLimit - call.emitted
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
		call.truncated = true
	}
	call.emitted += len(chunk)
	d.execMu.Unlock()

	if len(chunk) > 0 {
		d.out.Write(chunk)
	}
}

func (d *Dispatcher) execEnd(payload json.RawMessage) {
	var ev execEndEvent
	decode(payload, &ev)

	d.execMu.Lock()
	call, ok := d.execs[ev.CallID]
	delete(d.execs, ev.CallID)
	d.execMu.Unlock()

	line := fmt.Sprintf("exited %d", ev.ExitCode)
	if ok {
		switch {
		case call.suppressed:
			line += " (output hidden)"
		case call.truncated:
			line += fmt.Sprintf(" (output truncated after %d bytes)", call.emitted)
		}
	}
	d.out.Printf("%s", line)
}

func (d *Dispatcher) patchBegin(payload json.RawMessage) {
	var ev patchBeginEvent
	decode(payload, &ev)
	d.sawPatch.Store(true)
	d.status.Set(StatusApplyingPatch)

	paths := make([]string, 0, len(ev.Changes))
	for p := range ev.Changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	d.execMu.Lock()
	d.patches[ev.CallID] = paths
	d.execMu.Unlock()

	d.out.Printf("applying patch: %d file(s)", len(paths))
}

func (d *Dispatcher) patchEnd(payload json.RawMessage) {
	var ev patchEndEvent
	decode(payload, &ev)
	d.sawPatch.Store(true)

	d.execMu.Lock()
	paths := d.patches[ev.CallID]
	delete(d.patches, ev.CallID)
	d.execMu.Unlock()

	if ev.Success {
		d.out.Printf("patch applied")
	} else {
		d.out.Printf("patch failed: %s", strings.TrimSpace(ev.Stderr))
	}
	d.status.Set(StatusThinking)

	paths = filterRefreshPaths(paths, d.workdir.Load().(string), d.opts.RefreshIgnore)
	if d.opts.Refresher != nil && len(paths) > 0 {
		go d.opts.Refresher.Refresh(paths)
	}
}

func (d *Dispatcher) mcpBegin(payload json.RawMessage) {
	var ev mcpCallEvent
	decode(payload, &ev)
	d.out.Printf("tool: %s.%s", ev.Invocation.Server, ev.Invocation.Tool)
}

func (d *Dispatcher) mcpEnd(payload json.RawMessage) {
	var ev mcpCallEvent
	decode(payload, &ev)
	name := ev.Invocation.Server + "." + ev.Invocation.Tool

	var outcome struct {
		Ok  json.RawMessage `json:"Ok"`
		Err *string         `json:"Err"`
	}
	decode(ev.Result, &outcome)
	if outcome.Err != nil {
		d.out.Printf("tool %s failed: %s", name, *outcome.Err)
		return
	}
	result := outcome.Ok
	if len(result) == 0 {
		result = ev.Result
	}

	var res mcpsdk.CallToolResult
	parsed := decode(result, &res)
	if parsed && res.IsError {
		d.out.Printf("tool %s returned an error", name)
	} else {
		d.out.Printf("tool %s succeeded", name)
	}

	// Previews are only forced when the turn has not produced exec output or
	// a patch.
	if !d.verbose.Load() && (d.sawExec.Load() || d.sawPatch.Load()) {
		return
	}
	var rows []string
	if parsed {
		rows = previewRows(&res)
	} else if len(result) > 0 {
		rows = []string{string(result)}
	}
	for _, row := range limitRows(rows) {
		d.out.Printf("  %s", row)
	}
}

// previewRows normalizes a tool result into display rows, preferring
// structured content.
func previewRows(res *mcpsdk.CallToolResult) []string {
	var rows []string
	switch sc := res.StructuredContent.(type) {
	case nil:
	case []any:
		for _, item := range sc {
			rows = append(rows, compactJSON(item))
		}
		return rows
	case map[string]any:
		keys := make([]string, 0, len(sc))
		for k := range sc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, k+": "+compactJSON(sc[k]))
		}
		return rows
	default:
		return []string{compactJSON(sc)}
	}

	for _, c := range res.Content {
		switch c := c.(type) {
		case *mcpsdk.TextContent:
			for _, line := range strings.Split(strings.TrimRight(c.Text, "\n"), "\n") {
				rows = append(rows, line)
			}
		case *mcpsdk.ImageContent:
			rows = append(rows, "[image "+c.MIMEType+"]")
		case *mcpsdk.AudioContent:
			rows = append(rows, "[audio "+c.MIMEType+"]")
		case *mcpsdk.ResourceLink:
			rows = append(rows, "[resource "+c.URI+"]")
		case *mcpsdk.EmbeddedResource:
			if c.Resource != nil {
				rows = append(rows, "[resource "+c.Resource.URI+"]")
			}
		}
	}
	return rows
}

func limitRows(rows []string) []string {
	out := make([]string, 0, min(len(rows), previewMaxRows+1))
	for i, row := range rows {
		if i == previewMaxRows {
			out = append(out, fmt.Sprintf("… %d more", len(rows)-previewMaxRows))
			break
		}
		if len(row) > previewMaxRowLen {
			cut := previewMaxRowLen
			for cut > 0 && !utf8.RuneStart(row[cut]) {
				cut--
			}
			row = row[:cut] + "…"
		}
		out = append(out, row)
	}
	return out
}

func compactJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func (d *Dispatcher) listTools(payload json.RawMessage) {
	var ev listToolsEvent
	decode(payload, &ev)
	names := make([]string, 0, len(ev.Tools))
	for fq := range ev.Tools {
		names = append(names, fq)
	}
	d.opts.Inventory.Replace(names)
	d.logger.WithField("tools", len(names)).Debug("tool inventory updated")
}

func (d *Dispatcher) tokenCount(payload json.RawMessage) {
	var ev tokenCountEvent
	decode(payload, &ev)

	counts := ev.Counts
	d.usageMu.Lock()
	window := d.window
	if ev.Info != nil {
		counts = ev.Info.TotalTokenUsage
		if ev.Info.ModelContextWindow > 0 {
			window = ev.Info.ModelContextWindow
			d.window = window
		}
	}
	if window == 0 && d.opts.ContextWindow != nil {
		window = d.opts.ContextWindow(d.model)
	}
	d.report = usage.Compute(counts, window)
	report := d.report
	d.usageMu.Unlock()

	d.logger.Debug(report.String())
	if d.opts.OnUsage != nil {
		d.opts.OnUsage(report)
	}
}

func (d *Dispatcher) endTurn() {
	d.closeStream()
	d.textMu.Lock()
	d.lastSent = ""
	d.textMu.Unlock()
	d.status.Set(StatusIdle)
}

// fail renders an error event. Authorization failures are handed to the
// session, which decides whether to sign in again.
func (d *Dispatcher) fail(message string) {
	d.closeStream()
	if message == "" {
		message = "unknown error"
	}
	d.out.Printf("error: %s", message)
	d.logger.WithField("message", message).Warn("agent reported an error")
	d.status.Set(StatusError)
	if auth.IsUnauthorized(message) && d.opts.OnUnauthorized != nil {
		d.opts.OnUnauthorized(message)
	}
}

func (d *Dispatcher) sessionConfigured(payload json.RawMessage) {
	var ev sessionConfiguredEvent
	decode(payload, &ev)
	if ev.Model != "" {
		d.SetModel(ev.Model)
	}
	if d.opts.OnConfigured != nil {
		d.opts.OnConfigured(Configured{SessionID: ev.SessionID, Model: ev.Model, RolloutPath: ev.RolloutPath})
	}
	for _, raw := range ev.InitialMessages {
		if t := typeOf(raw); t != "" {
			d.handleEvent(t, raw)
		}
	}
}

func (d *Dispatcher) unknown(typ string, raw json.RawMessage) {
	d.logger.WithField("type", typ).Debug("ignoring event")
	if d.verbose.Load() {
		d.out.Printf("event %s: %s", typ, string(raw))
	}
}

func firstWords(tokens []string, n int) string {
	if len(tokens) <= n {
		return strings.Join(tokens, " ")
	}
	return strings.Join(tokens[:n], " ") + " …"
}

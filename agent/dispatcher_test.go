package agent

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/agentwire/rpc"
	"github.com/m4xw311/agentwire/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(opts DispatcherOptions) (*Dispatcher, *strings.Builder) {
	var buf strings.Builder
	return NewDispatcher(NewTranscript(&buf), opts), &buf
}

// emit delivers an event the way the app server wraps it.
func emit(t *testing.T, d *Dispatcher, event string) {
	t.Helper()
	line := `{"jsonrpc":"2.0","method":"codex/event/x","params":{"id":"0","msg":` + event + `}}`
	msg, err := rpc.Classify([]byte(line))
	require.NoError(t, err)
	d.Handle(msg)
}

func chunk(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestEventTypeLookup(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"method":"codex/event/agent_message","params":{"msg":{"type":"agent_message","message":"a"}}}`, "agent_message"},
		{`{"method":"notify","params":{"type":"task_complete"}}`, "task_complete"},
		{`{"method":"notify","msg":{"type":"token_count"}}`, "token_count"},
		{`{"method":"notify","type":"turn_aborted"}`, "turn_aborted"},
		{`{"method":"codex/event/task_started","params":{}}`, "task_started"},
		{`{"method":"codex/event/x","params":{"msg":{"type":"agent_message"},"type":"task_complete"}}`, "agent_message"},
		{`{"method":"loginChatGptComplete","params":{}}`, ""},
	}
	for _, tt := range tests {
		msg, err := rpc.Classify([]byte(tt.line))
		require.NoError(t, err)
		typ, _ := eventOf(msg)
		assert.Equal(t, tt.want, typ, tt.line)
	}
}

func TestExecOutputCappedExactly(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{ExecOutputLimit: 10})

	emit(t, d, `{"type":"exec_command_begin","call_id":"c1","command":["echo","hi"]}`)
	emit(t, d, `{"type":"exec_command_output_delta","call_id":"c1","stream":"stdout","chunk":"`+chunk("hello ")+`"}`)
	emit(t, d, `{"type":"exec_command_output_delta","call_id":"c1","stream":"stdout","chunk":"`+chunk("world!!")+`"}`)
	emit(t, d, `{"type":"exec_command_output_delta","call_id":"c1","stream":"stdout","chunk":"`+chunk("more")+`"}`)
	emit(t, d, `{"type":"exec_command_end","call_id":"c1","exit_code":0}`)

	assert.Equal(t, "running: echo hi\nhello worl\nexited 0 (output truncated after 10 bytes)\n", buf.String())
	assert.Equal(t, 1, strings.Count(buf.String(), "truncated"))
}

func TestExecOutputSuppressedByDenylist(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"exec_command_begin","call_id":"c1","command":["bash","-lc","cat go.mod"]}`)
	emit(t, d, `{"type":"exec_command_output_delta","call_id":"c1","chunk":"`+chunk("module x\n")+`"}`)
	emit(t, d, `{"type":"exec_command_end","call_id":"c1","exit_code":1}`)

	assert.NotContains(t, buf.String(), "module x")
	assert.Contains(t, buf.String(), "exited 1 (output hidden)")
}

func TestStreamedMessageRenderedOnce(t *testing.T) {
	var statuses []Status
	d, buf := newTestDispatcher(DispatcherOptions{OnStatus: func(s Status) { statuses = append(statuses, s) }})

	emit(t, d, `{"type":"task_started"}`)
	emit(t, d, `{"type":"agent_message_delta","delta":"Hi "}`)
	assert.True(t, d.Busy())
	emit(t, d, `{"type":"agent_message_delta","delta":"there"}`)
	emit(t, d, `{"type":"agent_message","message":"Hi there"}`)
	emit(t, d, `{"type":"task_complete"}`)

	assert.Equal(t, "assistant: Hi there\n", buf.String())
	assert.Equal(t, []Status{StatusThinking, StatusResponding, StatusIdle}, statuses)
	assert.False(t, d.Busy())
}

func TestRepeatedFinalMessageRenderedOnce(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"agent_message","message":"done"}`)
	emit(t, d, `{"type":"agent_message","message":"done"}`)

	assert.Equal(t, "assistant: done\n", buf.String())
}

func TestUserEchoSuppressed(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	d.NoteSent("fix the build")
	emit(t, d, `{"type":"user_message","message":"fix the build\n"}`)
	emit(t, d, `{"type":"user_message","message":"from another client"}`)

	assert.Equal(t, "user: from another client\n", buf.String())
}

const sevenLineResult = `{"Ok":{"content":[{"type":"text","text":"l1\nl2\nl3\nl4\nl5\nl6\nl7"}]}}`

func TestToolPreviewShownWithoutExecOrPatch(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"task_started"}`)
	emit(t, d, `{"type":"mcp_tool_call_begin","call_id":"m1","invocation":{"server":"docs","tool":"search"}}`)
	emit(t, d, `{"type":"mcp_tool_call_end","call_id":"m1","invocation":{"server":"docs","tool":"search"},"result":`+sevenLineResult+`}`)

	assert.Equal(t, "tool: docs.search\ntool docs.search succeeded\n  l1\n  l2\n  l3\n  l4\n  l5\n  … 2 more\n", buf.String())
}

func TestToolPreviewHiddenAfterExec(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"task_started"}`)
	emit(t, d, `{"type":"exec_command_begin","call_id":"c1","command":["go","build"]}`)
	emit(t, d, `{"type":"exec_command_end","call_id":"c1","exit_code":0}`)
	emit(t, d, `{"type":"mcp_tool_call_end","call_id":"m1","invocation":{"server":"docs","tool":"search"},"result":`+sevenLineResult+`}`)
	assert.NotContains(t, buf.String(), "l1")

	d.SetVerbose(true)
	emit(t, d, `{"type":"mcp_tool_call_end","call_id":"m2","invocation":{"server":"docs","tool":"search"},"result":`+sevenLineResult+`}`)
	assert.Contains(t, buf.String(), "  l1\n")
}

func TestToolCallFailures(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"mcp_tool_call_end","invocation":{"server":"docs","tool":"fetch"},"result":{"Err":"connection refused"}}`)
	emit(t, d, `{"type":"mcp_tool_call_end","invocation":{"server":"docs","tool":"fetch"},"result":{"Ok":{"content":[{"type":"text","text":"bad url"}],"isError":true}}}`)

	assert.Contains(t, buf.String(), "tool docs.fetch failed: connection refused\n")
	assert.Contains(t, buf.String(), "tool docs.fetch returned an error\n  bad url\n")
}

func TestStructuredContentPreferred(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"mcp_tool_call_end","invocation":{"server":"db","tool":"query"},"result":{"Ok":{"content":[{"type":"text","text":"ignored"}],"structuredContent":{"rows":2,"table":"users"}}}}`)

	assert.Contains(t, buf.String(), "  rows: 2\n  table: users\n")
	assert.NotContains(t, buf.String(), "ignored")
}

func TestLimitRowsTruncatesLongRows(t *testing.T) {
	rows := limitRows([]string{strings.Repeat("x", 300)})
	require.Len(t, rows, 1)
	assert.Equal(t, strings.Repeat("x", previewMaxRowLen)+"…", rows[0])
	assert.Empty(t, limitRows(nil))
}

func TestLimitRowsKeepsRunesWhole(t *testing.T) {
	// Byte previewMaxRowLen falls inside a two-byte rune.
	row := "a" + strings.Repeat("é", previewMaxRowLen)
	rows := limitRows([]string{row})
	require.Len(t, rows, 1)
	assert.True(t, utf8.ValidString(rows[0]))
	assert.Equal(t, "a"+strings.Repeat("é", (previewMaxRowLen-1)/2)+"…", rows[0])
}

func TestToolInventoryReplaced(t *testing.T) {
	d, _ := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"mcp_list_tools_response","tools":{"docs.search":{},"docs.fetch":{},"git__log":{}}}`)
	assert.Equal(t, []string{"docs.fetch", "docs.search", "git__log"}, d.Inventory().Names())

	emit(t, d, `{"type":"mcp_list_tools_response","tools":{"docs.search":{}}}`)
	assert.Equal(t, []string{"docs.search"}, d.Inventory().Names())
}

func TestTokenCount(t *testing.T) {
	var reported []usage.Report
	d, _ := newTestDispatcher(DispatcherOptions{
		ContextWindow: func(string) int64 { return 200000 },
		OnUsage:       func(r usage.Report) { reported = append(reported, r) },
	})

	emit(t, d, `{"type":"token_count","info":{"total_token_usage":{"input_tokens":1000,"cached_input_tokens":200,"output_tokens":300},"model_context_window":8000}}`)
	assert.Equal(t, 100, d.Usage().PercentRemaining)
	assert.EqualValues(t, 8000, d.Usage().Window)

	// Flat counters keep the window learned earlier.
	emit(t, d, `{"type":"token_count","input_tokens":5000,"output_tokens":3000}`)
	assert.EqualValues(t, 8000, d.Usage().Window)
	assert.EqualValues(t, 8000, d.Usage().Blended)
	assert.Len(t, reported, 2)
}

func TestTokenCountFallsBackToModelWindow(t *testing.T) {
	var asked string
	d, _ := newTestDispatcher(DispatcherOptions{
		ContextWindow: func(model string) int64 { asked = model; return 200000 },
	})
	d.SetModel("gpt-5-codex")

	emit(t, d, `{"type":"token_count","info":{"total_token_usage":{"input_tokens":60000,"cached_input_tokens":10000,"output_tokens":12000}}}`)
	assert.Equal(t, "gpt-5-codex", asked)
	assert.Equal(t, 73, d.Usage().PercentRemaining)
}

func TestPatchRefreshesChangedFiles(t *testing.T) {
	refreshed := make(chan []string, 1)
	d, buf := newTestDispatcher(DispatcherOptions{
		Workdir:       "/w",
		RefreshIgnore: []string{"**/*.lock", "dist/**"},
		Refresher:     RefreshFunc(func(paths []string) { refreshed <- paths }),
	})

	emit(t, d, `{"type":"patch_apply_begin","call_id":"p1","changes":{"/w/a.go":{},"/w/dist/app.js":{},"/w/deps/yarn.lock":{}}}`)
	assert.Equal(t, StatusApplyingPatch, d.Status())
	emit(t, d, `{"type":"patch_apply_end","call_id":"p1","success":true}`)

	select {
	case paths := <-refreshed:
		assert.Equal(t, []string{"/w/a.go"}, paths)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher was not called")
	}
	assert.Equal(t, StatusThinking, d.Status())
	assert.Equal(t, "applying patch: 3 file(s)\npatch applied\n", buf.String())
}

func TestPatchFailure(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"patch_apply_begin","call_id":"p1","changes":{"a.go":{}}}`)
	emit(t, d, `{"type":"patch_apply_end","call_id":"p1","success":false,"stderr":"hunk failed\n"}`)

	assert.Contains(t, buf.String(), "patch failed: hunk failed\n")
}

func TestErrorEvents(t *testing.T) {
	var unauthorized []string
	d, buf := newTestDispatcher(DispatcherOptions{OnUnauthorized: func(m string) { unauthorized = append(unauthorized, m) }})

	emit(t, d, `{"type":"stream_error","message":"stream disconnected"}`)
	assert.Equal(t, StatusError, d.Status())
	assert.Empty(t, unauthorized)

	emit(t, d, `{"type":"error","message":"unexpected status 401 Unauthorized"}`)
	assert.Equal(t, []string{"unexpected status 401 Unauthorized"}, unauthorized)

	msg, err := rpc.Classify([]byte(`{"error":{"code":-1,"message":"backend gone"}}`))
	require.NoError(t, err)
	d.HandleLegacyError(msg)

	assert.Equal(t, "error: stream disconnected\nerror: unexpected status 401 Unauthorized\nerror: backend gone\n", buf.String())
}

func TestTurnAborted(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"task_started"}`)
	emit(t, d, `{"type":"agent_message_delta","delta":"partial"}`)
	emit(t, d, `{"type":"turn_aborted","reason":"interrupted"}`)

	assert.Equal(t, StatusIdle, d.Status())
	assert.Equal(t, "assistant: partial\nturn aborted: interrupted\n", buf.String())
}

func TestSessionConfiguredReplaysHistory(t *testing.T) {
	var got Configured
	d, buf := newTestDispatcher(DispatcherOptions{OnConfigured: func(c Configured) { got = c }})

	emit(t, d, `{"type":"session_configured","session_id":"s-1","model":"gpt-5","rollout_path":"/r.jsonl","initial_messages":[{"type":"user_message","message":"earlier question"},{"type":"agent_message","message":"earlier answer"}]}`)

	assert.Equal(t, Configured{SessionID: "s-1", Model: "gpt-5", RolloutPath: "/r.jsonl"}, got)
	assert.Equal(t, "user: earlier question\nassistant: earlier answer\n", buf.String())
}

func TestUnknownEventsOnlyWhenVerbose(t *testing.T) {
	d, buf := newTestDispatcher(DispatcherOptions{})

	emit(t, d, `{"type":"background_event","message":"x"}`)
	assert.Empty(t, buf.String())

	d.SetVerbose(true)
	emit(t, d, `{"type":"background_event","message":"x"}`)
	assert.Contains(t, buf.String(), "event background_event:")
}

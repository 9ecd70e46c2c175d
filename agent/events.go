package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/m4xw311/agentwire/rpc"
	"github.com/m4xw311/agentwire/usage"
)

const eventMethodPrefix = "codex/event/"

type typed struct {
	Type string `json:"type"`
}

// eventOf finds the type of a notification and the object carrying the
// event fields. The type is looked up at params.msg.type, params.type,
// msg.type, type and finally the method suffix.
func eventOf(msg *rpc.Message) (string, json.RawMessage) {
	var params map[string]json.RawMessage
	if isObject(msg.Params) {
		json.Unmarshal(msg.Params, &params)
	}
	if t := typeOf(params["msg"]); t != "" {
		return t, params["msg"]
	}
	if t := typeOf(msg.Params); t != "" {
		return t, msg.Params
	}

	var top map[string]json.RawMessage
	json.Unmarshal(msg.Raw, &top)
	if t := typeOf(top["msg"]); t != "" {
		return t, top["msg"]
	}
	if t := typeOf(msg.Raw); t != "" {
		return t, msg.Raw
	}

	if t, ok := strings.CutPrefix(msg.Method, eventMethodPrefix); ok && t != "" {
		if isObject(params["msg"]) {
			return t, params["msg"]
		}
		return t, msg.Params
	}
	return "", msg.Params
}

func typeOf(raw json.RawMessage) string {
	if !isObject(raw) {
		return ""
	}
	var t typed
	if err := json.Unmarshal(raw, &t); err != nil {
		return ""
	}
	return t.Type
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

type messageEvent struct {
	Message string `json:"message"`
	Delta   string `json:"delta"`
}

type execBeginEvent struct {
	CallID  string   `json:"call_id"`
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
}

type execDeltaEvent struct {
	CallID string `json:"call_id"`
	Stream string `json:"stream"`
	Chunk  string `json:"chunk"`
}

type execEndEvent struct {
	CallID   string `json:"call_id"`
	ExitCode int    `json:"exit_code"`
}

type patchBeginEvent struct {
	CallID       string                     `json:"call_id"`
	AutoApproved bool                       `json:"auto_approved"`
	Changes      map[string]json.RawMessage `json:"changes"`
}

type patchEndEvent struct {
	CallID  string `json:"call_id"`
	Success bool   `json:"success"`
	Stderr  string `json:"stderr"`
}

type mcpInvocation struct {
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

type mcpCallEvent struct {
	CallID     string          `json:"call_id"`
	Invocation mcpInvocation   `json:"invocation"`
	Result     json.RawMessage `json:"result"`
}

type listToolsEvent struct {
	Tools map[string]json.RawMessage `json:"tools"`
}

type tokenInfo struct {
	TotalTokenUsage    usage.Counts `json:"total_token_usage"`
	LastTokenUsage     usage.Counts `json:"last_token_usage"`
	ModelContextWindow int64        `json:"model_context_window"`
}

type tokenCountEvent struct {
	usage.Counts
	Info *tokenInfo `json:"info"`
}

type errorEvent struct {
	Message string `json:"message"`
}

type abortedEvent struct {
	Reason string `json:"reason"`
}

type taskStartedEvent struct {
	ModelContextWindow int64 `json:"model_context_window"`
}

type sessionConfiguredEvent struct {
	SessionID       string            `json:"session_id"`
	Model           string            `json:"model"`
	RolloutPath     string            `json:"rollout_path"`
	InitialMessages []json.RawMessage `json:"initial_messages"`
}

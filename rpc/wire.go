// Package rpc implements the newline-delimited JSON-RPC layer spoken with the
// agent process: inbound message classification, outbound request
// correlation and replies to server-initiated requests.
package rpc

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strconv"

	"github.com/m4xw311/agentwire/errors"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes used in replies.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// ErrNotMessage is returned by Classify for lines that are not protocol
// messages. Callers treat such lines as opaque log text.
var ErrNotMessage = stderrors.New("not a protocol message")

// Kind is the shape of an inbound message.
type Kind int

const (
	KindServerRequest Kind = iota + 1
	KindNotification
	KindResponse
	KindLegacyError
)

func (k Kind) String() string {
	switch k {
	case KindServerRequest:
		return "server-request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindLegacyError:
		return "legacy-error"
	}
	return "unknown"
}

// Message is an inbound line resolved to exactly one Kind.
type Message struct {
	Kind   Kind
	ID     json.RawMessage
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *errors.RPCError
	Raw    json.RawMessage
}

type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Classify parses one line and resolves its shape in priority order:
// method and id is a server request, method alone a notification, id alone
// a response, and a bare top-level error a legacy error.
func Classify(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, ErrNotMessage
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, ErrNotMessage
	}

	msg := &Message{
		ID:     env.ID,
		Method: env.Method,
		Params: env.Params,
		Result: env.Result,
		Raw:    json.RawMessage(append([]byte(nil), line...)),
	}
	hasID := present(env.ID)
	hasError := present(env.Error)
	if hasError {
		msg.Error = decodeError(env.Error)
	}

	switch {
	case env.Method != "" && hasID:
		msg.Kind = KindServerRequest
	case env.Method != "":
		msg.Kind = KindNotification
	case hasID:
		msg.Kind = KindResponse
	case hasError:
		msg.Kind = KindLegacyError
	default:
		return nil, ErrNotMessage
	}
	return msg, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func decodeError(raw json.RawMessage) *errors.RPCError {
	var obj errors.RPCError
	if err := json.Unmarshal(raw, &obj); err == nil {
		return &obj
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &errors.RPCError{Message: text}
	}
	return &errors.RPCError{Message: string(raw)}
}

// IntID returns the numeric value of a message id. Ids sent as strings of
// digits are accepted too.
func IntID(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// request is an outbound client request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// notification is an outbound message that expects no reply.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response answers a server-initiated request.
type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  any              `json:"result,omitempty"`
	Error   *errors.RPCError `json:"error,omitempty"`
}

// EncodeRequest serializes a request with the given id.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize %s request", method)
	}
	return data, nil
}

// EncodeNotification serializes a notification.
func EncodeNotification(method string, params any) ([]byte, error) {
	data, err := json.Marshal(notification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize %s notification", method)
	}
	return data, nil
}

func encodeResult(id json.RawMessage, result any) ([]byte, error) {
	return json.Marshal(response{JSONRPC: jsonrpcVersion, ID: id, Result: result})
}

func encodeError(id json.RawMessage, code int, message string) ([]byte, error) {
	return json.Marshal(response{JSONRPC: jsonrpcVersion, ID: id, Error: &errors.RPCError{Code: code, Message: message}})
}

package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/sirupsen/logrus"
)

// Methods of server-initiated requests the responder approves.
const (
	MethodExecApproval  = "execCommandApproval"
	MethodPatchApproval = "applyPatchApproval"
)

const (
	decisionApproved    = "approved"
	execSummaryMaxWords = 6
)

type execApprovalParams struct {
	ConversationID string   `json:"conversationId"`
	CallID         string   `json:"callId"`
	Command        []string `json:"command"`
	Cwd            string   `json:"cwd"`
	Reason         string   `json:"reason,omitempty"`
}

type patchApprovalParams struct {
	ConversationID string                     `json:"conversationId"`
	CallID         string                     `json:"callId"`
	FileChanges    map[string]json.RawMessage `json:"fileChanges"`
	Reason         string                     `json:"reason,omitempty"`
}

type approvalResult struct {
	Decision string `json:"decision"`
}

// Responder answers server-initiated requests. Every request it is handed
// receives exactly one reply.
type Responder struct {
	send    func([]byte) error
	summary func(line string)
	logger  *logrus.Entry
}

// NewResponder returns a responder writing replies with send. summary, when
// not nil, receives the one-line description of each approval.
func NewResponder(send func([]byte) error, summary func(line string)) *Responder {
	return &Responder{
		send:    send,
		summary: summary,
		logger:  logging.NewLogger("rpc"),
	}
}

// Handle replies to a server request. Approval requests are approved, all
// other methods get a method-not-found error.
func (r *Responder) Handle(msg *Message) error {
	var (
		reply []byte
		err   error
	)
	switch msg.Method {
	case MethodExecApproval:
		var p execApprovalParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				r.logger.WithError(err).Warn("malformed exec approval params")
			}
		}
		r.report(fmt.Sprintf("approved exec: %s", firstWords(p.Command, execSummaryMaxWords)))
		reply, err = encodeResult(msg.ID, approvalResult{Decision: decisionApproved})
	case MethodPatchApproval:
		var p patchApprovalParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				r.logger.WithError(err).Warn("malformed patch approval params")
			}
		}
		r.report(fmt.Sprintf("approved patch: %d file(s)", len(p.FileChanges)))
		reply, err = encodeResult(msg.ID, approvalResult{Decision: decisionApproved})
	default:
		r.logger.WithField("method", msg.Method).Warn("unsupported server request")
		reply, err = encodeError(msg.ID, CodeMethodNotFound, "method not supported: "+msg.Method)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode reply to %s", msg.Method)
	}
	if err := r.send(reply); err != nil {
		return errors.Wrapf(err, "failed to reply to %s", msg.Method)
	}
	return nil
}

func (r *Responder) report(line string) {
	r.logger.Info(line)
	if r.summary != nil {
		r.summary(line)
	}
}

func firstWords(tokens []string, n int) string {
	if len(tokens) <= n {
		return strings.Join(tokens, " ")
	}
	return strings.Join(tokens[:n], " ") + " …"
}

package bridge

import stderrors "errors"

var (
	errNoConversation = stderrors.New("no session is running")
	errEmptyPrompt    = stderrors.New("prompt has no text")
	errBusy           = stderrors.New("agent is busy")
)

type unknownFrameError struct {
	typ string
}

func (e *unknownFrameError) Error() string {
	return "unsupported frame type: " + e.typ
}

package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranscriptStreaming(t *testing.T) {
	var buf strings.Builder
	tr := NewTranscript(&buf)

	tr.StreamDelta("assistant", "Hel")
	tr.StreamDelta("assistant", "lo")
	tr.Printf("running: ls")
	tr.StreamDelta("assistant", "again")
	tr.EndStream()
	tr.EndStream()
	tr.Message("user", "hi")

	assert.Equal(t, "assistant: Hello\nrunning: ls\nassistant: again\nuser: hi\n", buf.String())
}

func TestTranscriptRawOutput(t *testing.T) {
	var buf strings.Builder
	tr := NewTranscript(&buf)

	tr.Write([]byte("partial"))
	tr.Printf("exited 0")
	tr.Write([]byte("line\n"))
	tr.Printf("done")

	assert.Equal(t, "partial\nexited 0\nline\ndone\n", buf.String())
}

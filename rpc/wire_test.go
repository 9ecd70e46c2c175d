package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"server request", `{"id":7,"method":"execCommandApproval","params":{}}`, KindServerRequest},
		{"notification", `{"method":"codex/event/task_started","params":{"msg":{"type":"task_started"}}}`, KindNotification},
		{"response", `{"id":3,"result":{"ok":true}}`, KindResponse},
		{"error response", `{"id":3,"error":{"code":-1,"message":"bad"}}`, KindResponse},
		{"legacy error", `{"error":"boom"}`, KindLegacyError},
		{"null id is a notification", `{"id":null,"method":"x"}`, KindNotification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Classify([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind)
		})
	}
}

func TestClassifyRejectsNonMessages(t *testing.T) {
	for _, line := range []string{"", "   ", "plain text", "[1,2]", "{not json", `{"foo":1}`} {
		_, err := Classify([]byte(line))
		assert.ErrorIs(t, err, ErrNotMessage, "line %q", line)
	}
}

func TestClassifyDecodesErrors(t *testing.T) {
	msg, err := Classify([]byte(`{"id":1,"error":{"code":-32000,"message":"401 Unauthorized"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	assert.Equal(t, -32000, msg.Error.Code)
	assert.Equal(t, "401 Unauthorized", msg.Error.Message)

	msg, err = Classify([]byte(`{"error":"stream closed"}`))
	require.NoError(t, err)
	assert.Equal(t, "stream closed", msg.Error.Message)
}

func TestIntID(t *testing.T) {
	id, ok := IntID([]byte(`42`))
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	id, ok = IntID([]byte(`"17"`))
	assert.True(t, ok)
	assert.EqualValues(t, 17, id)

	_, ok = IntID([]byte(`"abc"`))
	assert.False(t, ok)
}

func TestEncodeRequestOmitsEmptyParams(t *testing.T) {
	data, err := EncodeRequest(1, "initialize", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, string(data))
}

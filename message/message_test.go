package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallWireShape(t *testing.T) {
	data, err := json.Marshal(NewCall(4711, "echo", json.RawMessage(`{"x":1}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"callId":4711,"func":"echo","args":{"x":1}}`, string(data))
}

func TestReplyWireShape(t *testing.T) {
	data, err := json.Marshal(NewReply(3, json.RawMessage(`[1,2]`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answerId":3,"answer":[1,2]}`, string(data))

	data, err = json.Marshal(NewErrorReply(3, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answerId":3,"answer":{"error":"boom"}}`, string(data))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    Kind
		wantErr bool
	}{
		{name: "call", input: `{"callId":1,"func":"ping","args":null}`, kind: KindCall},
		{name: "call without args", input: `{"callId":65535,"func":"ping"}`, kind: KindCall},
		{name: "reply", input: `{"answerId":2,"answer":{"ok":true}}`, kind: KindReply},
		{name: "reply without answer", input: `{"answerId":2}`, kind: KindReply},
		{name: "missing callId", input: `{"func":"ping"}`, wantErr: true},
		{name: "neither", input: `{"hello":"world"}`, wantErr: true},
		{name: "id out of range", input: `{"callId":70000,"func":"ping"}`, wantErr: true},
		{name: "not json", input: `{"callId":`, wantErr: true},
		{name: "not an object", input: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind)
		})
	}
}

func TestDecodeErrorAnswer(t *testing.T) {
	env, err := Decode([]byte(`{"answerId":9,"answer":{"error":"no such endpoint"}}`))
	require.NoError(t, err)
	require.Equal(t, KindReply, env.Kind)
	assert.Equal(t, "no such endpoint", env.Reply.Error)
	assert.Nil(t, env.Reply.Answer)

	// An answer that merely contains an error field is a regular answer.
	env, err = Decode([]byte(`{"answerId":9,"answer":{"error":"x","result":1}}`))
	require.NoError(t, err)
	assert.Empty(t, env.Reply.Error)
	assert.JSONEq(t, `{"error":"x","result":1}`, string(env.Reply.Answer))
}

func TestCallRoundTripKeepsID(t *testing.T) {
	data, err := json.Marshal(NewCall(65535, "ep_deliver", json.RawMessage(`{"name":"box"}`)))
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindCall, env.Kind)
	assert.Equal(t, uint16(65535), env.Call.ID)
	assert.Equal(t, "ep_deliver", env.Call.Func)
	assert.JSONEq(t, `{"name":"box"}`, string(env.Call.Args))
}

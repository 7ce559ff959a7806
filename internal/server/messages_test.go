package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponses(t *testing.T) {
	tcases := []struct {
		name     string
		msg      *ServerMessage
		wantId   int
		wantCode int
		wantErr  string
	}{
		{name: "ok", msg: NoErrOK(1, nil), wantId: 1, wantCode: http.StatusOK},
		{name: "not found", msg: ErrChatroomNotFound(2), wantId: 2, wantCode: http.StatusNotFound, wantErr: "chatroom not found"},
		{name: "forbidden", msg: ErrForbidden(3), wantId: 3, wantCode: http.StatusForbidden, wantErr: "you are not a participant of this chatroom"},
		{name: "internal", msg: ErrInternalError(4), wantId: 4, wantCode: http.StatusInternalServerError, wantErr: "internal server error"},
		{name: "unavailable", msg: ErrServiceUnavailable(5), wantId: 5, wantCode: http.StatusServiceUnavailable, wantErr: "service unavailable"},
		{name: "invalid without id", msg: ErrInvalidMessage(-1), wantId: 0, wantCode: http.StatusBadRequest, wantErr: "invalid message format"},
		{name: "invalid with id", msg: ErrInvalidMessage(6), wantId: 6, wantCode: http.StatusBadRequest, wantErr: "invalid message format"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantId, tc.msg.Id)
			require.NotNil(t, tc.msg.Response)
			assert.Equal(t, tc.wantCode, tc.msg.Response.ResponseCode)
			assert.Equal(t, tc.wantErr, tc.msg.Response.Error)
			assert.False(t, tc.msg.Timestamp.IsZero())
		})
	}
}

func TestClientMessageDecoding(t *testing.T) {
	tcases := []struct {
		name  string
		raw   string
		check func(t *testing.T, msg ClientMessage)
	}{
		{
			name: "join",
			raw:  `{"id":1,"join":{"chatroom_id":42}}`,
			check: func(t *testing.T, msg ClientMessage) {
				require.NotNil(t, msg.Join)
				assert.Equal(t, 42, msg.Join.ChatroomId)
			},
		},
		{
			name: "produce",
			raw:  `{"id":2,"produce":{"sdp":"v=0","tracks":[{"kind":"video"}]}}`,
			check: func(t *testing.T, msg ClientMessage) {
				require.NotNil(t, msg.Produce)
				assert.Equal(t, "v=0", msg.Produce.Sdp)
				assert.Equal(t, "video", msg.Produce.Tracks[0].Kind)
			},
		},
		{
			name: "consume",
			raw:  `{"id":3,"consume":{}}`,
			check: func(t *testing.T, msg ClientMessage) {
				assert.NotNil(t, msg.Consume)
			},
		},
		{
			name: "connect consumer",
			raw:  `{"id":4,"connect_consumer":{"consumer_id":"c1","sdp":"answer"}}`,
			check: func(t *testing.T, msg ClientMessage) {
				require.NotNil(t, msg.ConnectConsumer)
				assert.Equal(t, "c1", msg.ConnectConsumer.ConsumerId)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var msg ClientMessage
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &msg))
			tc.check(t, msg)
		})
	}
}

func TestEventMessageEncoding(t *testing.T) {
	msg := EventMessage(&Event{Origin: "hub-1", Channel: "chatroom:1", Name: "new_message", Data: map[string]int{"id": 9}})
	raw, err := serializeMessage(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	event := decoded["event"].(map[string]any)
	assert.Equal(t, "new_message", event["name"])
	assert.Equal(t, "chatroom:1", event["channel"])
	assert.Equal(t, map[string]any{"id": float64(9)}, event["data"])
	assert.NotContains(t, event, "origin", "the hub instance id stays server side")
}

package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-community/internal/stream"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a websocket session. Exactly one of the
// request fields is set.
type ClientMessage struct {
	BaseMessage
	Join            *Join                  `json:"join,omitempty"`
	Leave           *Leave                 `json:"leave,omitempty"`
	Produce         *stream.ProduceRequest `json:"produce,omitempty"`
	Consume         *Consume               `json:"consume,omitempty"`
	ConnectConsumer *ConnectConsumer       `json:"connect_consumer,omitempty"`
	UserId          int                    `json:"-"`
	client          *Client
}

type Join struct {
	ChatroomId int `json:"chatroom_id"`
}

type Leave struct {
	ChatroomId int `json:"chatroom_id"`
}

type Consume struct{}

type ConnectConsumer struct {
	ConsumerId string `json:"consumer_id"`
	Sdp        string `json:"sdp"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Event is a published notification. Origin identifies the hub instance that
// emitted it and is only carried on the bridge. An event with a non-zero
// unsubscribeUser is a control entry that detaches that user's sessions from
// Channel instead of delivering anything.
type Event struct {
	Origin  string `json:"-"`
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Data    any    `json:"data"`

	unsubscribeUser int
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrResponse(id int, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrChatroomNotFound(id int) *ServerMessage {
	return ErrResponse(id, http.StatusNotFound, "chatroom not found")
}

func ErrForbidden(id int) *ServerMessage {
	return ErrResponse(id, http.StatusForbidden, "you are not a participant of this chatroom")
}

func ErrInternalError(id int) *ServerMessage {
	return ErrResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return ErrResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := ErrResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func EventMessage(ev *Event) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: ev,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

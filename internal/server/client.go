package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	signalTimeout  = 15 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

type Client struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	log      *log.Logger
	user     types.User
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, hub *Hub, l *log.Logger) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  hub,
		log:  l,
		user: user,
		send: make(chan *ServerMessage, sendBufferSize),
		stop: make(chan struct{}),
	}
}

// Serve registers the session with the hub and runs its pumps until the
// connection closes.
func (c *Client) Serve() {
	if !c.hub.registerClient(c) {
		c.conn.Close()
		return
	}

	go c.Write()
	c.Read()
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.hub.unregisterClient(c)
		c.stopClient()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.handle(&msg)
	}
}

func (c *Client) handle(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinChatroom(msg)
	case msg.Leave != nil:
		if c.hub.subscribeClient(c, types.ChatroomChannel(msg.Leave.ChatroomId), false) {
			c.queueMessage(NoErrOK(msg.Id, map[string]any{"chatroom_id": msg.Leave.ChatroomId}))
		}
	case msg.Produce != nil, msg.Consume != nil, msg.ConnectConsumer != nil:
		c.signal(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) joinChatroom(msg *ClientMessage) {
	chatroomId := msg.Join.ChatroomId
	ok, err := c.hub.members.IsParticipant(chatroomId, c.user.Id)
	if err != nil {
		c.log.Printf("membership check for chatroom %d: %v", chatroomId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	if !ok {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	if !c.hub.subscribeClient(c, types.ChatroomChannel(chatroomId), true) {
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"chatroom_id": chatroomId}))
}

func (c *Client) signal(msg *ClientMessage) {
	if c.hub.signaler == nil {
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	var (
		data any
		err  error
	)
	switch {
	case msg.Produce != nil:
		data, err = c.hub.signaler.Produce(ctx, *msg.Produce)
	case msg.Consume != nil:
		data, err = c.hub.signaler.Consume(ctx)
	case msg.ConnectConsumer != nil:
		err = c.hub.signaler.ConnectConsumer(ctx, msg.ConnectConsumer.ConsumerId, msg.ConnectConsumer.Sdp)
	}

	if err != nil {
		c.queueMessage(errorMessage(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, data))
}

func errorMessage(id int, err error) *ServerMessage {
	var chatErr *chat.Error
	if !errors.As(err, &chatErr) || chatErr.Kind == chat.KindDependency {
		return ErrInternalError(id)
	}

	return ErrResponse(id, chatErr.Kind.HTTPStatus(), chatErr.Message)
}

// queueMessage never blocks; a session whose buffer is full misses the message.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full for session %s, dropping message", c.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/stats"
	"github.com/npezzotti/go-community/internal/stream"
	"github.com/npezzotti/go-community/internal/testutil"
	"github.com/npezzotti/go-community/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	rooms map[int][]int
	err   error
}

func (f fakeMembers) IsParticipant(chatroomId, userId int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, id := range f.rooms[chatroomId] {
		if id == userId {
			return true, nil
		}
	}
	return false, nil
}

type fakeSignaler struct{}

func (fakeSignaler) Produce(_ context.Context, req stream.ProduceRequest) (stream.ProducerInfo, error) {
	if req.Sdp == "" {
		return stream.ProducerInfo{}, chat.NewValidationError("invalid produce parameters")
	}
	return stream.ProducerInfo{ProducerId: "p1", Sdp: "answer"}, nil
}

func (fakeSignaler) Consume(context.Context) (stream.ConsumerInfo, error) {
	return stream.ConsumerInfo{}, chat.NewConflictError("stream is not live")
}

func (fakeSignaler) ConnectConsumer(context.Context, string, string) error {
	return nil
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	return su
}

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T, members MembershipChecker, opts ...HubOption) *Hub {
	t.Helper()
	h := NewHub(testutil.TestLogger(t), members, newTestStats(), opts...)
	go h.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	return h
}

func receive(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	su := newTestStats()
	defer su.AssertExpectations(t)

	h := NewHub(testutil.TestLogger(t), fakeMembers{}, su, WithSignaler(fakeSignaler{}))
	assert.NotEmpty(t, h.id)
	assert.NotNil(t, h.signaler)
	assert.Nil(t, h.bridge)
	assert.NotNil(t, h.clients)
	assert.NotNil(t, h.channels)
	assert.Equal(t, emitQueueSize, cap(h.events))
}

func TestHubUserAndGlobalChannels(t *testing.T) {
	h := startHub(t, fakeMembers{})
	alice := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))
	bob := NewClient(types.User{Id: 2}, nil, h, testutil.TestLogger(t))
	require.True(t, h.registerClient(alice))
	require.True(t, h.registerClient(bob))

	h.Emit(types.UserChannel(1), types.EventUnreadUpdate, types.UnreadUpdateEvent{ChatroomId: 3, UnreadCount: 1})
	msg := receive(t, alice)
	require.NotNil(t, msg.Event)
	assert.Equal(t, types.EventUnreadUpdate, msg.Event.Name)
	assertNoMessage(t, bob)

	h.Emit(types.GlobalChannel, types.EventNewChatroom, nil)
	assert.Equal(t, types.EventNewChatroom, receive(t, alice).Event.Name)
	assert.Equal(t, types.EventNewChatroom, receive(t, bob).Event.Name)
}

func TestHubChatroomSubscriptions(t *testing.T) {
	h := startHub(t, fakeMembers{})
	c := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))
	require.True(t, h.registerClient(c))

	channel := types.ChatroomChannel(9)
	h.Emit(channel, types.EventNewMessage, "before join")
	assertNoMessage(t, c)

	require.True(t, h.subscribeClient(c, channel, true))
	h.Emit(channel, types.EventNewMessage, "after join")
	assert.Equal(t, "after join", receive(t, c).Event.Data)

	require.True(t, h.subscribeClient(c, channel, false))
	h.Emit(channel, types.EventNewMessage, "after leave")
	assertNoMessage(t, c)
}

func TestHubUnsubscribeUser(t *testing.T) {
	h := startHub(t, fakeMembers{})
	bobPhone := NewClient(types.User{Id: 2}, nil, h, testutil.TestLogger(t))
	bobLaptop := NewClient(types.User{Id: 2}, nil, h, testutil.TestLogger(t))
	alice := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))

	channel := types.ChatroomChannel(4)
	for _, c := range []*Client{bobPhone, bobLaptop, alice} {
		require.True(t, h.registerClient(c))
		require.True(t, h.subscribeClient(c, channel, true))
	}

	h.Emit(channel, types.EventParticipantLeft, "bob left")
	h.UnsubscribeUser(2, channel)
	h.Emit(channel, types.EventNewMessage, "secret")

	// events queued before the unsubscribe still arrive
	assert.Equal(t, "bob left", receive(t, bobPhone).Event.Data)
	assert.Equal(t, "bob left", receive(t, bobLaptop).Event.Data)
	assertNoMessage(t, bobPhone)
	assertNoMessage(t, bobLaptop)

	assert.Equal(t, "bob left", receive(t, alice).Event.Data)
	assert.Equal(t, "secret", receive(t, alice).Event.Data)

	// personal channels are untouched
	h.Emit(types.UserChannel(2), types.EventUnreadUpdate, 0)
	assert.Equal(t, types.EventUnreadUpdate, receive(t, bobPhone).Event.Name)
}

func TestHubPreservesEmitOrder(t *testing.T) {
	h := startHub(t, fakeMembers{})
	c := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))
	require.True(t, h.registerClient(c))

	for i := 0; i < 100; i++ {
		h.Emit(types.UserChannel(1), "tick", i)
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, receive(t, c).Event.Data)
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	h := startHub(t, fakeMembers{})
	c := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))
	require.True(t, h.registerClient(c))

	for i := 0; i < sendBufferSize+10; i++ {
		h.Emit(types.UserChannel(1), "tick", i)
	}

	// The hub keeps running; the first sendBufferSize events are kept.
	require.Eventually(t, func() bool { return len(c.send) == sendBufferSize }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, receive(t, c).Event.Data)
}

func TestHubUnregister(t *testing.T) {
	h := startHub(t, fakeMembers{})
	c := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))
	require.True(t, h.registerClient(c))
	h.unregisterClient(c)

	h.Emit(types.UserChannel(1), "tick", 1)
	assertNoMessage(t, c)
}

func TestHubShutdown(t *testing.T) {
	h := NewHub(testutil.TestLogger(t), fakeMembers{}, newTestStats())

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, h.Shutdown(ctx), context.DeadlineExceeded, "hub is not running")
	})

	t.Run("successful shutdown", func(t *testing.T) {
		go h.Run()
		c := NewClient(types.User{Id: 1}, nil, h, testutil.TestLogger(t))
		require.True(t, h.registerClient(c))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, h.Shutdown(ctx))

		select {
		case <-c.stop:
		default:
			t.Error("expected client to be stopped")
		}

		assert.NotPanics(t, func() { h.Emit(types.GlobalChannel, "late", nil) })
		assert.False(t, h.registerClient(c))
	})
}

func dialHub(t *testing.T, h *Hub, user types.User) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(user, conn, h, testutil.TestLogger(t)).Serve()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSessionJoinAndReceive(t *testing.T) {
	h := startHub(t, fakeMembers{rooms: map[int][]int{5: {1, 2}}}, WithSignaler(fakeSignaler{}))
	conn := dialHub(t, h, types.User{Id: 1})

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "join": map[string]int{"chatroom_id": 6}}))
	resp := readFrame(t, conn)
	assert.Equal(t, 1, resp.Id)
	assert.Equal(t, http.StatusForbidden, resp.Response.ResponseCode)

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 2, "join": map[string]int{"chatroom_id": 5}}))
	resp = readFrame(t, conn)
	assert.Equal(t, 2, resp.Id)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode)

	h.Emit(types.ChatroomChannel(5), types.EventNewMessage, map[string]string{"content": "hi"})
	ev := readFrame(t, conn)
	require.NotNil(t, ev.Event)
	assert.Equal(t, types.EventNewMessage, ev.Event.Name)
	assert.Equal(t, map[string]any{"content": "hi"}, ev.Event.Data)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	resp = readFrame(t, conn)
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode)
}

func TestSessionSignaling(t *testing.T) {
	h := startHub(t, fakeMembers{}, WithSignaler(fakeSignaler{}))
	conn := dialHub(t, h, types.User{Id: 1})

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "produce": map[string]any{"sdp": "offer", "tracks": []map[string]string{{"kind": "video"}}}}))
	resp := readFrame(t, conn)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode)
	assert.Equal(t, "p1", resp.Response.Data.(map[string]any)["producer_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 2, "consume": map[string]any{}}))
	resp = readFrame(t, conn)
	assert.Equal(t, http.StatusConflict, resp.Response.ResponseCode)
	assert.Equal(t, "stream is not live", resp.Response.Error)
}

func TestSessionJoinMembershipError(t *testing.T) {
	h := startHub(t, fakeMembers{err: errors.New("db down")})
	conn := dialHub(t, h, types.User{Id: 1})

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "join": map[string]int{"chatroom_id": 5}}))
	resp := readFrame(t, conn)
	assert.Equal(t, http.StatusInternalServerError, resp.Response.ResponseCode)
}

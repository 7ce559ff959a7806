package server

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/npezzotti/go-community/internal/stats"
	"github.com/npezzotti/go-community/internal/stream"
	"github.com/npezzotti/go-community/internal/types"
)

const (
	metricActiveClients = "NumActiveClients"
	metricTotalClients  = "TotalClients"
	metricEventsEmitted = "NumEventsEmitted"
	metricEventsDropped = "NumEventsDropped"

	emitQueueSize = 1024
)

// MembershipChecker decides whether a session may subscribe to a chatroom.
type MembershipChecker interface {
	IsParticipant(chatroomId, userId int) (bool, error)
}

// MembershipFunc adapts a plain function, such as a repository lookup, to a
// MembershipChecker.
type MembershipFunc func(chatroomId, userId int) (bool, error)

func (f MembershipFunc) IsParticipant(chatroomId, userId int) (bool, error) {
	return f(chatroomId, userId)
}

// Signaler handles stream signaling frames received over a session.
type Signaler interface {
	Produce(ctx context.Context, req stream.ProduceRequest) (stream.ProducerInfo, error)
	Consume(ctx context.Context) (stream.ConsumerInfo, error)
	ConnectConsumer(ctx context.Context, consumerId, answerSdp string) error
}

type subscribeReq struct {
	client    *Client
	channel   string
	subscribe bool
	done      chan struct{}
}

type stopReq struct {
	done chan struct{}
}

// Hub fans events out to websocket sessions keyed by channel. All channel
// bookkeeping happens on the Run goroutine, so events from a single emitter
// are delivered in the order they were emitted.
type Hub struct {
	id         string
	log        *log.Logger
	stats      stats.StatsProvider
	members    MembershipChecker
	signaler   Signaler
	bridge     *RedisBridge
	clients    map[*Client]map[string]struct{}
	channels   map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	subscribe  chan *subscribeReq
	events     chan *Event
	remote     chan *Event
	stop       chan stopReq
	done       chan struct{}
}

type HubOption func(*Hub)

func WithSignaler(s Signaler) HubOption {
	return func(h *Hub) {
		h.signaler = s
	}
}

// SetSignaler attaches the stream coordinator after construction, for
// coordinators that emit through this hub. It must be called before Run.
func (h *Hub) SetSignaler(s Signaler) {
	h.signaler = s
}

// WithBridge relays events through Redis so sessions connected to other
// instances receive them too.
func WithBridge(b *RedisBridge) HubOption {
	return func(h *Hub) {
		h.bridge = b
	}
}

func NewHub(logger *log.Logger, members MembershipChecker, su stats.StatsProvider, opts ...HubOption) *Hub {
	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricTotalClients)
	su.RegisterMetric(metricEventsEmitted)
	su.RegisterMetric(metricEventsDropped)

	h := &Hub{
		id:         uuid.NewString(),
		log:        logger,
		stats:      su,
		members:    members,
		clients:    make(map[*Client]map[string]struct{}),
		channels:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan *subscribeReq),
		events:     make(chan *Event, emitQueueSize),
		remote:     make(chan *Event, emitQueueSize),
		stop:       make(chan stopReq),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Emit queues an event for delivery and never blocks. The event is dropped
// when the queue is full or the hub has stopped.
func (h *Hub) Emit(channel, event string, payload any) {
	h.enqueue(&Event{Origin: h.id, Channel: channel, Name: event, Data: payload})
}

// UnsubscribeUser detaches every session of userId, on this instance and
// across the bridge, from channel. It is queued behind events already
// emitted, so those still reach the user.
func (h *Hub) UnsubscribeUser(userId int, channel string) {
	h.enqueue(&Event{Origin: h.id, Channel: channel, unsubscribeUser: userId})
}

func (h *Hub) enqueue(ev *Event) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.events <- ev:
		h.stats.Incr(metricEventsEmitted)
	default:
		h.stats.Incr(metricEventsDropped)
		h.log.Printf("emit queue full, dropping %q on %q", ev.Name, ev.Channel)
	}
}

func (h *Hub) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.bridge != nil {
		go h.bridge.Listen(ctx, func(ev *Event) {
			if ev.Origin == h.id {
				return
			}
			select {
			case h.remote <- ev:
			default:
				h.stats.Incr(metricEventsDropped)
			}
		})
	}

	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case req := <-h.subscribe:
			h.handleSubscribe(req)
		case ev := <-h.events:
			h.apply(ev)
			if h.bridge != nil {
				h.bridge.Publish(ev)
			}
		case ev := <-h.remote:
			h.apply(ev)
		case req := <-h.stop:
			h.log.Println("stopping hub")
			for c := range h.clients {
				c.stopClient()
			}
			close(h.done)
			close(req.done)
			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = make(map[string]struct{})
	h.join(c, types.UserChannel(c.user.Id))
	h.join(c, types.GlobalChannel)
	h.stats.Incr(metricActiveClients)
	h.stats.Incr(metricTotalClients)
	h.log.Printf("session %s connected for user %d", c.id, c.user.Id)
}

func (h *Hub) removeClient(c *Client) {
	subs, ok := h.clients[c]
	if !ok {
		return
	}

	for channel := range subs {
		h.leave(c, channel)
	}
	delete(h.clients, c)
	h.stats.Decr(metricActiveClients)
	h.log.Printf("session %s disconnected for user %d", c.id, c.user.Id)
}

func (h *Hub) handleSubscribe(req *subscribeReq) {
	defer close(req.done)

	if _, ok := h.clients[req.client]; !ok {
		return
	}

	if req.subscribe {
		h.join(req.client, req.channel)
	} else {
		h.leave(req.client, req.channel)
	}
}

func (h *Hub) join(c *Client, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channel] = members
	}
	members[c] = struct{}{}
	h.clients[c][channel] = struct{}{}
}

func (h *Hub) leave(c *Client, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(h.clients[c], channel)
}

func (h *Hub) apply(ev *Event) {
	if ev.unsubscribeUser != 0 {
		h.unsubscribeUser(ev.unsubscribeUser, ev.Channel)
		return
	}
	h.deliver(ev)
}

func (h *Hub) unsubscribeUser(userId int, channel string) {
	for c := range h.channels[channel] {
		if c.user.Id == userId {
			h.leave(c, channel)
		}
	}
}

func (h *Hub) deliver(ev *Event) {
	members := h.channels[ev.Channel]
	if len(members) == 0 {
		return
	}

	msg := EventMessage(ev)
	for c := range members {
		if !c.queueMessage(msg) {
			h.stats.Incr(metricEventsDropped)
		}
	}
}

// subscribeClient blocks until the Run loop has applied the change.
func (h *Hub) subscribeClient(c *Client, channel string, subscribe bool) bool {
	req := &subscribeReq{client: c, channel: channel, subscribe: subscribe, done: make(chan struct{})}
	select {
	case h.subscribe <- req:
	case <-h.done:
		return false
	}

	select {
	case <-req.done:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case h.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

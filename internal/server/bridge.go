package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultBridgeChannel = "go-community:events"
	publishTimeout       = 2 * time.Second
)

// RedisBridge mirrors hub events over a Redis pub/sub channel.
type RedisBridge struct {
	log     *log.Logger
	client  redis.UniversalClient
	channel string
	out     chan *Event
}

type wireEvent struct {
	Origin      string          `json:"origin"`
	Channel     string          `json:"channel"`
	Name        string          `json:"name,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Unsubscribe int             `json:"unsubscribe,omitempty"`
}

func NewRedisBridge(logger *log.Logger, client redis.UniversalClient, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultBridgeChannel
	}

	return &RedisBridge{
		log:     logger,
		client:  client,
		channel: channel,
		out:     make(chan *Event, emitQueueSize),
	}
}

// Publish queues ev for the publisher goroutine started by Listen.
func (b *RedisBridge) Publish(ev *Event) {
	select {
	case b.out <- ev:
	default:
		b.log.Printf("bridge queue full, dropping %q", ev.Name)
	}
}

// Listen publishes queued events and hands every event received from Redis
// to handler until ctx is done.
func (b *RedisBridge) Listen(ctx context.Context, handler func(*Event)) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	go b.publishLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			ev, err := decodeEvent([]byte(m.Payload))
			if err != nil {
				b.log.Printf("bridge: decode event: %v", err)
				continue
			}
			handler(ev)
		}
	}
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.out:
			payload, err := encodeEvent(ev)
			if err != nil {
				b.log.Printf("bridge: encode event %q: %v", ev.Name, err)
				continue
			}

			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := b.client.Publish(pctx, b.channel, payload).Err(); err != nil {
				b.log.Printf("bridge: publish %q: %v", ev.Name, err)
			}
			cancel()
		}
	}
}

func encodeEvent(ev *Event) ([]byte, error) {
	w := wireEvent{
		Origin:      ev.Origin,
		Channel:     ev.Channel,
		Name:        ev.Name,
		Unsubscribe: ev.unsubscribeUser,
	}
	if ev.unsubscribeUser == 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, err
		}
		w.Data = data
	}

	return json.Marshal(w)
}

func decodeEvent(payload []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}

	return &Event{
		Origin:          w.Origin,
		Channel:         w.Channel,
		Name:            w.Name,
		Data:            w.Data,
		unsubscribeUser: w.Unsubscribe,
	}, nil
}

package testutil

import (
	"context"
	"sync"
)

type Event struct {
	Channel string
	Name    string
	Payload any
}

type Unsubscribe struct {
	UserId  int
	Channel string
}

// Recorder captures emitted events and push notifications.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	pushes  []Push
	unsubs  []Unsubscribe
	PushErr error
}

type Push struct {
	UserId int
	Title  string
	Body   string
}

func (r *Recorder) Emit(channel, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Channel: channel, Name: event, Payload: payload})
}

func (r *Recorder) UnsubscribeUser(userId int, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubs = append(r.unsubs, Unsubscribe{UserId: userId, Channel: channel})
}

func (r *Recorder) Unsubscribes() []Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Unsubscribe(nil), r.unsubs...)
}

func (r *Recorder) Notify(_ context.Context, userId int, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{UserId: userId, Title: title, Body: body})
	return r.PushErr
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name, in emission order.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Pushes() []Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Push(nil), r.pushes...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.pushes = nil
	r.unsubs = nil
}

package push

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Sender delivers a single notification to a device token.
type Sender interface {
	Send(ctx context.Context, token, title, body string) error
}

// ErrUnregistered is returned when the push service no longer knows the token.
var ErrUnregistered = errors.New("device token is no longer registered")

type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender uses application default credentials.
func NewFCMSender(ctx context.Context, projectID string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}

	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, token, title, body string) error {
	_, err := s.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
	})
	if messaging.IsRegistrationTokenNotRegistered(err) {
		return fmt.Errorf("%w: %v", ErrUnregistered, err)
	}
	return err
}

// LogSender only logs notifications. It is used when no push service is
// configured.
type LogSender struct {
	Log *log.Logger
}

func (s LogSender) Send(_ context.Context, token, title, body string) error {
	s.Log.Printf("push to %s: %s: %s", truncate(token, 12), title, body)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type BreakerOptions struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// BreakerSender stops calling the wrapped sender after consecutive failures
// and lets a trial request through once Timeout has passed.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSender(logger *log.Logger, next Sender, opts BreakerOptions) *BreakerSender {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "push",
		MaxRequests: 1,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		// An unknown token says nothing about the health of the push service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnregistered)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &BreakerSender{next: next, cb: cb}
}

func (s *BreakerSender) Send(ctx context.Context, token, title, body string) error {
	_, err := s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.next.Send(ctx, token, title, body)
	})
	return err
}

func (s *BreakerSender) State() gobreaker.State {
	return s.cb.State()
}

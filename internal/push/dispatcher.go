package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/types"
	gobreaker "github.com/sony/gobreaker/v2"
)

type SubscriptionStore interface {
	UpsertPushSubscription(params database.UpsertPushSubscriptionParams) (database.PushSubscription, error)
	ListPushSubscriptions(userId int) ([]database.PushSubscription, error)
}

// Dispatcher resolves a user's registered devices and sends each of them the
// notification. Delivery failures never reach the caller's operation.
type Dispatcher struct {
	log    *log.Logger
	store  SubscriptionStore
	sender Sender
}

func NewDispatcher(logger *log.Logger, store SubscriptionStore, sender Sender) *Dispatcher {
	return &Dispatcher{log: logger, store: store, sender: sender}
}

// Register stores the descriptor for a device, replacing any earlier one.
// The descriptor is normalized to its object form so it is parsed once here.
func (d *Dispatcher) Register(userId int, deviceId string, raw json.RawMessage) (types.PushSubscription, error) {
	if deviceId == "" {
		return types.PushSubscription{}, chat.NewValidationError("device_id is required")
	}

	desc, err := ParseDescriptor(raw)
	if err != nil {
		return types.PushSubscription{}, chat.NewValidationError(err.Error())
	}

	normalized, err := json.Marshal(desc)
	if err != nil {
		return types.PushSubscription{}, fmt.Errorf("encode descriptor: %w", err)
	}

	sub, err := d.store.UpsertPushSubscription(database.UpsertPushSubscriptionParams{
		UserId:     userId,
		DeviceId:   deviceId,
		Descriptor: normalized,
	})
	if err != nil {
		return types.PushSubscription{}, &chat.Error{Kind: chat.KindDependency, Message: "failed to save push subscription", Err: err}
	}

	return types.PushSubscription{
		Id:        sub.Id,
		UserId:    sub.UserId,
		DeviceId:  sub.DeviceId,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}, nil
}

// Notify sends to every device of the user. It returns an error only when
// the subscriptions cannot be loaded; per-device failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, userId int, title, body string) error {
	subs, err := d.store.ListPushSubscriptions(userId)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}

	for _, sub := range subs {
		var desc Descriptor
		if err := json.Unmarshal(sub.Descriptor, &desc); err != nil || desc.FcmToken == "" {
			d.log.Printf("skipping push subscription %d: unreadable descriptor", sub.Id)
			continue
		}

		if err := d.sender.Send(ctx, desc.FcmToken, title, body); err != nil {
			d.log.Printf("push to user %d device %q failed: %v", userId, sub.DeviceId, err)
			if errors.Is(err, gobreaker.ErrOpenState) {
				// the remaining devices would fail the same way
				return nil
			}
		}
	}

	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrUnregistered) || errors.Is(err, ErrInvalidDescriptor)
}

var _ chat.Notifier = (*Dispatcher)(nil)

package chat

import (
	"context"
	"log"

	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/types"
)

// Emitter publishes an event to every session subscribed to channel.
// Delivery is best effort.
type Emitter interface {
	Emit(channel, event string, payload any)
}

// Unsubscriber is implemented by emitters that can detach a user's sessions
// from a channel, such as when the user leaves a chatroom.
type Unsubscriber interface {
	UnsubscribeUser(userId int, channel string)
}

// Notifier delivers a push notification to all devices registered by a user.
type Notifier interface {
	Notify(ctx context.Context, userId int, title, body string) error
}

type Service struct {
	log      *log.Logger
	db       database.Repository
	emitter  Emitter
	notifier Notifier
	tasks    Runner
	appName  string
}

type ServiceOption func(*Service)

// WithAppName sets the title used for reaction notifications.
func WithAppName(name string) ServiceOption {
	return func(s *Service) {
		s.appName = name
	}
}

func NewService(logger *log.Logger, db database.Repository, emitter Emitter, notifier Notifier, tasks Runner, opts ...ServiceOption) *Service {
	s := &Service{
		log:      logger,
		db:       db,
		emitter:  emitter,
		notifier: notifier,
		tasks:    tasks,
		appName:  "WOTG Community",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func toUser(u database.User) types.User {
	return types.User{
		Id:             u.Id,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		Email:          u.EmailAddress,
		Role:           u.Role,
	}
}

func toChatroom(c database.Chatroom) types.Chatroom {
	return types.Chatroom{
		Id:        c.Id,
		Name:      c.Name,
		Type:      c.Type,
		Photo:     c.Photo,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toParticipant(p database.Participant) types.Participant {
	return types.Participant{
		Id:          p.Id,
		ChatroomId:  p.ChatroomId,
		UserId:      p.UserId,
		DisplayName: p.DisplayName,
		JoinedAt:    p.JoinedAt,
		User:        toUser(p.User),
	}
}

func toMessage(m database.Message) types.Message {
	sender := toUser(m.Sender)
	return types.Message{
		Id:         m.Id,
		ChatroomId: m.ChatroomId,
		SenderId:   m.SenderId,
		Content:    m.Content,
		FileUrl:    m.FileUrl,
		CreatedAt:  m.CreatedAt,
		Sender:     &sender,
	}
}

func toReaction(r database.Reaction) types.Reaction {
	user := toUser(r.User)
	return types.Reaction{
		Id:        r.Id,
		MessageId: r.MessageId,
		UserId:    r.UserId,
		React:     r.React,
		CreatedAt: r.CreatedAt,
		User:      &user,
	}
}

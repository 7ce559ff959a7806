package database

import (
	"errors"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

type Repository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(id int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetAccountsByIds(ids []int) ([]User, error)

	CreateChatroom(params CreateChatroomParams) (Chatroom, []Participant, error)
	GetChatroom(id int) (Chatroom, error)
	UpdateChatroom(params UpdateChatroomParams) (Chatroom, error)
	FindPrivateChatroom(privateKey string) (Chatroom, error)
	ListChatroomsForUser(userId int) ([]Chatroom, error)

	ListParticipants(chatroomIds ...int) ([]Participant, error)
	ParticipantExists(chatroomId, userId int) (bool, error)
	AddParticipants(chatroomId int, userIds []int) ([]Participant, error)
	DeleteParticipant(chatroomId, userId int) error

	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(id int) (Message, error)
	ListMessages(params ListMessagesParams) ([]Message, error)
	LatestMessages(chatroomIds []int) (map[int]Message, error)

	CreateReadStatuses(messageId int, userIds []int) error
	MarkChatroomRead(chatroomId, userId int) ([]int, error)
	CountUnread(chatroomId, userId int) (int, error)
	CountUnreadByChatroom(userId int) (map[int]int, error)

	UpsertReaction(params UpsertReactionParams) (Reaction, error)
	ListReactions(messageIds []int) ([]Reaction, error)

	UpsertPushSubscription(params UpsertPushSubscriptionParams) (PushSubscription, error)
	ListPushSubscriptions(userId int) ([]PushSubscription, error)
}

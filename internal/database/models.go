package database

import (
	"encoding/json"
	"time"
)

type User struct {
	Id             int
	EmailAddress   string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           string
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Chatroom struct {
	Id        int
	Name      string
	Type      string
	Photo     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Participant struct {
	Id          int
	ChatroomId  int
	UserId      int
	DisplayName string
	JoinedAt    time.Time
	User        User
}

type Message struct {
	Id         int
	ChatroomId int
	SenderId   int
	Content    string
	FileUrl    string
	CreatedAt  time.Time
	Sender     User
}

type Reaction struct {
	Id        int
	MessageId int
	UserId    int
	React     string
	CreatedAt time.Time
	User      User
}

type PushSubscription struct {
	Id         int
	UserId     int
	DeviceId   string
	Descriptor json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateAccountParams struct {
	EmailAddress   string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           string
	ProfilePicture string
}

type CreateChatroomParams struct {
	Name  string
	Type  string
	Photo string
	// PrivateKey is set for private rooms only and is unique across chatrooms.
	PrivateKey string
	UserIds    []int
}

type UpdateChatroomParams struct {
	Id    int
	Name  *string
	Photo *string
}

type CreateMessageParams struct {
	ChatroomId int
	SenderId   int
	Content    string
	FileUrl    string
}

type ListMessagesParams struct {
	ChatroomId int
	// Before excludes messages with an id >= Before when > 0.
	Before int
	// Limit caps the number of messages returned when > 0.
	Limit int
}

type UpsertReactionParams struct {
	MessageId int
	UserId    int
	React     string
}

type UpsertPushSubscriptionParams struct {
	UserId     int
	DeviceId   string
	Descriptor json.RawMessage
}

package types

import (
	"time"
)

const (
	ChatroomPrivate = "private"
	ChatroomGroup   = "group"
)

type User struct {
	Id             int    `json:"id"`
	FirstName      string `json:"user_fname"`
	LastName       string `json:"user_lname"`
	ProfilePicture string `json:"user_profile_picture,omitempty"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"user_role,omitempty"`
}

// FullName returns the user's first and last name separated by a space.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Chatroom struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Photo     string    `json:"chatroom_photo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Participant struct {
	Id          int       `json:"id"`
	ChatroomId  int       `json:"chatroom_id"`
	UserId      int       `json:"user_id"`
	DisplayName string    `json:"user_name,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	User        User      `json:"user"`
}

type Message struct {
	Id         int        `json:"id"`
	ChatroomId int        `json:"chatroom_id"`
	SenderId   int        `json:"sender_id"`
	Content    string     `json:"content"`
	FileUrl    string     `json:"file_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Sender     *User      `json:"sender,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
}

type Reaction struct {
	Id        int       `json:"id"`
	MessageId int       `json:"message_id"`
	UserId    int       `json:"user_id"`
	React     string    `json:"react"`
	CreatedAt time.Time `json:"created_at"`
	User      *User     `json:"user,omitempty"`
}

// ChatroomSummary is a chatroom as seen by one requesting user.
type ChatroomSummary struct {
	Chatroom
	Participants  []Participant `json:"participants"`
	RecentMessage *Message      `json:"recent_message"`
	UnreadCount   int           `json:"unread_count"`
	HasUnread     bool          `json:"has_unread"`
}

type ChatroomDetail struct {
	Chatroom
	Participants []Participant `json:"participants"`
}

type MessageList struct {
	Chatroom ChatroomDetail `json:"chatroom"`
	Messages []Message      `json:"messages"`
}

type PushSubscription struct {
	Id        int       `json:"id"`
	UserId    int       `json:"user_id"`
	DeviceId  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

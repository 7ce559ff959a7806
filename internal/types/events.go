package types

import "strconv"

// Event names emitted through the hub.
const (
	EventNewChatroom        = "new_chatroom"
	EventNewMessage         = "new_message"
	EventMessageRead        = "message_read"
	EventUnreadUpdate       = "unread_update"
	EventNewMessageReaction = "new_message_reaction"
	EventParticipantsAdded  = "participants_added"
	EventParticipantLeft    = "participant_left"
	EventChatroomUpdated    = "chatroom_updated"
	EventStreamStatus       = "stream_status"
	EventStreamStarted      = "stream_started"
)

const GlobalChannel = "global"

func ChatroomChannel(chatroomId int) string {
	return "chatroom:" + strconv.Itoa(chatroomId)
}

func UserChannel(userId int) string {
	return "user:" + strconv.Itoa(userId)
}

type NewChatroomEvent struct {
	Chatroom     Chatroom      `json:"chatroom"`
	Participants []Participant `json:"participants"`
}

type MessageReadEvent struct {
	UserId     int   `json:"user_id"`
	ChatroomId int   `json:"chatroom_id"`
	MessageIds []int `json:"message_ids"`
}

type UnreadUpdateEvent struct {
	ChatroomId  int `json:"chatroom_id"`
	UnreadCount int `json:"unread_count"`
}

type ParticipantLeftEvent struct {
	ChatroomId int `json:"chatroom_id"`
	UserId     int `json:"user_id"`
}

type StreamStatusEvent struct {
	Status string `json:"status"`
}

type StreamStartedEvent struct {
	ProducerId string `json:"producer_id"`
}

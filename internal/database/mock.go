package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountsByIds(ids []int) ([]User, error) {
	args := m.Called(ids)
	users, _ := args.Get(0).([]User)
	return users, args.Error(1)
}
func (m *MockRepository) CreateChatroom(params CreateChatroomParams) (Chatroom, []Participant, error) {
	args := m.Called(params)
	participants, _ := args.Get(1).([]Participant)
	return args.Get(0).(Chatroom), participants, args.Error(2)
}
func (m *MockRepository) GetChatroom(id int) (Chatroom, error) {
	args := m.Called(id)
	return args.Get(0).(Chatroom), args.Error(1)
}
func (m *MockRepository) UpdateChatroom(params UpdateChatroomParams) (Chatroom, error) {
	args := m.Called(params)
	return args.Get(0).(Chatroom), args.Error(1)
}
func (m *MockRepository) FindPrivateChatroom(privateKey string) (Chatroom, error) {
	args := m.Called(privateKey)
	return args.Get(0).(Chatroom), args.Error(1)
}
func (m *MockRepository) ListChatroomsForUser(userId int) ([]Chatroom, error) {
	args := m.Called(userId)
	rooms, _ := args.Get(0).([]Chatroom)
	return rooms, args.Error(1)
}
func (m *MockRepository) ListParticipants(chatroomIds ...int) ([]Participant, error) {
	args := m.Called(chatroomIds)
	participants, _ := args.Get(0).([]Participant)
	return participants, args.Error(1)
}
func (m *MockRepository) ParticipantExists(chatroomId, userId int) (bool, error) {
	args := m.Called(chatroomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) AddParticipants(chatroomId int, userIds []int) ([]Participant, error) {
	args := m.Called(chatroomId, userIds)
	participants, _ := args.Get(0).([]Participant)
	return participants, args.Error(1)
}
func (m *MockRepository) DeleteParticipant(chatroomId, userId int) error {
	args := m.Called(chatroomId, userId)
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessage(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessages(params ListMessagesParams) ([]Message, error) {
	args := m.Called(params)
	messages, _ := args.Get(0).([]Message)
	return messages, args.Error(1)
}
func (m *MockRepository) LatestMessages(chatroomIds []int) (map[int]Message, error) {
	args := m.Called(chatroomIds)
	latest, _ := args.Get(0).(map[int]Message)
	return latest, args.Error(1)
}
func (m *MockRepository) CreateReadStatuses(messageId int, userIds []int) error {
	args := m.Called(messageId, userIds)
	return args.Error(0)
}
func (m *MockRepository) MarkChatroomRead(chatroomId, userId int) ([]int, error) {
	args := m.Called(chatroomId, userId)
	ids, _ := args.Get(0).([]int)
	return ids, args.Error(1)
}
func (m *MockRepository) CountUnread(chatroomId, userId int) (int, error) {
	args := m.Called(chatroomId, userId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) CountUnreadByChatroom(userId int) (map[int]int, error) {
	args := m.Called(userId)
	counts, _ := args.Get(0).(map[int]int)
	return counts, args.Error(1)
}
func (m *MockRepository) UpsertReaction(params UpsertReactionParams) (Reaction, error) {
	args := m.Called(params)
	return args.Get(0).(Reaction), args.Error(1)
}
func (m *MockRepository) ListReactions(messageIds []int) ([]Reaction, error) {
	args := m.Called(messageIds)
	reactions, _ := args.Get(0).([]Reaction)
	return reactions, args.Error(1)
}
func (m *MockRepository) UpsertPushSubscription(params UpsertPushSubscriptionParams) (PushSubscription, error) {
	args := m.Called(params)
	return args.Get(0).(PushSubscription), args.Error(1)
}
func (m *MockRepository) ListPushSubscriptions(userId int) ([]PushSubscription, error) {
	args := m.Called(userId)
	subs, _ := args.Get(0).([]PushSubscription)
	return subs, args.Error(1)
}

var _ Repository = (*MockRepository)(nil)

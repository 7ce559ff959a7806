package testutil

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-community/internal/database"
)

// MemoryRepository is an in-process database.Repository for scenario tests.
// It enforces the same uniqueness rules as the Postgres schema.
type MemoryRepository struct {
	mu sync.Mutex

	nextId       int
	clock        time.Time
	users        map[int]database.User
	chatrooms    map[int]database.Chatroom
	privateKeys  map[string]int
	participants []database.Participant
	messages     []database.Message
	statuses     []readStatus
	reactions    []database.Reaction
	pushSubs     []database.PushSubscription

	// CreateMessageErr, when set, fails every CreateMessage call.
	CreateMessageErr error
}

type readStatus struct {
	MessageId int
	UserId    int
	Read      bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		users:       make(map[int]database.User),
		chatrooms:   make(map[int]database.Chatroom),
		privateKeys: make(map[string]int),
	}
}

// now returns a strictly increasing timestamp so ordering is deterministic.
func (r *MemoryRepository) now() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *MemoryRepository) id() int {
	r.nextId++
	return r.nextId
}

// AddUser seeds an account and returns it.
func (r *MemoryRepository) AddUser(first, last string) database.User {
	u, _ := r.CreateAccount(database.CreateAccountParams{
		EmailAddress: first + "." + last + "@example.com",
		FirstName:    first,
		LastName:     last,
		Role:         "member",
	})
	return u
}

// ReadStatuses returns (userId, read) pairs recorded for a message.
func (r *MemoryRepository) ReadStatuses(messageId int) map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int]bool)
	for _, s := range r.statuses {
		if s.MessageId == messageId {
			out[s.UserId] = s.Read
		}
	}
	return out
}

// ReactionCount returns the number of stored reactions on a message.
func (r *MemoryRepository) ReactionCount(messageId int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, re := range r.reactions {
		if re.MessageId == messageId {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) Ping() error { return nil }

func (r *MemoryRepository) CreateAccount(params database.CreateAccountParams) (database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.EmailAddress == params.EmailAddress {
			return database.User{}, database.ErrDuplicate
		}
	}

	now := r.now()
	u := database.User{
		Id:             r.id(),
		EmailAddress:   params.EmailAddress,
		PasswordHash:   params.PasswordHash,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		Role:           params.Role,
		ProfilePicture: params.ProfilePicture,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.users[u.Id] = u
	return u, nil
}

func (r *MemoryRepository) GetAccountById(id int) (database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return database.User{}, database.ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) GetAccountByEmail(email string) (database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.EmailAddress == email {
			return u, nil
		}
	}
	return database.User{}, database.ErrNotFound
}

func (r *MemoryRepository) GetAccountsByIds(ids []int) ([]database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []database.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	slices.SortFunc(users, func(a, b database.User) int { return cmp.Compare(a.Id, b.Id) })
	return users, nil
}

func (r *MemoryRepository) CreateChatroom(params database.CreateChatroomParams) (database.Chatroom, []database.Participant, error) {
	r.mu.Lock()

	if params.PrivateKey != "" {
		if _, ok := r.privateKeys[params.PrivateKey]; ok {
			r.mu.Unlock()
			return database.Chatroom{}, nil, database.ErrDuplicate
		}
	}

	now := r.now()
	room := database.Chatroom{
		Id:        r.id(),
		Name:      params.Name,
		Type:      params.Type,
		Photo:     params.Photo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.chatrooms[room.Id] = room
	if params.PrivateKey != "" {
		r.privateKeys[params.PrivateKey] = room.Id
	}
	r.mu.Unlock()

	if _, err := r.AddParticipants(room.Id, params.UserIds); err != nil {
		return database.Chatroom{}, nil, err
	}

	participants, err := r.ListParticipants(room.Id)
	return room, participants, err
}

func (r *MemoryRepository) GetChatroom(id int) (database.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.chatrooms[id]
	if !ok {
		return database.Chatroom{}, database.ErrNotFound
	}
	return room, nil
}

func (r *MemoryRepository) UpdateChatroom(params database.UpdateChatroomParams) (database.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.chatrooms[params.Id]
	if !ok {
		return database.Chatroom{}, database.ErrNotFound
	}
	if params.Name != nil {
		room.Name = *params.Name
	}
	if params.Photo != nil {
		room.Photo = *params.Photo
	}
	room.UpdatedAt = r.now()
	r.chatrooms[room.Id] = room
	return room, nil
}

func (r *MemoryRepository) FindPrivateChatroom(privateKey string) (database.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.privateKeys[privateKey]
	if !ok {
		return database.Chatroom{}, database.ErrNotFound
	}
	return r.chatrooms[id], nil
}

func (r *MemoryRepository) ListChatroomsForUser(userId int) ([]database.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rooms []database.Chatroom
	for _, p := range r.participants {
		if p.UserId == userId {
			rooms = append(rooms, r.chatrooms[p.ChatroomId])
		}
	}
	slices.SortFunc(rooms, func(a, b database.Chatroom) int { return cmp.Compare(a.Id, b.Id) })
	return rooms, nil
}

func (r *MemoryRepository) ListParticipants(chatroomIds ...int) ([]database.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := make([]database.Participant, 0)
	for _, p := range r.participants {
		if slices.Contains(chatroomIds, p.ChatroomId) {
			p.User = r.users[p.UserId]
			participants = append(participants, p)
		}
	}
	return participants, nil
}

func (r *MemoryRepository) ParticipantExists(chatroomId, userId int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.ContainsFunc(r.participants, func(p database.Participant) bool {
		return p.ChatroomId == chatroomId && p.UserId == userId
	}), nil
}

func (r *MemoryRepository) AddParticipants(chatroomId int, userIds []int) ([]database.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chatrooms[chatroomId]; !ok {
		return nil, database.ErrNotFound
	}

	var added []database.Participant
	for _, userId := range userIds {
		exists := slices.ContainsFunc(r.participants, func(p database.Participant) bool {
			return p.ChatroomId == chatroomId && p.UserId == userId
		})
		if exists {
			continue
		}

		p := database.Participant{
			Id:         r.id(),
			ChatroomId: chatroomId,
			UserId:     userId,
			JoinedAt:   r.now(),
		}
		r.participants = append(r.participants, p)
		p.User = r.users[userId]
		added = append(added, p)
	}
	return added, nil
}

func (r *MemoryRepository) DeleteParticipant(chatroomId, userId int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.participants)
	r.participants = slices.DeleteFunc(r.participants, func(p database.Participant) bool {
		return p.ChatroomId == chatroomId && p.UserId == userId
	})
	if len(r.participants) == before {
		return database.ErrNotFound
	}
	return nil
}

func (r *MemoryRepository) CreateMessage(params database.CreateMessageParams) (database.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateMessageErr != nil {
		return database.Message{}, r.CreateMessageErr
	}

	msg := database.Message{
		Id:         r.id(),
		ChatroomId: params.ChatroomId,
		SenderId:   params.SenderId,
		Content:    params.Content,
		FileUrl:    params.FileUrl,
		CreatedAt:  r.now(),
	}
	r.messages = append(r.messages, msg)
	msg.Sender = r.users[msg.SenderId]
	return msg, nil
}

func (r *MemoryRepository) GetMessage(id int) (database.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.messages {
		if m.Id == id {
			m.Sender = r.users[m.SenderId]
			return m, nil
		}
	}
	return database.Message{}, database.ErrNotFound
}

func (r *MemoryRepository) ListMessages(params database.ListMessagesParams) ([]database.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]database.Message, 0)
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.ChatroomId != params.ChatroomId {
			continue
		}
		if params.Before > 0 && m.Id >= params.Before {
			continue
		}
		m.Sender = r.users[m.SenderId]
		messages = append(messages, m)
		if params.Limit > 0 && len(messages) == params.Limit {
			break
		}
	}
	return messages, nil
}

func (r *MemoryRepository) LatestMessages(chatroomIds []int) (map[int]database.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	latest := make(map[int]database.Message)
	for _, m := range r.messages {
		if slices.Contains(chatroomIds, m.ChatroomId) {
			m.Sender = r.users[m.SenderId]
			latest[m.ChatroomId] = m
		}
	}
	return latest, nil
}

func (r *MemoryRepository) CreateReadStatuses(messageId int, userIds []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, userId := range userIds {
		exists := slices.ContainsFunc(r.statuses, func(s readStatus) bool {
			return s.MessageId == messageId && s.UserId == userId
		})
		if !exists {
			r.statuses = append(r.statuses, readStatus{MessageId: messageId, UserId: userId})
		}
	}
	return nil
}

func (r *MemoryRepository) messageById(id int) (database.Message, bool) {
	for _, m := range r.messages {
		if m.Id == id {
			return m, true
		}
	}
	return database.Message{}, false
}

func (r *MemoryRepository) MarkChatroomRead(chatroomId, userId int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int
	for i, s := range r.statuses {
		if s.UserId != userId || s.Read {
			continue
		}
		m, ok := r.messageById(s.MessageId)
		if !ok || m.ChatroomId != chatroomId || m.SenderId == userId {
			continue
		}
		r.statuses[i].Read = true
		ids = append(ids, s.MessageId)
	}
	return ids, nil
}

func (r *MemoryRepository) CountUnread(chatroomId, userId int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.statuses {
		if s.UserId != userId || s.Read {
			continue
		}
		if m, ok := r.messageById(s.MessageId); ok && m.ChatroomId == chatroomId {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountUnreadByChatroom(userId int) (map[int]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[int]int)
	for _, s := range r.statuses {
		if s.UserId != userId || s.Read {
			continue
		}
		if m, ok := r.messageById(s.MessageId); ok {
			counts[m.ChatroomId]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) UpsertReaction(params database.UpsertReactionParams) (database.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, re := range r.reactions {
		if re.MessageId == params.MessageId && re.UserId == params.UserId {
			r.reactions[i].React = params.React
			r.reactions[i].CreatedAt = r.now()
			out := r.reactions[i]
			out.User = r.users[out.UserId]
			return out, nil
		}
	}

	re := database.Reaction{
		Id:        r.id(),
		MessageId: params.MessageId,
		UserId:    params.UserId,
		React:     params.React,
		CreatedAt: r.now(),
	}
	r.reactions = append(r.reactions, re)
	re.User = r.users[re.UserId]
	return re, nil
}

func (r *MemoryRepository) ListReactions(messageIds []int) ([]database.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reactions []database.Reaction
	for _, re := range r.reactions {
		if slices.Contains(messageIds, re.MessageId) {
			re.User = r.users[re.UserId]
			reactions = append(reactions, re)
		}
	}
	return reactions, nil
}

func (r *MemoryRepository) UpsertPushSubscription(params database.UpsertPushSubscriptionParams) (database.PushSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for i, s := range r.pushSubs {
		if s.UserId == params.UserId && s.DeviceId == params.DeviceId {
			r.pushSubs[i].Descriptor = params.Descriptor
			r.pushSubs[i].UpdatedAt = now
			return r.pushSubs[i], nil
		}
	}

	sub := database.PushSubscription{
		Id:         r.id(),
		UserId:     params.UserId,
		DeviceId:   params.DeviceId,
		Descriptor: params.Descriptor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.pushSubs = append(r.pushSubs, sub)
	return sub, nil
}

func (r *MemoryRepository) ListPushSubscriptions(userId int) ([]database.PushSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var subs []database.PushSubscription
	for _, s := range r.pushSubs {
		if s.UserId == userId {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

var _ database.Repository = (*MemoryRepository)(nil)

package chat

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/types"
	"github.com/samber/lo"
)

// ListChatrooms returns every chatroom the user belongs to, optionally
// filtered by a case-insensitive search on the room name or any participant's
// full name.
func (s *Service) ListChatrooms(userId int, search string) ([]types.ChatroomSummary, error) {
	rooms, err := s.db.ListChatroomsForUser(userId)
	if err != nil {
		return nil, dependencyError("failed to list chatrooms", err)
	}

	summaries := make([]types.ChatroomSummary, 0, len(rooms))
	if len(rooms) == 0 {
		return summaries, nil
	}

	ids := lo.Map(rooms, func(c database.Chatroom, _ int) int { return c.Id })

	participants, err := s.db.ListParticipants(ids...)
	if err != nil {
		return nil, dependencyError("failed to list participants", err)
	}
	byRoom := lo.GroupBy(participants, func(p database.Participant) int { return p.ChatroomId })

	latest, err := s.db.LatestMessages(ids)
	if err != nil {
		return nil, dependencyError("failed to load recent messages", err)
	}

	unread, err := s.db.CountUnreadByChatroom(userId)
	if err != nil {
		return nil, dependencyError("failed to count unread messages", err)
	}

	for _, room := range rooms {
		summary := types.ChatroomSummary{
			Chatroom: toChatroom(room),
			Participants: lo.Map(byRoom[room.Id], func(p database.Participant, _ int) types.Participant {
				return toParticipant(p)
			}),
			UnreadCount: unread[room.Id],
		}
		summary.HasUnread = summary.UnreadCount > 0

		if m, ok := latest[room.Id]; ok {
			msg := toMessage(m)
			summary.RecentMessage = &msg
		}

		summaries = append(summaries, summary)
	}

	search = strings.ToLower(strings.TrimSpace(search))
	if search != "" {
		summaries = lo.Filter(summaries, func(c types.ChatroomSummary, _ int) bool {
			return matchesSearch(c, search)
		})
	}

	slices.SortStableFunc(summaries, func(a, b types.ChatroomSummary) int {
		if search != "" && a.Type != b.Type {
			if a.Type == types.ChatroomPrivate {
				return -1
			}
			if b.Type == types.ChatroomPrivate {
				return 1
			}
		}
		return compareRecency(a, b)
	})

	return summaries, nil
}

func matchesSearch(c types.ChatroomSummary, search string) bool {
	if strings.Contains(strings.ToLower(c.Name), search) {
		return true
	}

	return lo.SomeBy(c.Participants, func(p types.Participant) bool {
		return strings.Contains(strings.ToLower(p.User.FullName()), search)
	})
}

// compareRecency orders rooms by most recent message first. Rooms without
// messages sort last; ties fall back to the higher chatroom id.
func compareRecency(a, b types.ChatroomSummary) int {
	switch {
	case a.RecentMessage != nil && b.RecentMessage == nil:
		return -1
	case a.RecentMessage == nil && b.RecentMessage != nil:
		return 1
	case a.RecentMessage != nil && b.RecentMessage != nil:
		if c := b.RecentMessage.CreatedAt.Compare(a.RecentMessage.CreatedAt); c != 0 {
			return c
		}
	}

	return cmp.Compare(b.Id, a.Id)
}

type CreateChatroomParams struct {
	CreatorId      int
	Name           string
	Photo          string
	ParticipantIds []int
}

// CreateChatroom creates a private chatroom for exactly two distinct users or
// a named group chatroom for more. Membership is the participant list as
// supplied, duplicates removed; the creator is not added implicitly.
func (s *Service) CreateChatroom(params CreateChatroomParams) (types.ChatroomSummary, error) {
	userIds := lo.Filter(lo.Uniq(params.ParticipantIds), func(id int, _ int) bool { return id > 0 })
	if len(userIds) < 2 {
		return types.ChatroomSummary{}, validationError("at least two distinct participants are required")
	}

	name := strings.TrimSpace(params.Name)
	roomType := types.ChatroomGroup
	if len(userIds) == 2 {
		roomType = types.ChatroomPrivate
	} else if name == "" {
		return types.ChatroomSummary{}, validationError("group chatrooms require a name")
	}

	users, err := s.db.GetAccountsByIds(userIds)
	if err != nil {
		return types.ChatroomSummary{}, dependencyError("failed to look up users", err)
	}
	if len(users) != len(userIds) {
		found := lo.Map(users, func(u database.User, _ int) int { return u.Id })
		missing, _ := lo.Difference(userIds, found)
		return types.ChatroomSummary{}, notFoundError(fmt.Sprintf("users not found: %v", missing))
	}

	var privateKey string
	if roomType == types.ChatroomPrivate {
		privateKey = PrivateKey(userIds[0], userIds[1])
		if _, err := s.db.FindPrivateChatroom(privateKey); err == nil {
			return types.ChatroomSummary{}, conflictError("room already exists")
		} else if !errors.Is(err, database.ErrNotFound) {
			return types.ChatroomSummary{}, dependencyError("failed to look up chatroom", err)
		}

		if name == "" {
			name = strings.Join(lo.Map(users, func(u database.User, _ int) string {
				return toUser(u).FullName()
			}), ", ")
		}
	}

	room, participants, err := s.db.CreateChatroom(database.CreateChatroomParams{
		Name:       name,
		Type:       roomType,
		Photo:      params.Photo,
		PrivateKey: privateKey,
		UserIds:    userIds,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return types.ChatroomSummary{}, conflictError("room already exists")
		}
		return types.ChatroomSummary{}, dependencyError("failed to create chatroom", err)
	}

	summary := types.ChatroomSummary{
		Chatroom: toChatroom(room),
		Participants: lo.Map(participants, func(p database.Participant, _ int) types.Participant {
			return toParticipant(p)
		}),
	}

	s.emitter.Emit(types.GlobalChannel, types.EventNewChatroom, types.NewChatroomEvent{
		Chatroom:     summary.Chatroom,
		Participants: summary.Participants,
	})

	return summary, nil
}

// PrivateKey identifies the private chatroom between two users regardless of
// argument order.
func PrivateKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

type UpdateChatroomParams struct {
	ChatroomId int
	Name       *string
	Photo      *string
}

// UpdateChatroom changes the name and/or photo of a chatroom the user belongs to.
func (s *Service) UpdateChatroom(userId int, params UpdateChatroomParams) (types.Chatroom, error) {
	if params.Name == nil && params.Photo == nil {
		return types.Chatroom{}, validationError("nothing to update")
	}
	if params.Name != nil {
		trimmed := strings.TrimSpace(*params.Name)
		if trimmed == "" {
			return types.Chatroom{}, validationError("name cannot be empty")
		}
		params.Name = &trimmed
	}

	if err := s.requireParticipant(params.ChatroomId, userId); err != nil {
		return types.Chatroom{}, err
	}

	row, err := s.db.UpdateChatroom(database.UpdateChatroomParams{
		Id:    params.ChatroomId,
		Name:  params.Name,
		Photo: params.Photo,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Chatroom{}, notFoundError("chatroom not found")
		}
		return types.Chatroom{}, dependencyError("failed to update chatroom", err)
	}

	room := toChatroom(row)
	s.emitter.Emit(types.ChatroomChannel(room.Id), types.EventChatroomUpdated, room)

	return room, nil
}

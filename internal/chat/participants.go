package chat

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/types"
	"github.com/samber/lo"
)

// IsParticipant reports whether userId is a member of chatroomId.
func (s *Service) IsParticipant(chatroomId, userId int) (bool, error) {
	ok, err := s.db.ParticipantExists(chatroomId, userId)
	if err != nil {
		return false, dependencyError("failed to check membership", err)
	}
	return ok, nil
}

func (s *Service) requireParticipant(chatroomId, userId int) error {
	ok, err := s.IsParticipant(chatroomId, userId)
	if err != nil {
		return err
	}
	if !ok {
		return authorizationError("you are not a participant of this chatroom")
	}
	return nil
}

// ParticipantIds returns the user ids of every current member of the chatroom.
func (s *Service) ParticipantIds(chatroomId int) ([]int, error) {
	participants, err := s.db.ListParticipants(chatroomId)
	if err != nil {
		return nil, dependencyError("failed to list participants", err)
	}

	return lo.Map(participants, func(p database.Participant, _ int) int {
		return p.UserId
	}), nil
}

// InviteParticipants adds users to a group chatroom on behalf of an existing
// member. Users already in the room are skipped.
func (s *Service) InviteParticipants(requesterId, chatroomId int, userIds []int) ([]types.Participant, error) {
	userIds = lo.Uniq(userIds)
	if len(userIds) == 0 {
		return nil, validationError("at least one participant is required")
	}

	if err := s.requireParticipant(chatroomId, requesterId); err != nil {
		return nil, err
	}

	room, err := s.db.GetChatroom(chatroomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFoundError("chatroom not found")
		}
		return nil, dependencyError("failed to get chatroom", err)
	}

	if room.Type != types.ChatroomGroup {
		return nil, validationError("participants can only be added to group chatrooms")
	}

	if err := s.ensureUsersExist(userIds); err != nil {
		return nil, err
	}

	added, err := s.db.AddParticipants(chatroomId, userIds)
	if err != nil {
		return nil, dependencyError("failed to add participants", err)
	}

	result := lo.Map(added, func(p database.Participant, _ int) types.Participant {
		return toParticipant(p)
	})

	if len(result) > 0 {
		s.emitter.Emit(types.ChatroomChannel(chatroomId), types.EventParticipantsAdded, result)

		event := types.NewChatroomEvent{Chatroom: toChatroom(room), Participants: result}
		for _, p := range result {
			s.emitter.Emit(types.UserChannel(p.UserId), types.EventNewChatroom, event)
		}
	}

	return result, nil
}

// LeaveChatroom removes the user from a group chatroom. Private chatrooms
// always keep both members.
func (s *Service) LeaveChatroom(userId, chatroomId int) error {
	if err := s.requireParticipant(chatroomId, userId); err != nil {
		return err
	}

	room, err := s.db.GetChatroom(chatroomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return notFoundError("chatroom not found")
		}
		return dependencyError("failed to get chatroom", err)
	}

	if room.Type != types.ChatroomGroup {
		return validationError("cannot leave a private chatroom")
	}

	if err := s.db.DeleteParticipant(chatroomId, userId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return authorizationError("you are not a participant of this chatroom")
		}
		return dependencyError("failed to remove participant", err)
	}

	channel := types.ChatroomChannel(chatroomId)
	s.emitter.Emit(channel, types.EventParticipantLeft, types.ParticipantLeftEvent{
		ChatroomId: chatroomId,
		UserId:     userId,
	})
	if u, ok := s.emitter.(Unsubscriber); ok {
		u.UnsubscribeUser(userId, channel)
	}

	return nil
}

func (s *Service) ensureUsersExist(userIds []int) error {
	users, err := s.db.GetAccountsByIds(userIds)
	if err != nil {
		return dependencyError("failed to look up users", err)
	}

	found := lo.SliceToMap(users, func(u database.User) (int, struct{}) {
		return u.Id, struct{}{}
	})

	missing := lo.Filter(userIds, func(id int, _ int) bool {
		_, ok := found[id]
		return !ok
	})
	if len(missing) > 0 {
		return notFoundError(fmt.Sprintf("users not found: %v", missing))
	}

	return nil
}

package chat

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-community/internal/types"
)

// UnreadCount is the number of unread statuses the user holds on messages of
// the chatroom.
func (s *Service) UnreadCount(chatroomId, userId int) (int, error) {
	count, err := s.db.CountUnread(chatroomId, userId)
	if err != nil {
		return 0, dependencyError("failed to count unread messages", err)
	}
	return count, nil
}

func (s *Service) markChatroomRead(chatroomId, userId int) ([]int, error) {
	ids, err := s.db.MarkChatroomRead(chatroomId, userId)
	if err != nil {
		return nil, dependencyError("failed to mark messages read", err)
	}
	return ids, nil
}

// publishUnread schedules a recomputation of each user's unread count for the
// chatroom, one task per user.
func (s *Service) publishUnread(chatroomId int, userIds []int) {
	for _, userId := range userIds {
		s.tasks.Go(fmt.Sprintf("unread_update chatroom=%d user=%d", chatroomId, userId), func(ctx context.Context) error {
			return s.emitUnread(chatroomId, userId)
		})
	}
}

func (s *Service) emitUnread(chatroomId, userId int) error {
	count, err := s.db.CountUnread(chatroomId, userId)
	if err != nil {
		return fmt.Errorf("count unread: %w", err)
	}

	s.emitter.Emit(types.UserChannel(userId), types.EventUnreadUpdate, types.UnreadUpdateEvent{
		ChatroomId:  chatroomId,
		UnreadCount: count,
	})

	return nil
}

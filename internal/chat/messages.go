package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/types"
	"github.com/samber/lo"
)

const MaxPageLimit = 500

var reactionGlyphs = map[string]string{
	"heart":  "❤️",
	"pray":   "🙏",
	"praise": "🙌",
	"clap":   "👏",
}

// ReactionGlyph maps a reaction kind to its emoji. Unknown kinds map to "".
func ReactionGlyph(kind string) string {
	return reactionGlyphs[kind]
}

// Page selects a window of messages. Zero values mean no bound.
type Page struct {
	Before int
	Limit  int
}

// ParsePage validates raw query values for message pagination.
func ParsePage(before, limit string) (Page, error) {
	var p Page
	if before != "" {
		v, err := strconv.Atoi(before)
		if err != nil || v <= 0 {
			return Page{}, validationError("before must be a positive message id")
		}
		p.Before = v
	}

	if limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil || v < 1 || v > MaxPageLimit {
			return Page{}, validationError(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
		}
		p.Limit = v
	}

	return p, nil
}

// ListMessages returns the chatroom with its participants and its messages,
// newest first. Every unread status the requester holds on messages sent by
// others in the room is flipped to read.
func (s *Service) ListMessages(chatroomId, userId int, page Page) (types.MessageList, error) {
	if page.Before < 0 || page.Limit < 0 || page.Limit > MaxPageLimit {
		return types.MessageList{}, validationError("invalid page")
	}

	if err := s.requireParticipant(chatroomId, userId); err != nil {
		return types.MessageList{}, err
	}

	room, err := s.db.GetChatroom(chatroomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.MessageList{}, notFoundError("chatroom not found")
		}
		return types.MessageList{}, dependencyError("failed to get chatroom", err)
	}

	participants, err := s.db.ListParticipants(chatroomId)
	if err != nil {
		return types.MessageList{}, dependencyError("failed to list participants", err)
	}

	rows, err := s.db.ListMessages(database.ListMessagesParams{
		ChatroomId: chatroomId,
		Before:     page.Before,
		Limit:      page.Limit,
	})
	if err != nil {
		return types.MessageList{}, dependencyError("failed to list messages", err)
	}

	messages, err := s.withReactions(rows)
	if err != nil {
		return types.MessageList{}, err
	}

	readIds, err := s.markChatroomRead(chatroomId, userId)
	if err != nil {
		return types.MessageList{}, err
	}

	if len(readIds) > 0 {
		s.emitter.Emit(types.ChatroomChannel(chatroomId), types.EventMessageRead, types.MessageReadEvent{
			UserId:     userId,
			ChatroomId: chatroomId,
			MessageIds: readIds,
		})

		s.publishUnread(chatroomId, lo.Map(participants, func(p database.Participant, _ int) int {
			return p.UserId
		}))
	}

	return types.MessageList{
		Chatroom: types.ChatroomDetail{
			Chatroom: toChatroom(room),
			Participants: lo.Map(participants, func(p database.Participant, _ int) types.Participant {
				return toParticipant(p)
			}),
		},
		Messages: messages,
	}, nil
}

func (s *Service) withReactions(rows []database.Message) ([]types.Message, error) {
	messages := make([]types.Message, 0, len(rows))
	if len(rows) == 0 {
		return messages, nil
	}

	ids := lo.Map(rows, func(m database.Message, _ int) int { return m.Id })
	reactions, err := s.db.ListReactions(ids)
	if err != nil {
		return nil, dependencyError("failed to list reactions", err)
	}

	byMessage := lo.GroupBy(reactions, func(r database.Reaction) int { return r.MessageId })
	for _, row := range rows {
		msg := toMessage(row)
		for _, r := range byMessage[row.Id] {
			msg.Reactions = append(msg.Reactions, toReaction(r))
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

type SendMessageParams struct {
	SenderId   int
	ChatroomId int
	Content    string
	// FileUrl is the public URL of an uploaded attachment. When set it is also
	// stored as the message content.
	FileUrl string
}

// SendMessage persists a message and returns it with the sender's display
// fields. Fan-out to other participants happens asynchronously after the
// message is stored.
func (s *Service) SendMessage(params SendMessageParams) (types.Message, error) {
	content := strings.TrimSpace(params.Content)
	if params.FileUrl != "" {
		content = params.FileUrl
	}
	if content == "" {
		return types.Message{}, validationError("message content or attachment is required")
	}

	if err := s.requireParticipant(params.ChatroomId, params.SenderId); err != nil {
		return types.Message{}, err
	}

	row, err := s.db.CreateMessage(database.CreateMessageParams{
		ChatroomId: params.ChatroomId,
		SenderId:   params.SenderId,
		Content:    content,
		FileUrl:    params.FileUrl,
	})
	if err != nil {
		return types.Message{}, dependencyError("failed to save message", err)
	}

	msg := toMessage(row)
	s.tasks.Go(fmt.Sprintf("fanout message=%d", msg.Id), func(ctx context.Context) error {
		return s.fanOutMessage(ctx, msg)
	})

	return msg, nil
}

func (s *Service) fanOutMessage(ctx context.Context, msg types.Message) error {
	s.emitter.Emit(types.ChatroomChannel(msg.ChatroomId), types.EventNewMessage, msg)

	memberIds, err := s.ParticipantIds(msg.ChatroomId)
	if err != nil {
		return err
	}

	recipients := lo.Without(memberIds, msg.SenderId)
	if len(recipients) == 0 {
		return nil
	}

	if err := s.db.CreateReadStatuses(msg.Id, recipients); err != nil {
		return fmt.Errorf("create read statuses: %w", err)
	}

	s.publishUnread(msg.ChatroomId, recipients)

	title := "New message from " + msg.Sender.FullName()
	body := msg.Content
	if msg.FileUrl != "" {
		body = "Sent an attachment"
	}
	for _, userId := range recipients {
		s.notify(userId, title, body)
	}

	return nil
}

func (s *Service) notify(userId int, title, body string) {
	if s.notifier == nil {
		return
	}

	s.tasks.Go(fmt.Sprintf("push user=%d", userId), func(ctx context.Context) error {
		return s.notifier.Notify(ctx, userId, title, body)
	})
}

// ReactToMessage records the user's reaction to a message sent by someone
// else in a chatroom they belong to. Reacting again replaces the kind.
func (s *Service) ReactToMessage(userId, messageId int, react string) (types.Reaction, error) {
	msg, err := s.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Reaction{}, notFoundError("message not found")
		}
		return types.Reaction{}, dependencyError("failed to get message", err)
	}

	if err := s.requireParticipant(msg.ChatroomId, userId); err != nil {
		return types.Reaction{}, err
	}

	if msg.SenderId == userId {
		return types.Reaction{}, forbiddenError("you cannot react to your own message")
	}

	react = strings.TrimSpace(react)
	if react == "" {
		return types.Reaction{}, validationError("reaction is required")
	}

	row, err := s.db.UpsertReaction(database.UpsertReactionParams{
		MessageId: messageId,
		UserId:    userId,
		React:     react,
	})
	if err != nil {
		return types.Reaction{}, dependencyError("failed to save reaction", err)
	}

	reaction := toReaction(row)
	s.emitter.Emit(types.ChatroomChannel(msg.ChatroomId), types.EventNewMessageReaction, reaction)

	body := fmt.Sprintf("%s reacted %s to your message", reaction.User.FullName(), ReactionGlyph(react))
	s.notify(msg.SenderId, s.appName, body)

	return reaction, nil
}

package database

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	userColumns = "u.id, u.email, u.user_fname, u.user_lname, u.user_role, COALESCE(u.user_profile_picture, '')"

	chatroomColumns = "c.id, COALESCE(c.name, ''), c.type, COALESCE(c.chatroom_photo, ''), c.created_at, c.updated_at"

	participantColumns = "p.id, p.chatroom_id, p.user_id, COALESCE(p.user_name, ''), p.joined_at, " + userColumns

	messageColumns = "m.id, m.chatroom_id, m.sender_id, m.content, COALESCE(m.file_url, ''), m.created_at, " + userColumns

	reactionColumns = "r.id, r.message_id, r.user_id, r.react, r.created_at, " + userColumns

	insertParticipantsQuery = "INSERT INTO participants (chatroom_id, user_id, joined_at) " +
		"SELECT $1, unnest($2::bigint[]), $3 " +
		"ON CONFLICT (chatroom_id, user_id) DO NOTHING RETURNING id"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner, u *User, extra ...any) error {
	dest := append(extra, &u.Id, &u.EmailAddress, &u.FirstName, &u.LastName, &u.Role, &u.ProfilePicture)
	return row.Scan(dest...)
}

func scanChatroom(row scanner) (Chatroom, error) {
	var c Chatroom
	err := row.Scan(&c.Id, &c.Name, &c.Type, &c.Photo, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanParticipant(row scanner) (Participant, error) {
	var p Participant
	err := scanUser(row, &p.User, &p.Id, &p.ChatroomId, &p.UserId, &p.DisplayName, &p.JoinedAt)
	return p, err
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	err := scanUser(row, &m.Sender, &m.Id, &m.ChatroomId, &m.SenderId, &m.Content, &m.FileUrl, &m.CreatedAt)
	return m, err
}

func scanReaction(row scanner) (Reaction, error) {
	var r Reaction
	err := scanUser(row, &r.User, &r.Id, &r.MessageId, &r.UserId, &r.React, &r.CreatedAt)
	return r, err
}

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO users (email, password_hash, user_fname, user_lname, user_role, user_profile_picture, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $7) "+
			"RETURNING id, email, user_fname, user_lname, user_role, COALESCE(user_profile_picture, ''), created_at, updated_at",
		params.EmailAddress,
		params.PasswordHash,
		params.FirstName,
		params.LastName,
		params.Role,
		params.ProfilePicture,
		now,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.ProfilePicture,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, translateErr(err)
}

func (db *PgRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+userColumns+", u.created_at, u.updated_at FROM users u WHERE u.id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(&u.Id, &u.EmailAddress, &u.FirstName, &u.LastName, &u.Role, &u.ProfilePicture, &u.CreatedAt, &u.UpdatedAt)
	return u, translateErr(err)
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+userColumns+", u.password_hash FROM users u WHERE u.email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(&u.Id, &u.EmailAddress, &u.FirstName, &u.LastName, &u.Role, &u.ProfilePicture, &u.PasswordHash)
	return u, translateErr(err)
}

func (db *PgRepository) GetAccountsByIds(ids []int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT "+userColumns+" FROM users u WHERE u.id = ANY($1) ORDER BY u.id",
		intArray(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CreateChatroom inserts the chatroom and all of its participants in a single
// transaction so a room never exists with partial membership.
func (db *PgRepository) CreateChatroom(params CreateChatroomParams) (Chatroom, []Participant, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Chatroom{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	row := tx.QueryRow(
		"INSERT INTO chatrooms (name, type, chatroom_photo, private_key, created_at, updated_at) "+
			"VALUES (NULLIF($1, ''), $2, NULLIF($3, ''), NULLIF($4, ''), $5, $5) "+
			"RETURNING id, COALESCE(name, ''), type, COALESCE(chatroom_photo, ''), created_at, updated_at",
		params.Name,
		params.Type,
		params.Photo,
		params.PrivateKey,
		now,
	)

	var room Chatroom
	room, err = scanChatroom(row)
	if err != nil {
		err = translateErr(err)
		return Chatroom{}, nil, err
	}

	_, err = tx.Exec(insertParticipantsQuery, room.Id, intArray(params.UserIds), now)
	if err != nil {
		err = translateErr(err)
		return Chatroom{}, nil, err
	}

	if err = tx.Commit(); err != nil {
		return Chatroom{}, nil, err
	}

	participants, err := db.ListParticipants(room.Id)
	if err != nil {
		return room, nil, fmt.Errorf("list participants: %w", err)
	}

	return room, participants, nil
}

func (db *PgRepository) GetChatroom(id int) (Chatroom, error) {
	row := db.conn.QueryRow(
		"SELECT "+chatroomColumns+" FROM chatrooms c WHERE c.id = $1 LIMIT 1",
		id,
	)

	room, err := scanChatroom(row)
	return room, translateErr(err)
}

func (db *PgRepository) UpdateChatroom(params UpdateChatroomParams) (Chatroom, error) {
	row := db.conn.QueryRow(
		"UPDATE chatrooms c SET name = COALESCE($2, c.name), chatroom_photo = COALESCE($3, c.chatroom_photo), updated_at = $4 "+
			"WHERE c.id = $1 RETURNING "+chatroomColumns,
		params.Id,
		params.Name,
		params.Photo,
		time.Now().UTC(),
	)

	room, err := scanChatroom(row)
	return room, translateErr(err)
}

func (db *PgRepository) FindPrivateChatroom(privateKey string) (Chatroom, error) {
	row := db.conn.QueryRow(
		"SELECT "+chatroomColumns+" FROM chatrooms c WHERE c.type = 'private' AND c.private_key = $1 LIMIT 1",
		privateKey,
	)

	room, err := scanChatroom(row)
	return room, translateErr(err)
}

func (db *PgRepository) ListChatroomsForUser(userId int) ([]Chatroom, error) {
	rows, err := db.conn.Query(
		"SELECT "+chatroomColumns+" FROM chatrooms c "+
			"JOIN participants p ON p.chatroom_id = c.id WHERE p.user_id = $1 ORDER BY c.id",
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("query chatrooms: %w", err)
	}
	defer rows.Close()

	var rooms []Chatroom
	for rows.Next() {
		room, err := scanChatroom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chatroom: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgRepository) ListParticipants(chatroomIds ...int) ([]Participant, error) {
	rows, err := db.conn.Query(
		"SELECT "+participantColumns+" FROM participants p "+
			"JOIN users u ON u.id = p.user_id WHERE p.chatroom_id = ANY($1) ORDER BY p.chatroom_id, p.id",
		intArray(chatroomIds),
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (db *PgRepository) ParticipantExists(chatroomId, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM participants WHERE chatroom_id = $1 AND user_id = $2)",
		chatroomId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgRepository) AddParticipants(chatroomId int, userIds []int) ([]Participant, error) {
	rows, err := db.conn.Query(insertParticipantsQuery, chatroomId, intArray(userIds), time.Now().UTC())
	if err != nil {
		return nil, translateErr(err)
	}

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := db.ListParticipants(chatroomId)
	if err != nil {
		return nil, err
	}

	added := make([]Participant, 0, len(ids))
	for _, p := range all {
		for _, id := range ids {
			if p.Id == id {
				added = append(added, p)
			}
		}
	}

	return added, nil
}

func (db *PgRepository) DeleteParticipant(chatroomId, userId int) error {
	res, err := db.conn.Exec(
		"DELETE FROM participants WHERE chatroom_id = $1 AND user_id = $2",
		chatroomId,
		userId,
	)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	var id int
	err := db.conn.QueryRow(
		"INSERT INTO messages (chatroom_id, sender_id, content, file_url, created_at) "+
			"VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING id",
		params.ChatroomId,
		params.SenderId,
		params.Content,
		params.FileUrl,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return Message{}, translateErr(err)
	}

	return db.GetMessage(id)
}

func (db *PgRepository) GetMessage(id int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1 LIMIT 1",
		id,
	)

	msg, err := scanMessage(row)
	return msg, translateErr(err)
}

// ListMessages returns messages newest first. Ties on created_at are broken by id.
func (db *PgRepository) ListMessages(params ListMessagesParams) ([]Message, error) {
	var limit sql.NullInt64
	if params.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(params.Limit), Valid: true}
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id "+
			"WHERE m.chatroom_id = $1 AND ($2 = 0 OR m.id < $2) "+
			"ORDER BY m.created_at DESC, m.id DESC LIMIT $3",
		params.ChatroomId,
		params.Before,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRepository) LatestMessages(chatroomIds []int) (map[int]Message, error) {
	rows, err := db.conn.Query(
		"SELECT DISTINCT ON (m.chatroom_id) "+messageColumns+" FROM messages m "+
			"JOIN users u ON u.id = m.sender_id WHERE m.chatroom_id = ANY($1) "+
			"ORDER BY m.chatroom_id, m.created_at DESC, m.id DESC",
		intArray(chatroomIds),
	)
	if err != nil {
		return nil, fmt.Errorf("query latest messages: %w", err)
	}
	defer rows.Close()

	latest := make(map[int]Message, len(chatroomIds))
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		latest[msg.ChatroomId] = msg
	}

	return latest, rows.Err()
}

func (db *PgRepository) CreateReadStatuses(messageId int, userIds []int) error {
	if len(userIds) == 0 {
		return nil
	}

	_, err := db.conn.Exec(
		"INSERT INTO message_read_statuses (message_id, user_id, read, created_at) "+
			"SELECT $1, unnest($2::bigint[]), false, $3 ON CONFLICT (message_id, user_id) DO NOTHING",
		messageId,
		intArray(userIds),
		time.Now().UTC(),
	)

	return err
}

// MarkChatroomRead flips every unread status of userId on messages in the
// chatroom sent by someone else, returning the ids of the affected messages.
func (db *PgRepository) MarkChatroomRead(chatroomId, userId int) ([]int, error) {
	rows, err := db.conn.Query(
		"UPDATE message_read_statuses s SET read = true, updated_at = $3 FROM messages m "+
			"WHERE s.message_id = m.id AND m.chatroom_id = $1 AND s.user_id = $2 "+
			"AND m.sender_id <> $2 AND s.read = false RETURNING s.message_id",
		chatroomId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgRepository) CountUnread(chatroomId, userId int) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM message_read_statuses s JOIN messages m ON m.id = s.message_id "+
			"WHERE m.chatroom_id = $1 AND s.user_id = $2 AND s.read = false",
		chatroomId,
		userId,
	).Scan(&count)

	return count, err
}

func (db *PgRepository) CountUnreadByChatroom(userId int) (map[int]int, error) {
	rows, err := db.conn.Query(
		"SELECT m.chatroom_id, COUNT(*) FROM message_read_statuses s JOIN messages m ON m.id = s.message_id "+
			"WHERE s.user_id = $1 AND s.read = false GROUP BY m.chatroom_id",
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var roomId, count int
		if err := rows.Scan(&roomId, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[roomId] = count
	}

	return counts, rows.Err()
}

// UpsertReaction keeps a single reaction per (message, user); reacting again
// replaces the reaction kind.
func (db *PgRepository) UpsertReaction(params UpsertReactionParams) (Reaction, error) {
	var id int
	err := db.conn.QueryRow(
		"INSERT INTO message_reactions (message_id, user_id, react, created_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (message_id, user_id) DO UPDATE SET react = EXCLUDED.react, created_at = EXCLUDED.created_at "+
			"RETURNING id",
		params.MessageId,
		params.UserId,
		params.React,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return Reaction{}, translateErr(err)
	}

	row := db.conn.QueryRow(
		"SELECT "+reactionColumns+" FROM message_reactions r JOIN users u ON u.id = r.user_id WHERE r.id = $1",
		id,
	)

	reaction, err := scanReaction(row)
	return reaction, translateErr(err)
}

func (db *PgRepository) ListReactions(messageIds []int) ([]Reaction, error) {
	rows, err := db.conn.Query(
		"SELECT "+reactionColumns+" FROM message_reactions r JOIN users u ON u.id = r.user_id "+
			"WHERE r.message_id = ANY($1) ORDER BY r.created_at, r.id",
		intArray(messageIds),
	)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}

	return reactions, rows.Err()
}

func (db *PgRepository) UpsertPushSubscription(params UpsertPushSubscriptionParams) (PushSubscription, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO push_subscriptions (user_id, device_id, subscription, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) ON CONFLICT (user_id, device_id) "+
			"DO UPDATE SET subscription = EXCLUDED.subscription, updated_at = EXCLUDED.updated_at "+
			"RETURNING id, user_id, device_id, subscription, created_at, updated_at",
		params.UserId,
		params.DeviceId,
		[]byte(params.Descriptor),
		now,
	)

	var sub PushSubscription
	err := row.Scan(&sub.Id, &sub.UserId, &sub.DeviceId, &sub.Descriptor, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, translateErr(err)
}

func (db *PgRepository) ListPushSubscriptions(userId int) ([]PushSubscription, error) {
	rows, err := db.conn.Query(
		"SELECT id, user_id, device_id, subscription, created_at, updated_at FROM push_subscriptions WHERE user_id = $1 ORDER BY id",
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []PushSubscription
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(&sub.Id, &sub.UserId, &sub.DeviceId, &sub.Descriptor, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

var _ Repository = (*PgRepository)(nil)

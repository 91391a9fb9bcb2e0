package store

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool. See schema.sql for
// the DDL; the partial unique index on chats(pair_key) WHERE active is
// what makes the resolver's optimistic insert safe.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// uniqueViolation is the Postgres error code for a unique index conflict.
const uniqueViolation = "23505"

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (username, password_hash, avatar)
		VALUES ($1, $2, $3) RETURNING id, created_at, last_seen`
	err := p.pool.QueryRow(ctx, query, u.Username, u.PasswordHash, u.Avatar).
		Scan(&u.ID, &u.CreatedAt, &u.LastSeen)
	return mapErr(err)
}

const userCols = `id, username, password_hash, avatar, online, last_seen, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Avatar, &u.Online, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (p *Postgres) UserByID(ctx context.Context, id int) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
}

func (p *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Avatar, &u.Online, &u.LastSeen, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) UpdateUsername(ctx context.Context, id int, username string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET username = $2 WHERE id = $1`, id, username)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateUserAvatar(ctx context.Context, id int, avatar string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET avatar = $2 WHERE id = $1`, id, avatar)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetUserPresence(ctx context.Context, id int, online bool, lastSeen time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET online = $2, last_seen = $3 WHERE id = $1`, id, online, lastSeen)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const chatCols = `id, user_a, user_b, pair_key, COALESCE(last_message_id::text, ''), COALESCE(last_message_at, 'epoch'::timestamptz), active, created_at`

func scanChat(row pgx.Row) (*models.Chat, error) {
	var c models.Chat
	err := row.Scan(&c.ID, &c.UserA, &c.UserB, &c.PairKey, &c.LastMessageID, &c.LastMessageAt, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if c.LastMessageID == "" {
		c.LastMessageAt = time.Time{}
	}
	return &c, nil
}

func (p *Postgres) CreateChat(ctx context.Context, c *models.Chat) error {
	query := `INSERT INTO chats (id, user_a, user_b, pair_key, active)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	err := p.pool.QueryRow(ctx, query, c.ID, c.UserA, c.UserB, c.PairKey, c.Active).Scan(&c.CreatedAt)
	return mapErr(err)
}

func (p *Postgres) ChatByID(ctx context.Context, id string) (*models.Chat, error) {
	return scanChat(p.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id))
}

func (p *Postgres) ActiveChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error) {
	return scanChat(p.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE pair_key = $1 AND active`, pairKey))
}

func (p *Postgres) collectChats(rows pgx.Rows) ([]models.Chat, error) {
	defer rows.Close()
	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.UserA, &c.UserB, &c.PairKey, &c.LastMessageID, &c.LastMessageAt, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.LastMessageID == "" {
			c.LastMessageAt = time.Time{}
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (p *Postgres) ActiveChats(ctx context.Context) ([]models.Chat, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+chatCols+` FROM chats WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, mapErr(err)
	}
	return p.collectChats(rows)
}

func (p *Postgres) ChatsForUser(ctx context.Context, userID int) ([]models.Chat, error) {
	query := `SELECT ` + chatCols + ` FROM chats
		WHERE active AND (user_a = $1 OR user_b = $1)
		ORDER BY COALESCE(last_message_at, created_at) DESC`
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return p.collectChats(rows)
}

func (p *Postgres) AdvanceChatLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	query := `UPDATE chats SET last_message_id = $2, last_message_at = $3
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $3)`
	_, err := p.pool.Exec(ctx, query, chatID, messageID, at)
	return mapErr(err)
}

func (p *Postgres) SwapChatLastMessage(ctx context.Context, chatID, ifMessageID, newID string, newAt time.Time) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if newID == "" {
		tag, err = p.pool.Exec(ctx,
			`UPDATE chats SET last_message_id = NULL, last_message_at = NULL
				WHERE id = $1 AND last_message_id::text = $2`, chatID, ifMessageID)
	} else {
		tag, err = p.pool.Exec(ctx,
			`UPDATE chats SET last_message_id = $3, last_message_at = $4
				WHERE id = $1 AND last_message_id::text = $2`, chatID, ifMessageID, newID, newAt)
	}
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeactivateChat(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE chats SET active = false WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const msgCols = `id, chat_id, sender_id, COALESCE(receiver_id, 0), content, type, read, read_at, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type, &m.Read, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (p *Postgres) CreateMessage(ctx context.Context, m *models.Message) error {
	var receiver any
	if m.ReceiverID != 0 {
		receiver = m.ReceiverID
	}
	query := `INSERT INTO messages (id, chat_id, sender_id, receiver_id, content, type)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	err := p.pool.QueryRow(ctx, query, m.ID, m.ChatID, m.SenderID, receiver, m.Content, m.Type).Scan(&m.CreatedAt)
	return mapErr(err)
}

func (p *Postgres) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	return scanMessage(p.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id))
}

func (p *Postgres) MarkMessageRead(ctx context.Context, id string, at time.Time) (*models.Message, error) {
	_, err := p.pool.Exec(ctx,
		`UPDATE messages SET read = true, read_at = $2 WHERE id = $1 AND NOT read`, id, at)
	if err != nil {
		return nil, mapErr(err)
	}
	return p.MessageByID(ctx, id)
}

func (p *Postgres) DeleteMessage(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) LatestMessage(ctx context.Context, chatID string) (*models.Message, error) {
	query := `SELECT ` + msgCols + ` FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanMessage(p.pool.QueryRow(ctx, query, chatID))
}

func (p *Postgres) MessagesForChat(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	query := `SELECT ` + msgCols + ` FROM messages WHERE chat_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := p.pool.Query(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type, &m.Read, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *Postgres) ReassignMessages(ctx context.Context, fromChatID, toChatID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE messages SET chat_id = $2 WHERE chat_id = $1`, fromChatID, toChatID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

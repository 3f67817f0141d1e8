package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Row readers for assertions.

// message returns one message by id, or ErrNotFound.
func (s *SQLite) message(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, telegram_msg_id, chat_id, chat_title, username, message, timestamp, processed
		FROM telegram_messages WHERE id = ?`,
		id.String(),
	)
	var m Message
	var rawID, ts string
	err := row.Scan(&rawID, &m.Source, &m.TelegramMsgID, &m.ChatID, &m.ChatTitle, &m.Username, &m.Text, &ts, &m.Processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.ID = id
	if m.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// tags returns the regex tags of a message in insertion order.
func (s *SQLite) tags(ctx context.Context, messageID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token FROM telegram_message_tokens WHERE message_id = ? ORDER BY id`,
		messageID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// countSummaries returns the number of stored summaries.
func (s *SQLite) countSummaries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM telegram_summaries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count summaries: %w", err)
	}
	return n, nil
}

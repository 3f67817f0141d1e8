package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteTime is fixed width so lexical order matches time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLite is the single-file insight store used for local runs and tests.
// It mirrors Store method for method.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises claims and keeps :memory: a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/sqlite.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLite) InsertMessage(ctx context.Context, m Message) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO telegram_messages (id, source, telegram_msg_id, chat_id, chat_title, username, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, chat_id, telegram_msg_id) DO NOTHING`,
		m.ID.String(), m.Source, m.TelegramMsgID, m.ChatID, m.ChatTitle, m.Username, m.Text, formatTime(m.Timestamp),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) ClaimUnprocessed(ctx context.Context, limit int, ttl time.Duration) (*Batch, error) {
	claimID := uuid.New()
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, source, telegram_msg_id, chat_id, chat_title, username, message, timestamp
		FROM telegram_messages
		WHERE processed = 0
		  AND (claimed_by IS NULL OR claimed_at < ?)
		ORDER BY timestamp ASC, id
		LIMIT ?`,
		formatTime(now.Add(-ttl)), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	batch := &Batch{ClaimID: claimID}
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		batch.Messages = append(batch.Messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	if len(batch.Messages) == 0 {
		return batch, nil
	}

	ids := batch.IDs()
	args := append([]any{claimID.String(), formatTime(now)}, idArgs(ids)...)
	if _, err := tx.ExecContext(ctx, `
		UPDATE telegram_messages SET claimed_by = ?, claimed_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return batch, nil
}

func (s *SQLite) ReleaseClaim(ctx context.Context, claimID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE telegram_messages SET claimed_by = NULL, claimed_at = NULL
		WHERE claimed_by = ? AND processed = 0`,
		claimID.String(),
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (s *SQLite) CommitBatch(ctx context.Context, c Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if len(c.MessageIDs) > 0 {
		args := append([]any{c.ClaimID.String()}, idArgs(c.MessageIDs)...)
		res, err := tx.ExecContext(ctx, `
			UPDATE telegram_messages
			SET processed = 1, claimed_by = NULL, claimed_at = NULL
			WHERE claimed_by = ? AND processed = 0 AND id IN (`+placeholders(len(c.MessageIDs))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		if n != int64(len(c.MessageIDs)) {
			return fmt.Errorf("mark processed: %d of %d rows: %w", n, len(c.MessageIDs), ErrClaimLost)
		}
	}

	for _, t := range c.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO telegram_message_tokens (message_id, token, source) VALUES (?, ?, 'regex')`,
			t.MessageID.String(), t.Token,
		); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO telegram_summaries (id, summary, overall_sentiment, total_messages, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Summary.ID.String(), c.Summary.Summary, c.Summary.OverallSentiment, c.Summary.TotalMessages, c.Summary.Model, formatTime(c.Summary.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	for _, in := range c.Insights {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO token_insights (summary_id, token, sentiment, confidence, mentions, notes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.Summary.ID.String(), in.Token, in.Sentiment, in.Confidence, in.Mentions, in.Notes,
		); err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) LatestIntel(ctx context.Context) (*LatestIntel, error) {
	var li LatestIntel
	var id, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, summary, overall_sentiment, total_messages, model, created_at
		FROM telegram_summaries
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
	).Scan(&id, &li.Summary.Summary, &li.OverallSentiment, &li.TotalMessages, &li.Model, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	if li.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("latest summary id: %w", err)
	}
	if li.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("latest summary time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token, sentiment, confidence, mentions, notes
		FROM token_insights
		WHERE summary_id = ?
		ORDER BY token`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("latest insights: %w", err)
	}
	defer rows.Close()

	li.Insights = []TokenInsight{}
	for rows.Next() {
		var in TokenInsight
		if err := rows.Scan(&in.Token, &in.Sentiment, &in.Confidence, &in.Mentions, &in.Notes); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		li.Insights = append(li.Insights, in)
	}
	return &li, rows.Err()
}

func (s *SQLite) Mentions(ctx context.Context, q MentionQuery) ([]MentionBucket, error) {
	var bucketExpr string
	switch q.Bucket {
	case BucketHour:
		bucketExpr = `substr(m.timestamp, 1, 13) || ':00:00Z'`
	case BucketDay:
		bucketExpr = `substr(m.timestamp, 1, 10) || 'T00:00:00Z'`
	default:
		return nil, fmt.Errorf("unknown bucket %q", q.Bucket)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bucketExpr+` AS bucket, m.chat_id, max(m.chat_title), t.token, count(*)
		FROM telegram_message_tokens t
		JOIN telegram_messages m ON m.id = t.message_id
		WHERE m.timestamp >= ? AND (? = '' OR t.token = ?)
		GROUP BY bucket, m.chat_id, t.token
		ORDER BY bucket, m.chat_id, t.token`,
		formatTime(q.Since), q.Token, q.Token,
	)
	if err != nil {
		return nil, fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	out := []MentionBucket{}
	for rows.Next() {
		var b MentionBucket
		var bucket string
		if err := rows.Scan(&bucket, &b.ChatID, &b.ChatTitle, &b.Token, &b.Mentions); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		if b.Bucket, err = time.Parse(time.RFC3339, bucket); err != nil {
			return nil, fmt.Errorf("parse bucket %q: %w", bucket, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM telegram_messages WHERE processed = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unprocessed: %w", err)
	}
	return n, nil
}

func scanSQLiteMessage(rows *sql.Rows) (Message, error) {
	var m Message
	var id, ts string
	if err := rows.Scan(&id, &m.Source, &m.TelegramMsgID, &m.ChatID, &m.ChatTitle, &m.Username, &m.Text, &ts); err != nil {
		return m, fmt.Errorf("scan message: %w", err)
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return m, fmt.Errorf("scan message id: %w", err)
	}
	if m.Timestamp, err = parseTime(ts); err != nil {
		return m, fmt.Errorf("scan message time: %w", err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTime, s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

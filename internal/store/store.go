package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store is the PostgreSQL insight store.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InsertMessage stores m unless its natural key already exists. It reports
// whether a row was written.
func (s *Store) InsertMessage(ctx context.Context, m Message) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO telegram_messages (id, source, telegram_msg_id, chat_id, chat_title, username, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, chat_id, telegram_msg_id) DO NOTHING`,
		m.ID, m.Source, m.TelegramMsgID, m.ChatID, m.ChatTitle, m.Username, m.Text, m.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimUnprocessed marks up to limit unprocessed, unclaimed messages with a
// fresh claim id and returns them oldest first. Claims older than ttl are
// treated as abandoned.
func (s *Store) ClaimUnprocessed(ctx context.Context, limit int, ttl time.Duration) (*Batch, error) {
	claimID := uuid.New()
	rows, err := s.pool.Query(ctx, `
		WITH picked AS (
			SELECT id FROM telegram_messages
			WHERE processed = false
			  AND (claimed_by IS NULL OR claimed_at < now() - make_interval(secs => $3))
			ORDER BY timestamp ASC, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE telegram_messages m
		SET claimed_by = $1, claimed_at = now()
		FROM picked
		WHERE m.id = picked.id
		RETURNING m.id, m.source, m.telegram_msg_id, m.chat_id, m.chat_title, m.username, m.message, m.timestamp`,
		claimID, limit, ttl.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	defer rows.Close()

	batch := &Batch{ClaimID: claimID}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Source, &m.TelegramMsgID, &m.ChatID, &m.ChatTitle, &m.Username, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan claimed message: %w", err)
		}
		batch.Messages = append(batch.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}

	// UPDATE ... RETURNING has no defined order.
	sortMessages(batch.Messages)
	return batch, nil
}

// ReleaseClaim returns the claimed, still unprocessed rows to the pool.
func (s *Store) ReleaseClaim(ctx context.Context, claimID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE telegram_messages SET claimed_by = NULL, claimed_at = NULL
		WHERE claimed_by = $1 AND processed = false`,
		claimID,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// CommitBatch writes tags, summary and insights and marks the batch
// processed in one transaction. It fails with ErrClaimLost when any message
// no longer carries c.ClaimID.
func (s *Store) CommitBatch(ctx context.Context, c Commit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Mark processed, guarded by the claim
	tag, err := tx.Exec(ctx, `
		UPDATE telegram_messages
		SET processed = true, claimed_by = NULL, claimed_at = NULL
		WHERE id = ANY($1) AND claimed_by = $2 AND processed = false`,
		c.MessageIDs, c.ClaimID,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() != int64(len(c.MessageIDs)) {
		return fmt.Errorf("mark processed: %d of %d rows: %w", tag.RowsAffected(), len(c.MessageIDs), ErrClaimLost)
	}

	// 2. Tags
	if len(c.Tags) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"telegram_message_tokens"},
			[]string{"message_id", "token", "source"},
			pgx.CopyFromSlice(len(c.Tags), func(i int) ([]any, error) {
				return []any{c.Tags[i].MessageID, c.Tags[i].Token, "regex"}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("insert tags: %w", err)
		}
	}

	// 3. Summary
	_, err = tx.Exec(ctx, `
		INSERT INTO telegram_summaries (id, summary, overall_sentiment, total_messages, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.Summary.ID, c.Summary.Summary, c.Summary.OverallSentiment, c.Summary.TotalMessages, c.Summary.Model, c.Summary.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	// 4. Insights
	if len(c.Insights) > 0 {
		batch := &pgx.Batch{}
		for _, in := range c.Insights {
			batch.Queue(`
				INSERT INTO token_insights (summary_id, token, sentiment, confidence, mentions, notes)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				c.Summary.ID, in.Token, in.Sentiment, in.Confidence, in.Mentions, in.Notes,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert insights: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestIntel returns the newest summary. It returns ErrNotFound when no
// summary exists yet.
func (s *Store) LatestIntel(ctx context.Context) (*LatestIntel, error) {
	var li LatestIntel
	err := s.pool.QueryRow(ctx, `
		SELECT id, summary, overall_sentiment, total_messages, model, created_at
		FROM telegram_summaries
		ORDER BY created_at DESC
		LIMIT 1`,
	).Scan(&li.ID, &li.Summary.Summary, &li.OverallSentiment, &li.TotalMessages, &li.Model, &li.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT token, sentiment, confidence, mentions, notes
		FROM token_insights
		WHERE summary_id = $1
		ORDER BY token`,
		li.ID,
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

// Mentions aggregates regex tags per chat and token into hour or day
// buckets starting at q.Since.
func (s *Store) Mentions(ctx context.Context, q MentionQuery) ([]MentionBucket, error) {
	if !validBucket(q.Bucket) {
		return nil, fmt.Errorf("unknown bucket %q", q.Bucket)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc($1, m.timestamp AT TIME ZONE 'UTC') AS bucket,
		       m.chat_id, max(m.chat_title), t.token, count(*)
		FROM telegram_message_tokens t
		JOIN telegram_messages m ON m.id = t.message_id
		WHERE m.timestamp >= $2 AND ($3::text = '' OR t.token = $3::text)
		GROUP BY 1, m.chat_id, t.token
		ORDER BY 1, m.chat_id, t.token`,
		q.Bucket, q.Since.UTC(), q.Token,
	)
	if err != nil {
		return nil, fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	out := []MentionBucket{}
	for rows.Next() {
		var b MentionBucket
		var bucket time.Time
		if err := rows.Scan(&bucket, &b.ChatID, &b.ChatTitle, &b.Token, &b.Mentions); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		// timestamp without time zone comes back as UTC wall time.
		b.Bucket = time.Date(bucket.Year(), bucket.Month(), bucket.Day(), bucket.Hour(), 0, 0, 0, time.UTC)
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountUnprocessed returns how many messages wait for a run.
func (s *Store) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM telegram_messages WHERE processed = false`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed: %w", err)
	}
	return n, nil
}

func sortMessages(ms []Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Timestamp.Equal(ms[j].Timestamp) {
			return ms[i].Timestamp.Before(ms[j].Timestamp)
		}
		return ms[i].ID.String() < ms[j].ID.String()
	})
}

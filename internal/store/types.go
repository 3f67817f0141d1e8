package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClaimLost means some rows of a batch no longer carry the run's
	// claim, usually because the claim expired and another run took them.
	ErrClaimLost = errors.New("claim lost")
	ErrNotFound  = errors.New("not found")
)

// Message sources. Together with chat_id and telegram_msg_id they form the
// natural key of a message.
const (
	SourceBot     = "bot"
	SourceSession = "session"
)

// Mention bucket widths.
const (
	BucketHour = "hour"
	BucketDay  = "day"
)

type Message struct {
	ID            uuid.UUID `json:"id"`
	Source        string    `json:"source"`
	TelegramMsgID string    `json:"telegram_msg_id"`
	ChatID        string    `json:"chat_id"`
	ChatTitle     string    `json:"chat_title"`
	Username      string    `json:"username"`
	Text          string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Processed     bool      `json:"processed"`
}

// Tag is a regex token match on one message.
type Tag struct {
	MessageID uuid.UUID
	Token     string
}

type Summary struct {
	ID               uuid.UUID `json:"id"`
	Summary          string    `json:"summary"`
	OverallSentiment string    `json:"overall_sentiment"`
	TotalMessages    int       `json:"total_messages"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
}

type TokenInsight struct {
	Token      string  `json:"token"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Mentions   int     `json:"mentions"`
	Notes      string  `json:"notes"`
}

// Batch is a set of messages claimed by one summarization run.
type Batch struct {
	ClaimID  uuid.UUID
	Messages []Message
}

// IDs returns the message ids of the batch in batch order.
func (b *Batch) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(b.Messages))
	for i, m := range b.Messages {
		ids[i] = m.ID
	}
	return ids
}

// Commit is everything a successful run writes. It is applied in one
// transaction.
type Commit struct {
	ClaimID    uuid.UUID
	MessageIDs []uuid.UUID
	Tags       []Tag
	Summary    Summary
	Insights   []TokenInsight
}

// LatestIntel is the newest summary with its insights ordered by token.
type LatestIntel struct {
	Summary
	Insights []TokenInsight `json:"insights"`
}

type MentionBucket struct {
	Bucket    time.Time `json:"bucket"`
	ChatID    string    `json:"chat_id"`
	ChatTitle string    `json:"chat_title"`
	Token     string    `json:"token"`
	Mentions  int       `json:"mentions"`
}

// MentionQuery filters Mentions. An empty Token matches every token.
type MentionQuery struct {
	Bucket string
	Since  time.Time
	Token  string
}

func validBucket(b string) bool {
	return b == BucketHour || b == BucketDay
}

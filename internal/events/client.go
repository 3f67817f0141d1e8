package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectSummaryCreated carries a SummaryCreated after every committed run.
	SubjectSummaryCreated = "tokenpulse.summary.created"
	// SubjectSummarizeRequested asks any serve process to run the job.
	SubjectSummarizeRequested = "tokenpulse.summarize.requested"
)

// SummaryCreated announces a committed summary.
type SummaryCreated struct {
	SummaryID        string    `json:"summary_id"`
	OverallSentiment string    `json:"overall_sentiment"`
	TotalMessages    int       `json:"total_messages"`
	Tokens           []string  `json:"tokens"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
}

// SummarizeRequest is the optional body of a summarize request. A zero
// Limit means the configured default.
type SummarizeRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ParseSummarizeRequest reads a request body. An empty body is a request
// with the default limit.
func ParseSummarizeRequest(data []byte) (SummarizeRequest, error) {
	var req SummarizeRequest
	if len(data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse summarize request: %w", err)
	}
	return req, nil
}

// Client is a thin NATS connection wrapper. A nil *Client is a disabled bus:
// Publish and Close do nothing.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("tokenpulse"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	if c == nil {
		return fmt.Errorf("subscribe %s: event bus disabled", subject)
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Drain unsubscribes and flushes pending messages before closing.
func (c *Client) Drain() error {
	if c == nil {
		return nil
	}
	return c.conn.Drain()
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

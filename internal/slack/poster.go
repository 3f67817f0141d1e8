// Package slack posts summary digests to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxDigestTokens caps how many token lines a digest lists.
const maxDigestTokens = 15

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostSummary posts a digest of one committed summary and returns the
// Slack message timestamp.
func (p *Poster) PostSummary(ctx context.Context, sum store.Summary, insights []store.TokenInsight) (string, error) {
	text := formatDigest(sum, insights)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("summary `%s` | model %s", sum.ID, sum.Model),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted summary to slack", "ts", slackResp.TS, "summary_id", sum.ID)
	return slackResp.TS, nil
}

func formatDigest(sum store.Summary, insights []store.TokenInsight) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Market pulse:* %s %s (%d messages)\n", sentimentEmoji(sum.OverallSentiment), sum.OverallSentiment, sum.TotalMessages)
	if sum.Summary != "" {
		fmt.Fprintf(&sb, "%s\n", sum.Summary)
	}

	if len(insights) == 0 {
		sb.WriteString("\n_No token-level insights in this batch._")
		return sb.String()
	}

	fmt.Fprintf(&sb, "\n*Tokens: %d*\n", len(insights))
	for i, in := range insights {
		if i == maxDigestTokens {
			fmt.Fprintf(&sb, "_and %d more_\n", len(insights)-maxDigestTokens)
			break
		}
		fmt.Fprintf(&sb, "%s *%s* %s | conf %.2f | %d mentions", sentimentEmoji(in.Sentiment), in.Token, in.Sentiment, in.Confidence, in.Mentions)
		if in.Notes != "" {
			fmt.Fprintf(&sb, " | %s", in.Notes)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func sentimentEmoji(s string) string {
	switch s {
	case "bullish":
		return ":chart_with_upwards_trend:"
	case "bearish":
		return ":chart_with_downwards_trend:"
	}
	return ":left_right_arrow:"
}

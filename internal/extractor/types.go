package extractor

// Sentiment values accepted for the overall summary and for each token.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// Limits applied to a model answer before anything is stored.
const (
	MaxInsights   = 100
	MaxExcerpts   = 500
	maxSummaryLen = 8000
	maxTokenLen   = 64
	maxNotesLen   = 500
)

// Prompt is the user payload sent to the provider, serialised as JSON.
type Prompt struct {
	CandidateTokens []string `json:"candidate_tokens"`
	BatchSize       int      `json:"batch_size"`
	Excerpts        []string `json:"excerpts"`
}

// Result is a validated and clamped model answer.
type Result struct {
	Summary          string
	OverallSentiment string
	Insights         []Insight
	Model            string
}

// Insight is one per-token entry of a Result.
type Insight struct {
	Token      string  `json:"token"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Mentions   int     `json:"mentions"`
	Notes      string  `json:"notes"`
}

// ValidSentiment reports whether s is one of the three accepted values.
func ValidSentiment(s string) bool {
	switch s {
	case SentimentBullish, SentimentBearish, SentimentNeutral:
		return true
	}
	return false
}

package extractor

import (
	"math"
	"strconv"
	"strings"
)

func normalizeInsight(entry map[string]any) Insight {
	return Insight{
		Token:      strings.ToUpper(truncate(stringOf(entry["token"]), maxTokenLen)),
		Sentiment:  sentimentOf(entry["sentiment"]),
		Confidence: confidenceOf(entry["confidence"]),
		Mentions:   mentionsOf(entry["mentions"]),
		Notes:      truncate(stringOf(entry["notes"]), maxNotesLen),
	}
}

func sentimentOf(v any) string {
	if s, ok := v.(string); ok && ValidSentiment(s) {
		return s
	}
	return SentimentNeutral
}

// confidenceOf accepts numbers and numeric strings, clamped to [0,1].
func confidenceOf(v any) float64 {
	f, ok := number(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// mentionsOf truncates toward zero and floors at zero. Strings are read
// up to their first non-digit, so "12 times" counts as 12.
func mentionsOf(v any) int {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return 0
		}
		if t > math.MaxInt32 {
			return math.MaxInt32
		}
		return int(t)
	case string:
		s := strings.TrimSpace(t)
		end := 0
		if end < len(s) && (s[end] == '-' || s[end] == '+') {
			end++
		}
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case bool:
		return t
	}
	return true
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type exportFile struct {
	exportChatJSON
	Chats *struct {
		List []exportChatJSON `json:"list"`
	} `json:"chats"`
}

type exportChatJSON struct {
	ID       int64               `json:"id"`
	Name     string              `json:"name"`
	Type     string              `json:"type"`
	Messages []exportMessageJSON `json:"messages"`
}

type exportMessageJSON struct {
	ID           int             `json:"id"`
	Type         string          `json:"type"`
	Date         string          `json:"date"`
	DateUnixtime string          `json:"date_unixtime"`
	From         string          `json:"from"`
	FromID       string          `json:"from_id"`
	Text         json.RawMessage `json:"text"`
}

// ParseExportFile reads a Telegram Desktop JSON export. Both single-chat
// exports (result.json of one chat) and full account exports (chats.list)
// are accepted. Service messages and messages without text are skipped.
func ParseExportFile(path string) ([]ExportChat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	var f exportFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}

	var raw []exportChatJSON
	if f.Chats != nil {
		raw = f.Chats.List
	} else if f.Messages != nil {
		raw = []exportChatJSON{f.exportChatJSON}
	}

	chats := make([]ExportChat, 0, len(raw))
	for _, rc := range raw {
		chat := ExportChat{ID: rc.ID, Name: rc.Name, Type: rc.Type}
		for _, rm := range rc.Messages {
			if rm.Type != "message" {
				continue
			}
			text := strings.TrimSpace(extractExportText(rm.Text))
			if text == "" {
				continue
			}
			chat.Messages = append(chat.Messages, ExportMessage{
				ID:     rm.ID,
				FromID: rm.FromID,
				From:   rm.From,
				Text:   text,
				Date:   exportDate(rm.DateUnixtime, rm.Date),
			})
		}

		sort.SliceStable(chat.Messages, func(i, j int) bool {
			return chat.Messages[i].Date.Before(chat.Messages[j].Date)
		})
		chats = append(chats, chat)
	}

	return chats, nil
}

// extractExportText flattens the export text field, which is either a
// plain string or an array of strings and entity objects.
func extractExportText(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}

	var plainStr string
	if err := json.Unmarshal(raw, &plainStr); err == nil {
		return plainStr
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var sb strings.Builder
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			sb.WriteString(s)
			continue
		}
		var ent struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p, &ent); err == nil {
			sb.WriteString(ent.Text)
		}
	}
	return sb.String()
}

// exportDate prefers date_unixtime; older exports only carry a local
// wall-clock date.
func exportDate(unix, local string) time.Time {
	if unix != "" {
		if sec, err := strconv.ParseInt(unix, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC()
		}
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", local, time.Local); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// StoredChatID converts an exported chat id to the id the live listeners
// store, returning the bare id as the alternative allowlist key.
func StoredChatID(chat ExportChat) (id, alt string) {
	alt = strconv.FormatInt(chat.ID, 10)
	switch {
	case channelTypes[chat.Type]:
		return "-100" + alt, alt
	case chat.Type == "private_group":
		return strconv.FormatInt(-chat.ID, 10), alt
	}
	return alt, alt
}

// senderID strips the "user"/"channel" prefix from an export from_id.
func senderID(fromID string) string {
	for _, prefix := range []string{"user", "channel", "chat"} {
		if rest, ok := strings.CutPrefix(fromID, prefix); ok {
			return rest
		}
	}
	return fromID
}

package backfill

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const singleChatExport = `{
  "name": "Alpha Calls",
  "type": "public_supergroup",
  "id": 1234567890,
  "messages": [
    {"id": 3, "type": "message", "date": "2026-03-01T10:02:00", "date_unixtime": "1772359320", "from": "Bob", "from_id": "user42", "text": "ETH looks weak"},
    {"id": 1, "type": "service", "date": "2026-03-01T10:00:00", "date_unixtime": "1772359200", "actor": "Alice", "action": "join_group_by_link", "text": ""},
    {"id": 2, "type": "message", "date": "2026-03-01T10:01:00", "date_unixtime": "1772359260", "from": "Alice", "from_id": "user7",
     "text": ["buy ", {"type": "cashtag", "text": "$BTC"}, " now"]},
    {"id": 4, "type": "message", "date": "2026-03-01T10:03:00", "date_unixtime": "1772359380", "from": "Bob", "from_id": "user42", "photo": "photos/1.jpg", "text": ""}
  ]
}`

func TestParseExportFile_SingleChat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	writeFile(t, path, singleChatExport)

	chats, err := ParseExportFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(chats))
	}
	c := chats[0]
	if c.Name != "Alpha Calls" || c.ID != 1234567890 {
		t.Errorf("unexpected chat %+v", c)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("expected service and empty messages skipped, got %d", len(c.Messages))
	}
	if c.Messages[0].ID != 2 || c.Messages[0].Text != "buy $BTC now" {
		t.Errorf("messages should be date ordered with flattened text, got %+v", c.Messages[0])
	}
	if !c.Messages[0].Date.Equal(time.Unix(1772359260, 0)) {
		t.Errorf("date = %v", c.Messages[0].Date)
	}
}

func TestParseExportFile_FullAccountExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	writeFile(t, path, `{
  "about": "export",
  "chats": {"about": "chats", "list": [
    {"name": "Small Group", "type": "private_group", "id": 55, "messages": [
      {"id": 9, "type": "message", "date": "2026-03-01T09:00:00", "from": "Carol", "from_id": "user8", "text": "SOL pumping"}
    ]},
    {"name": "Empty", "type": "personal_chat", "id": 8, "messages": []}
  ]}
}`)

	chats, err := ParseExportFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if len(chats[0].Messages) != 1 || chats[0].Messages[0].Text != "SOL pumping" {
		t.Errorf("unexpected messages %+v", chats[0].Messages)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	if !chats[0].Messages[0].Date.Equal(want) {
		t.Errorf("local date fallback: got %v want %v", chats[0].Messages[0].Date, want)
	}
}

func TestParseExportFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, path, `{"messages": [`)
	if _, err := ParseExportFile(path); err == nil {
		t.Error("expected parse error")
	}
	if _, err := ParseExportFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected open error")
	}
}

func TestStoredChatID(t *testing.T) {
	tests := []struct {
		chat    ExportChat
		id, alt string
	}{
		{ExportChat{ID: 1234, Type: "public_channel"}, "-1001234", "1234"},
		{ExportChat{ID: 1234, Type: "private_supergroup"}, "-1001234", "1234"},
		{ExportChat{ID: 55, Type: "private_group"}, "-55", "55"},
		{ExportChat{ID: 8, Type: "personal_chat"}, "8", "8"},
	}
	for _, tt := range tests {
		id, alt := StoredChatID(tt.chat)
		if id != tt.id || alt != tt.alt {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tt.chat.Type, id, alt, tt.id, tt.alt)
		}
	}
}

func TestSenderID(t *testing.T) {
	for in, want := range map[string]string{
		"user42":     "42",
		"channel100": "100",
		"":           "",
		"weird":      "weird",
	} {
		if got := senderID(in); got != want {
			t.Errorf("senderID(%q) = %q, want %q", in, got, want)
		}
	}
}

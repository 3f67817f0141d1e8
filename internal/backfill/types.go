package backfill

import "time"

// ExportChat is one chat from a Telegram Desktop export.
type ExportChat struct {
	ID       int64
	Name     string
	Type     string
	Messages []ExportMessage
}

// ExportMessage is one text message of an exported chat.
type ExportMessage struct {
	ID     int
	FromID string
	From   string
	Text   string
	Date   time.Time
}

// Chat types that Telegram Desktop writes for channels and supergroups.
// Their ids are exported bare and get the -100 prefix in storage.
var channelTypes = map[string]bool{
	"public_channel":     true,
	"private_channel":    true,
	"public_supergroup":  true,
	"private_supergroup": true,
}

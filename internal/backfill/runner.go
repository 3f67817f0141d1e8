package backfill

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/tokenpulse/internal/metrics"
	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// Config holds the backfill command configuration.
type Config struct {
	Path      string // export file or a directory searched for *.json
	StatePath string
	Since     time.Time
	Until     time.Time
	DryRun    bool
}

// Writer is the ingest write path shared with the live listeners.
type Writer interface {
	Write(ctx context.Context, m store.Message, altIDs ...string) string
}

// Report totals one backfill run.
type Report struct {
	Files     int
	Chats     int
	Inserted  int
	Duplicate int
	Filtered  int
	Failed    int
}

// Runner imports Telegram Desktop exports as session messages. Export
// message ids are the account's MTProto ids, so rows collide with what the
// session listener stored and re-imports are no-ops.
type Runner struct {
	cfg    Config
	writer Writer
	logger *slog.Logger
}

func NewRunner(cfg Config, w Writer, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, writer: w, logger: logger}
}

// exportFile is a discovered export and the stat used to recognise it.
type exportFile struct {
	path string
	info fs.FileInfo
}

// Run executes the backfill and prints a summary to out.
func (r *Runner) Run(ctx context.Context, out io.Writer) (*Report, error) {
	progress, err := LoadProgress(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var pending []exportFile
	for _, f := range files {
		if !progress.Imported(f.path, f.info) {
			pending = append(pending, f)
		}
	}
	r.logger.Info("files discovered", "total", len(files), "pending", len(pending))

	rep := &Report{}
	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			r.logger.Info("backfill interrupted")
			return rep, err
		}

		chats, err := ParseExportFile(f.path)
		if err != nil {
			r.logger.Warn("failed to parse export", "path", f.path, "error", err)
			r.record(progress, f, 0, fmt.Errorf("parse: %w", err))
			continue
		}

		before := *rep
		for _, chat := range chats {
			r.importChat(ctx, chat, rep)
		}
		rep.Files++
		inserted := rep.Inserted - before.Inserted
		r.logger.Info("export imported",
			"path", f.path,
			"chats", len(chats),
			"inserted", inserted,
			"duplicate", rep.Duplicate-before.Duplicate,
		)

		var importErr error
		if failed := rep.Failed - before.Failed; failed > 0 {
			importErr = fmt.Errorf("%d inserts failed", failed)
		}
		r.record(progress, f, inserted, importErr)
	}

	r.logger.Info("backfill complete",
		"files", rep.Files,
		"chats", rep.Chats,
		"inserted", rep.Inserted,
		"duplicate", rep.Duplicate,
		"filtered", rep.Filtered,
		"failed", rep.Failed,
		"dry_run", r.cfg.DryRun,
	)

	fmt.Fprintf(out, "\n=== Backfill Summary ===\n")
	fmt.Fprintf(out, "Files processed: %d\n", rep.Files)
	fmt.Fprintf(out, "Chats: %d\n", rep.Chats)
	fmt.Fprintf(out, "Messages inserted: %d\n", rep.Inserted)
	fmt.Fprintf(out, "Duplicates: %d\n", rep.Duplicate)
	fmt.Fprintf(out, "Filtered: %d\n", rep.Filtered)
	fmt.Fprintf(out, "Failed: %d\n", rep.Failed)
	if r.cfg.DryRun {
		fmt.Fprintf(out, "Mode: DRY RUN (no DB writes)\n")
	} else {
		fmt.Fprintf(out, "State file: %s\n", progress.Path())
	}

	return rep, nil
}

func (r *Runner) importChat(ctx context.Context, chat ExportChat, rep *Report) {
	chatID, alt := StoredChatID(chat)
	rep.Chats++

	for _, em := range chat.Messages {
		if !r.inDateRange(em.Date) {
			continue
		}
		m := store.Message{
			Source:        store.SourceSession,
			TelegramMsgID: fmt.Sprint(em.ID),
			ChatID:        chatID,
			ChatTitle:     chat.Name,
			Username:      senderID(em.FromID),
			Text:          em.Text,
			Timestamp:     em.Date,
		}
		if r.cfg.DryRun {
			rep.Inserted++
			continue
		}
		switch r.writer.Write(ctx, m, alt) {
		case metrics.IngestInserted:
			rep.Inserted++
		case metrics.IngestDuplicate:
			rep.Duplicate++
		case metrics.IngestFiltered:
			rep.Filtered++
		default:
			rep.Failed++
		}
	}
}

// record saves the outcome of one file after it is done, so an interrupted
// run resumes at the next file.
func (r *Runner) record(p *Progress, f exportFile, inserted int, importErr error) {
	if r.cfg.DryRun {
		return
	}
	p.Record(f.path, f.info, inserted, importErr)
	if err := p.Save(); err != nil {
		r.logger.Warn("failed to save backfill progress", "error", err)
	}
}

func (r *Runner) discoverFiles() ([]exportFile, error) {
	root := expandHome(r.cfg.Path)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("export path not found: %s", root)
	}
	if !info.IsDir() {
		return []exportFile{{path: root, info: info}}, nil
	}

	progressPath := expandHome(r.cfg.StatePath)
	var files []exportFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || p == progressPath {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, exportFile{path: p, info: fi})
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking export dir", "dir", root, "error", err)
	}
	return files, nil
}

// inDateRange checks a message date against the configured since/until range.
func (r *Runner) inDateRange(ts time.Time) bool {
	if !r.cfg.Since.IsZero() && ts.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && ts.After(r.cfg.Until) {
		return false
	}
	return true
}

package backfill

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultStatePath is where progress is kept between runs.
const DefaultStatePath = "~/.tokenpulse/backfill-state.json"

// Progress remembers which version of each export file was fully imported.
// Telegram Desktop overwrites result.json on re-export, so a file whose size
// or modification time changed is imported again.
type Progress struct {
	Files map[string]FileMark `json:"files"`

	path string
}

// FileMark is the outcome of importing one export file.
type FileMark struct {
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	Inserted   int       `json:"inserted"`
	ImportedAt time.Time `json:"imported_at"`
	Error      string    `json:"error,omitempty"`
}

// LoadProgress reads the progress file at path. A missing file is an empty
// progress.
func LoadProgress(path string) (*Progress, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := &Progress{Files: map[string]FileMark{}, path: expandHome(path)}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse progress %s: %w", p.path, err)
	}
	if p.Files == nil {
		p.Files = map[string]FileMark{}
	}
	return p, nil
}

// Imported reports whether this exact version of the file went in without
// errors.
func (p *Progress) Imported(path string, info fs.FileInfo) bool {
	m, ok := p.Files[path]
	return ok && m.Error == "" && m.Size == info.Size() && m.ModTime.Equal(info.ModTime())
}

// Record stores the result of importing path. A non-nil importErr leaves
// the file eligible for the next run.
func (p *Progress) Record(path string, info fs.FileInfo, inserted int, importErr error) {
	m := FileMark{
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Inserted:   inserted,
		ImportedAt: time.Now().UTC(),
	}
	if importErr != nil {
		m.Error = importErr.Error()
	}
	p.Files[path] = m
}

// Save writes the progress file through a temporary file so an interrupted
// write never leaves it truncated.
func (p *Progress) Save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create progress directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return os.Rename(tmp, p.path)
}

func (p *Progress) Path() string { return p.path }

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

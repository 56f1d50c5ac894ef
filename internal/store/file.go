package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/apptrack/internal/badge"
)

// File implements Store as a single pretty-printed JSON document.
// Every write replaces the whole file through a temp file and rename.
type File struct {
	path string
}

// NewFile returns a file store at path. The file need not exist yet.
func NewFile(path string) (*File, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, ErrEmptyPath
	}
	return &File{path: p}, nil
}

// Path returns the location of the stats file.
func (f *File) Path() string { return f.path }

// Load returns every record in the file. A missing or blank file is an
// empty collection.
func (f *File) Load(ctx context.Context) ([]TrackLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []TrackLog{}, nil
		}
		return nil, fmt.Errorf("read stats file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []TrackLog{}, nil
	}
	var logs []TrackLog
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("decode stats file %s: %w", f.path, err)
	}
	for i := range logs {
		if logs[i].DisplayName == "" {
			logs[i].DisplayName = logs[i].ProcessName
		}
		if logs[i].Badges == nil {
			logs[i].Badges = []badge.Badge{}
		}
	}
	return logs, nil
}

// Save merges rec into the stored collection and rewrites the file.
func (f *File) Save(ctx context.Context, rec TrackLog) error {
	logs, err := f.Load(ctx)
	if err != nil {
		return err
	}
	return f.write(merge(logs, rec))
}

// Delete removes every record for processName and rewrites the file.
func (f *File) Delete(ctx context.Context, processName string) error {
	logs, err := f.Load(ctx)
	if err != nil {
		return err
	}
	return f.write(remove(logs, processName))
}

func (f *File) write(logs []TrackLog) error {
	if logs == nil {
		logs = []TrackLog{}
	}
	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp stats file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close stats: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace stats file: %w", err)
	}
	return nil
}

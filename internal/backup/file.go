package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File — снапшоты в локальный каталог.
type File struct {
	dir string
	now func() time.Time
}

// NewFile создаёт файловый Snapshotter; каталог создаётся при первой записи.
func NewFile(dir string, now func() time.Time) *File {
	if now == nil {
		now = time.Now
	}

	return &File{dir: dir, now: now}
}

// Snapshot пишет payload в <dir>/<prefix>_YYYYMMDD_HHMMSS.json и возвращает путь.
func (f *File) Snapshot(ctx context.Context, prefix string, payload any) (string, error) {
	const op = "backup.File.Snapshot"

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	data, err := encode(payload)
	if err != nil {
		return "", fmt.Errorf("%s: encode: %w", op, err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("%s: mkdir: %w", op, err)
	}

	path := filepath.Join(f.dir, Name(prefix, f.now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%s: write: %w", op, err)
	}

	return path, nil
}

var _ Snapshotter = (*File)(nil)

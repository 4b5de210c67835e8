package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/loom/internal/apperr"
)

// File reads the token from a file kept fresh by an external helper
// (a credential process or a sidecar). Watch reloads it when the file
// changes; RequestNewToken always re-reads it.
type File struct {
	path string

	mu    sync.RWMutex
	token string
}

// NewFile loads the token file once.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("auth: token file path is empty: %w", apperr.ErrInvalid)
	}
	f := &File{path: path}
	if _, err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) AccessToken(ctx context.Context) (string, error) {
	f.mu.RLock()
	tok := f.token
	f.mu.RUnlock()
	if tok == "" {
		return f.RequestNewToken(ctx)
	}
	return tok, nil
}

func (f *File) RequestNewToken(context.Context) (string, error) {
	return f.reload()
}

func (f *File) Offline() bool { return false }

func (f *File) reload() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("auth: read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("auth: token file %s is empty: %w", f.path, apperr.ErrAuthExpired)
	}
	f.mu.Lock()
	f.token = tok
	f.mu.Unlock()
	return tok, nil
}

// Watch reloads the token whenever the file is written or replaced, until
// ctx is cancelled. The parent directory is watched so atomic renames by
// the writer are seen.
func (f *File) Watch(ctx context.Context, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return err
	}
	target := filepath.Clean(f.path)
	logger.Info("auth: watching token file", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, err := f.reload(); err != nil {
				logger.Warn("auth: reload token failed", slog.String("error", err.Error()))
				continue
			}
			logger.Debug("auth: token reloaded")

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("auth: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

package auth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/loom/internal/apperr"
)

func writeToken(t *testing.T, path, tok string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestNew_Modes(t *testing.T) {
	p, err := New(Options{Mode: ModeOffline})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Offline() {
		t.Error("offline provider should report offline")
	}
	if _, err := p.AccessToken(context.Background()); !errors.Is(err, apperr.ErrOffline) {
		t.Errorf("err = %v, want ErrOffline", err)
	}

	p, err = New(Options{Mode: ModeToken, Token: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if tok, _ := p.AccessToken(context.Background()); tok != "abc" {
		t.Errorf("token = %q", tok)
	}

	if _, err := New(Options{Mode: "oauth"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestStatic_EmptyTokenIsExpired(t *testing.T) {
	_, err := NewStatic("").AccessToken(context.Background())
	if !errors.Is(err, apperr.ErrAuthExpired) {
		t.Errorf("err = %v, want ErrAuthExpired", err)
	}
}

func TestFile_RequestNewTokenRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeToken(t, path, "first")

	f, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if tok, _ := f.AccessToken(ctx); tok != "first" {
		t.Fatalf("token = %q", tok)
	}

	writeToken(t, path, "second")
	tok, err := f.RequestNewToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "second" {
		t.Errorf("token = %q, want second", tok)
	}
}

func TestFile_MissingFile(t *testing.T) {
	if _, err := NewFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing token file")
	}
}

func TestFile_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeToken(t, path, "old")
	f, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	go f.Watch(ctx, logger)
	time.Sleep(100 * time.Millisecond)

	writeToken(t, path, "new")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tok, _ := f.AccessToken(ctx); tok == "new" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("token was not reloaded after file change")
}

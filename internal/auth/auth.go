// Package auth supplies access tokens for the remote document provider.
package auth

import (
	"context"
	"fmt"

	"github.com/starford/loom/internal/apperr"
)

// Modes accepted by New.
const (
	ModeOffline   = "offline"
	ModeToken     = "token"
	ModeTokenFile = "token_file"
)

// Provider is asked for a token on every remote call, so a refreshed token
// is picked up without restarting anything.
type Provider interface {
	// AccessToken returns the current token.
	AccessToken(ctx context.Context) (string, error)
	// RequestNewToken discards the current token and obtains a fresh one.
	RequestNewToken(ctx context.Context) (string, error)
	// Offline reports whether remote calls should be skipped entirely.
	Offline() bool
}

// Options select and configure a Provider.
type Options struct {
	Mode      string
	Token     string
	TokenFile string
}

// New builds the provider for the configured mode.
func New(opts Options) (Provider, error) {
	switch opts.Mode {
	case "", ModeOffline:
		return Offline{}, nil
	case ModeToken:
		return NewStatic(opts.Token), nil
	case ModeTokenFile:
		return NewFile(opts.TokenFile)
	default:
		return nil, fmt.Errorf("auth: unknown mode %q: %w", opts.Mode, apperr.ErrInvalid)
	}
}

// Offline never yields a token.
type Offline struct{}

func (Offline) AccessToken(context.Context) (string, error)     { return "", apperr.ErrOffline }
func (Offline) RequestNewToken(context.Context) (string, error) { return "", apperr.ErrOffline }
func (Offline) Offline() bool                                   { return true }

// Static serves a fixed token. It cannot refresh, so a rejected token
// surfaces as ErrAuthExpired after the single retry.
type Static struct {
	token string
}

// NewStatic creates a Static provider.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) AccessToken(context.Context) (string, error) {
	if s.token == "" {
		return "", apperr.ErrAuthExpired
	}
	return s.token, nil
}

func (s *Static) RequestNewToken(ctx context.Context) (string, error) {
	return s.AccessToken(ctx)
}

func (s *Static) Offline() bool { return false }

package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/loom/internal/auth"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Remote RemoteConfig      `yaml:"remote"`
	Auth   AuthConfig        `yaml:"auth"`
	Sync   SyncConfig        `yaml:"sync"`
	API    APIConfig         `yaml:"api"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(c.Auth.Offline()); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the local SQLite cache location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RemoteConfig describes the remote document provider.
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url"`
	RootFolder  string        `yaml:"root_folder"`
	DocumentURL string        `yaml:"document_url"`
	AssetURL    string        `yaml:"asset_url"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

var errNoPlaceholder = errors.New("must contain a %s placeholder")

func urlTemplate(value any) error {
	s, _ := value.(string)
	if s == "" || strings.Contains(s, "%s") {
		return nil
	}
	return errNoPlaceholder
}

// Validate validates the remote configuration. BaseURL is only required
// when the provider is actually used.
func (c *RemoteConfig) Validate(offline bool) error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.When(!offline, validation.Required)),
		validation.Field(&c.RootFolder, validation.Required),
		validation.Field(&c.DocumentURL, validation.By(urlTemplate)),
		validation.Field(&c.AssetURL, validation.By(urlTemplate)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// AuthConfig selects how remote access tokens are obtained.
//
// Mode is one of:
//   - "offline" (default): no remote calls; objects are only saved locally.
//   - "token": a fixed Token.
//   - "token_file": the token is read from TokenFile and re-read when the
//     file changes or the provider rejects it.
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = auth.ModeOffline
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(auth.ModeOffline, auth.ModeToken, auth.ModeTokenFile)),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Mode == auth.ModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", auth.ModeToken)
	}
	if c.Mode == auth.ModeTokenFile && c.TokenFile == "" {
		return fmt.Errorf("auth: mode is %q but token_file is empty", auth.ModeTokenFile)
	}
	return nil
}

// Offline reports whether the remote provider is disabled.
func (c *AuthConfig) Offline() bool {
	return c.Mode == "" || c.Mode == auth.ModeOffline
}

// Options converts the section into auth.Options.
func (c *AuthConfig) Options() auth.Options {
	return auth.Options{Mode: c.Mode, Token: c.Token, TokenFile: c.TokenFile}
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	ResyncErrorThreshold int `yaml:"resync_error_threshold"`
	ContextWindow        int `yaml:"context_window"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ResyncErrorThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.ContextWindow, validation.Required, validation.Min(40)),
	)
}

// APIConfig protects the local REST API. An empty Token disables auth.
type APIConfig struct {
	Token string `yaml:"token"`
}

// AuthEnabled returns true when the REST API requires a bearer token.
func (c *APIConfig) AuthEnabled() bool {
	return c.Token != ""
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./loom.db",
		},
		Remote: RemoteConfig{
			RootFolder:  "Loom",
			DocumentURL: "https://docs.google.com/document/d/%s/edit",
			MaxRetries:  3,
			Timeout:     30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: auth.ModeOffline,
		},
		Sync: SyncConfig{
			ResyncErrorThreshold: 10,
			ContextWindow:        200,
		},
	}
}

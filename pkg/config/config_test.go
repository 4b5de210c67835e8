package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

var errInvalid = errors.New("port out of range")

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errInvalid
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "loom")
	path := writeFile(t, "name: ${SAMPLE_NAME}\n")

	s := sample{Port: 8080}
	if err := Load(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "loom" || s.Port != 8080 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "nmae: typo\nport: 1\n")
	if err := Load(path, &sample{}); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_RunsValidator(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	err := Load(path, &sample{})
	if !errors.Is(err, errInvalid) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "")
	s := sample{Port: 1}
	if err := Load(path, &s); err != nil {
		t.Fatalf("empty file should keep defaults: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &sample{Port: 1})
	if err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadOptional_MissingFileValidatesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if err := LoadOptional(missing, &sample{Port: 1}); err != nil {
		t.Fatalf("defaults should be accepted: %v", err)
	}
	if err := LoadOptional(missing, &sample{}); !errors.Is(err, errInvalid) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

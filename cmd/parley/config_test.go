package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	raw := "model = \"gpt-4o\"\nbase_url = \"http://localhost:8080/v1\"\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model != "gpt-4o" || cfg.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.APIKeyEnv != "PARLEY_API_KEY" {
		t.Errorf("APIKeyEnv = %s, want default", cfg.APIKeyEnv)
	}
}

func TestLoadConfigRejectsEmptyModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	if err := os.WriteFile(path, []byte("model = \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("empty model should error")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	want := Config{Model: "gpt-4o-mini", BaseURL: "http://localhost:9999", APIKeyEnv: "MY_KEY"}

	if err := WriteConfig(path, want); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

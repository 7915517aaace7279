package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
)

func initFixturePaths(t *testing.T) *Paths {
	t.Helper()
	t.Setenv("PARLEY_HOME", t.TempDir())
	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	return paths
}

func TestRunInitCreatesEverything(t *testing.T) {
	paths := initFixturePaths(t)
	var out bytes.Buffer

	if err := runInit(context.Background(), &out, paths, false); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	for _, path := range []string{paths.SpoolDir, paths.ConfigPath, paths.PolicyPath, paths.DBPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}
	if !strings.Contains(out.String(), "initialized") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunInitKeepsExistingConfig(t *testing.T) {
	paths := initFixturePaths(t)
	var out bytes.Buffer

	if err := runInit(context.Background(), &out, paths, false); err != nil {
		t.Fatal(err)
	}

	// Customize the config, re-run init, and verify it survives.
	custom := Config{Model: "custom-model", APIKeyEnv: "MY_KEY"}
	if err := WriteConfig(paths.ConfigPath, custom); err != nil {
		t.Fatal(err)
	}
	if err := runInit(context.Background(), &out, paths, false); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(paths.ConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "custom-model" {
		t.Errorf("Model = %s, init overwrote the config without --force", cfg.Model)
	}

	// With force, defaults come back.
	if err := runInit(context.Background(), &out, paths, true); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(paths.ConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != DefaultConfig().Model {
		t.Errorf("Model = %s, want default after --force", cfg.Model)
	}
}

func TestRunInitIdempotentSchema(t *testing.T) {
	paths := initFixturePaths(t)
	var out bytes.Buffer

	if err := runInit(context.Background(), &out, paths, false); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := runInit(context.Background(), &out, paths, false); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

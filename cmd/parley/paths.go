package main

import (
	"fmt"
	"os"
	"path/filepath"

	"parley/pkg/convo"
)

// Paths holds all resolved parley state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.parley or PARLEY_HOME
	PIDPath    string // parley.pid or PARLEY_PID_PATH
	DBPath     string // state.db or PARLEY_DB_PATH
	SpoolDir   string // spool/ or PARLEY_SPOOL_DIR
	ConfigPath string // parley.toml (respects PARLEY_HOME)
	PolicyPath string // policy.yaml (respects PARLEY_HOME)
}

// ResolvePaths returns all parley paths, respecting env var overrides.
// Environment variables:
//   - PARLEY_HOME: base directory for all parley state (default: ~/.parley)
//   - PARLEY_PID_PATH: daemon PID file (default: $PARLEY_HOME/parley.pid)
//   - PARLEY_DB_PATH: state database (default: $PARLEY_HOME/state.db)
//   - PARLEY_SPOOL_DIR: inbound event spool (default: $PARLEY_HOME/spool)
//
// If PARLEY_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the PARLEY_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:       home,
		PIDPath:    resolvePathWithEnv("PARLEY_PID_PATH", home, "parley.pid"),
		DBPath:     resolvePathWithEnv("PARLEY_DB_PATH", home, "state.db"),
		SpoolDir:   resolvePathWithEnv("PARLEY_SPOOL_DIR", home, convo.SpoolDirName),
		ConfigPath: filepath.Join(home, convo.ConfigFileName),
		PolicyPath: filepath.Join(home, convo.PolicyFileName),
	}, nil
}

// resolveHome returns the parley home directory from PARLEY_HOME or ~/.parley.
func resolveHome() (string, error) {
	if v := os.Getenv("PARLEY_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, convo.ParleyDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

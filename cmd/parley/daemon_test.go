package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.pid")

	if err := WritePIDFile(path, 12345); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != 12345 {
		t.Errorf("pid = %d, want 12345", pid)
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Idempotent.
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Error("malformed PID file should error")
	}
}

func TestDaemonStatus(t *testing.T) {
	dir := t.TempDir()

	t.Run("stopped", func(t *testing.T) {
		status, pid, err := DaemonStatus(filepath.Join(dir, "missing.pid"))
		if err != nil {
			t.Fatal(err)
		}
		if status != StatusStopped || pid != 0 {
			t.Errorf("status = %s pid = %d, want stopped 0", status, pid)
		}
	})

	t.Run("running", func(t *testing.T) {
		path := filepath.Join(dir, "running.pid")
		if err := WritePIDFile(path, os.Getpid()); err != nil {
			t.Fatal(err)
		}
		status, pid, err := DaemonStatus(path)
		if err != nil {
			t.Fatal(err)
		}
		if status != StatusRunning || pid != os.Getpid() {
			t.Errorf("status = %s pid = %d, want running %d", status, pid, os.Getpid())
		}
	})

	t.Run("stale", func(t *testing.T) {
		path := filepath.Join(dir, "stale.pid")
		// PID 1 is init; a PID near the max is almost certainly dead.
		if err := WritePIDFile(path, 4194000); err != nil {
			t.Fatal(err)
		}
		status, _, err := DaemonStatus(path)
		if err != nil {
			t.Fatal(err)
		}
		if status != StatusStale {
			t.Errorf("status = %s, want stale", status)
		}
	})
}

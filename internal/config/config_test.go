package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != defaults.ListenAddr {
		t.Fatalf("want default listen addr %q, got %q", defaults.ListenAddr, cfg.ListenAddr)
	}
	if cfg.SnapshotMinUpdates != defaults.SnapshotMinUpdates {
		t.Fatalf("want default snapshot min updates %d, got %d", defaults.SnapshotMinUpdates, cfg.SnapshotMinUpdates)
	}
}

func TestLoadParsesYAMLOverridingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	content := "listen_addr: \":9999\"\nsnapshot_min_updates: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("want listen_addr :9999, got %q", cfg.ListenAddr)
	}
	if cfg.SnapshotMinUpdates != 50 {
		t.Fatalf("want snapshot_min_updates 50, got %d", cfg.SnapshotMinUpdates)
	}
	if cfg.RoomIdleEvict != defaults.RoomIdleEvict {
		t.Fatalf("want unset field to keep default, got %v", cfg.RoomIdleEvict)
	}
}

func TestEnvOverrideWinsOverFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":1111\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOARDENGINE_ADDR", ":2222")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":2222" {
		t.Fatalf("want env override :2222, got %q", cfg.ListenAddr)
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("snapshot_min_updates: 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w, err := NewWatcher(path, testLogger())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	if got := w.Current().SnapshotMinUpdates; got != 10 {
		t.Fatalf("want initial 10, got %d", got)
	}

	if err := os.WriteFile(path, []byte("snapshot_min_updates: 99\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().SnapshotMinUpdates == 99 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("config did not reload within deadline, got %d", w.Current().SnapshotMinUpdates)
}

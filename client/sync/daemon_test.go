package sync_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"boxbackup.io/boxlog"
	"boxbackup.io/config"
	csync "boxbackup.io/client/sync"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) { l.lines = append(l.lines, format) }
func (l *recordingLogger) Print(v ...interface{})                 {}
func (l *recordingLogger) Println(v ...interface{})               {}
func (l *recordingLogger) Fatal(v ...interface{})                  {}
func (l *recordingLogger) Fatalf(format string, v ...interface{})  {}

var _ boxlog.Logger = (*recordingLogger)(nil)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	return &config.Config{
		StoreHostname:              "store.example.com",
		AccountNumber:              1,
		KeysFile:                   "keys.bin",
		DataDirectory:              dataDir,
		UpdateStoreIntervalSeconds: 3600,
		BackupLocations: map[string]config.Location{
			"home": {Path: t.TempDir()},
		},
	}
}

func TestDaemonSyncCommandTriggersCycle(t *testing.T) {
	dataDir := t.TempDir()
	cfg := baseConfig(t, dataDir)
	store := newFakeStore()
	logger := &recordingLogger{}
	d := csync.NewDaemon(cfg, "", genKeys(t), store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	cycles := 0
	go func() {
		d.Run(ctx, func(start bool) {
			if start {
				cycles++
				if cycles == 1 {
					cancel()
				}
			}
		})
		close(done)
	}()

	d.Sync()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
	if cycles == 0 {
		t.Error("expected at least one sync cycle")
	}
}

func newDirtyFile(t *testing.T, dir, name string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(path, old, old)
}

func TestDaemonNotifyScriptFiresOncePerTransition(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "notified")
	script := writeScript(t, dir, "notify.sh", "echo \"$1\" >> "+marker)

	cfg := baseConfig(t, t.TempDir())
	cfg.NotifyScript = script
	loc := cfg.BackupLocations["home"]
	store := newFakeStore()
	logger := &recordingLogger{}
	d := csync.NewDaemon(cfg, "", genKeys(t), store, logger)

	// First cycle: quota refused on every upload attempt -> one
	// notification.
	store.refuseQuota = true
	newDirtyFile(t, loc.Path, "a.txt")
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	newDirtyFile(t, loc.Path, "b.txt")
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("notify script should have run once: %v", err)
	}
	if got := string(data); got != "StoreFull\n" {
		t.Errorf("marker contents = %q, want a single StoreFull line", got)
	}

	// Quota recovers, then trips again -> a second notification.
	store.refuseQuota = false
	newDirtyFile(t, loc.Path, "c.txt")
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	store.refuseQuota = true
	newDirtyFile(t, loc.Path, "d.txt")
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(marker)
	if string(data) != "StoreFull\nStoreFull\n" {
		t.Errorf("marker contents after recovery+re-trip = %q, want two StoreFull lines", string(data))
	}
}

func TestDaemonAllowScriptDelaysSync(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "allow.sh", "echo 30")

	cfg := baseConfig(t, t.TempDir())
	cfg.SyncAllowScript = script
	store := newFakeStore()
	logger := &recordingLogger{}
	d := csync.NewDaemon(cfg, "", genKeys(t), store, logger)

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.stored) != 0 {
		t.Errorf("allow-script returning a positive delay should have skipped the cycle, stored = %v", store.stored)
	}
}

func TestDaemonForceSyncBypassesAllowScript(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "allow.sh", "echo 30")

	cfg := baseConfig(t, t.TempDir())
	cfg.SyncAllowScript = script
	os.WriteFile(filepath.Join(cfg.BackupLocations["home"].Path, "a.txt"), []byte("x"), 0o644)
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(filepath.Join(cfg.BackupLocations["home"].Path, "a.txt"), old, old)

	store := newFakeStore()
	logger := &recordingLogger{}
	d := csync.NewDaemon(cfg, "", genKeys(t), store, logger)
	d.ForceSync()

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.stored) != 1 {
		t.Errorf("ForceSync should bypass SyncAllowScript, stored = %v", store.stored)
	}
}

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "verification:\n  encrypt_key: key-0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, cfg, nil)
	w.delay = 10 * time.Millisecond
	changed := make(chan *Config, 16)
	w.OnChange(func(c *Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	// The watch is registered asynchronously; keep writing until a reload lands.
	deadline := time.After(5 * time.Second)
	for i := 1; ; i++ {
		writeFile(t, path, fmt.Sprintf("verification:\n  encrypt_key: key-%d\n", i))
		select {
		case c := <-changed:
			if c.Verification.EncryptKey == "key-0" {
				t.Fatal("reload returned the old key")
			}
			if w.Config().Verification.EncryptKey == "key-0" {
				t.Fatal("Config() not updated after reload")
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "verification:\n  encrypt_key: good\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWatcher(path, cfg, nil)

	called := false
	w.OnChange(func(*Config) { called = true })

	writeFile(t, path, "dedup:\n  backend: nonsense\n")
	if _, err := w.Reload(); err == nil {
		t.Fatal("Reload() succeeded with invalid config")
	}
	if called {
		t.Error("OnChange called for a failed reload")
	}
	if w.Config().Verification.EncryptKey != "good" {
		t.Error("current config replaced by failed reload")
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "verification:\n  encrypt_key: k\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewWatcher(path, cfg, nil).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

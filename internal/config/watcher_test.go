package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/gameweaver/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// bumpMtime moves the file's mtime forward so coarse filesystem clocks still
// register the edit.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	future := time.Now().Add(by)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

type change struct {
	old, new *config.Config
	diff     config.Diff
}

func startWatcher(t *testing.T, path string) (*config.Watcher, chan change) {
	t.Helper()
	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.Diff) {
		changes <- change{old, new, d}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, changes
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: info\n")

	w, _ := startWatcher(t, path)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want info", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_ReportsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: info\n")
	w, changes := startWatcher(t, path)

	writeFile(t, path, "server:\n  log_level: debug\ngame:\n  catalog_file: extra.yaml\n")
	bumpMtime(t, path, time.Second)

	select {
	case c := <-changes:
		if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
			t.Errorf("change = %q -> %q, want info -> debug", c.old.Server.LogLevel, c.new.Server.LogLevel)
		}
		if !c.diff.LogLevelChanged || !c.diff.CatalogChanged || c.diff.NewCatalogFile != "extra.yaml" {
			t.Errorf("diff = %+v", c.diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current did not advance")
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: warn\n")
	w, changes := startWatcher(t, path)

	writeFile(t, path, "server:\n  log_level: bananas\n")
	bumpMtime(t, path, time.Second)

	select {
	case c := <-changes:
		t.Fatalf("invalid config reported as change: %+v", c.diff)
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Server.LogLevel != config.LogWarn {
		t.Errorf("log_level = %q, want warn kept", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutEdit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: info\n")
	_, changes := startWatcher(t, path)

	bumpMtime(t, path, time.Second)
	select {
	case c := <-changes:
		t.Fatalf("touch reported as change: %+v", c.diff)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		cfg, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name        string
		edit        func(*config.Config)
		wantLevel   bool
		wantCatalog bool
		wantRestart []string
	}{
		{name: "identical", edit: func(*config.Config) {}},
		{name: "log level", edit: func(c *config.Config) { c.Server.LogLevel = config.LogError }, wantLevel: true},
		{name: "catalog", edit: func(c *config.Config) { c.Game.CatalogFile = "x.yaml" }, wantCatalog: true},
		{name: "listen addr", edit: func(c *config.Config) { c.Server.ListenAddr = ":1" }, wantRestart: []string{"server"}},
		{name: "origins", edit: func(c *config.Config) { c.Server.AllowedOrigins = []string{"a"} }, wantRestart: []string{"server"}},
		{
			name: "providers and voice",
			edit: func(c *config.Config) {
				c.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "ollama"}}
				c.Voice.Voice = "verse"
			},
			wantRestart: []string{"providers", "voice"},
		},
		{name: "game tunable", edit: func(c *config.Config) { c.Game.FallbackLine = "..." }, wantRestart: []string{"game"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := base(), base()
			tt.edit(updated)
			d := config.Compare(old, updated)
			if d.LogLevelChanged != tt.wantLevel || d.CatalogChanged != tt.wantCatalog {
				t.Errorf("diff = %+v", d)
			}
			if !slices.Equal(d.Restart, tt.wantRestart) {
				t.Errorf("Restart = %v, want %v", d.Restart, tt.wantRestart)
			}
			if empty := !tt.wantLevel && !tt.wantCatalog && tt.wantRestart == nil; d.Empty() != empty {
				t.Errorf("Empty() = %v, want %v", d.Empty(), empty)
			}
		})
	}
}

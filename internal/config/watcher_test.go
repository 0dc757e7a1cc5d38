package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/internal/config"
)

const watcherValidYAML = `
providers:
  llm: {name: openai}
  stt: {name: whisper}
  tts: {name: coqui}
persona:
  system_prompt: You are a clock.
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm: {name: openai}
  stt: {name: whisper}
  tts: {name: coqui}
persona:
  system_prompt: You are a calendar.
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite replaces the file and moves its mtime forward so coarse
// filesystem clocks still register the change.
func rewrite(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	mtime := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type change struct{ old, new *config.Config }

func startWatcher(t *testing.T, content string) (string, *config.Watcher, chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes <- change{old, new}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, changes
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherValidYAML)

	if got := w.Current().Persona.SystemPrompt; got != "You are a clock." {
		t.Errorf("system prompt = %q", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path, w, changes := startWatcher(t, watcherValidYAML)

	rewrite(t, path, watcherUpdatedYAML, 1)

	select {
	case c := <-changes:
		if c.old.Persona.SystemPrompt != "You are a clock." || c.new.Persona.SystemPrompt != "You are a calendar." {
			t.Errorf("change = %q -> %q", c.old.Persona.SystemPrompt, c.new.Persona.SystemPrompt)
		}
		if d := config.Diff(c.old, c.new); !d.SystemPromptChanged || !d.LogLevelChanged {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current().Server.LogLevel = %q, want debug", got)
	}
}

func TestWatcher_KeepsConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()
	path, w, changes := startWatcher(t, watcherValidYAML)

	rewrite(t, path, watcherInvalidYAML, 1)
	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Persona.SystemPrompt; got != "You are a clock." {
		t.Errorf("system prompt after invalid edit = %q", got)
	}

	// A later valid edit is still picked up.
	rewrite(t, path, watcherUpdatedYAML, 2)
	select {
	case c := <-changes:
		if c.new.Persona.SystemPrompt != "You are a calendar." {
			t.Errorf("new prompt = %q", c.new.Persona.SystemPrompt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported after recovery")
	}
}

func TestWatcher_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	path, _, changes := startWatcher(t, watcherValidYAML)

	rewrite(t, path, watcherValidYAML, 1)
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherValidYAML)
	w.Stop()
	w.Stop()
}

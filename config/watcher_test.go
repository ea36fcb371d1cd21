package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	initial := MustLoad(path)

	w := NewWatcher(path, initial, nil)
	w.interval = 5 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	// Give the watcher a beat to record the initial mod time, then bump it.
	time.Sleep(20 * time.Millisecond)
	updated := sampleYAML + "output:\n  dir: rendered\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	bumpModTime(t, path)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "rendered", cfg.Output.Dir)
		assert.Equal(t, "rendered", w.Current().Output.Dir)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never delivered the reload")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidChange(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	initial := MustLoad(path)

	w := NewWatcher(path, initial, nil)
	w.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("providers: {}\n"), 0o644))
	bumpModTime(t, path)

	// The broken file must never become the current config.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "gemini", w.Current().DefaultProvider)
}

// bumpModTime pushes the file's mtime forward; coarse filesystem timestamp
// resolution would otherwise hide back-to-back writes.
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

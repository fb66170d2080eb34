package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHotConfigLoadsInitialValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	cfg := Config{Language: "en", TranscribeAPI: TranscribeAPIWhisperCPP, ModelPath: "/m.bin"}
	require.NoError(t, Save(path, cfg))

	hc, err := NewHotConfig(path)
	require.NoError(t, err)
	defer hc.Close()

	require.Equal(t, "en", hc.Get().Language)
}

func TestHotConfigReloadNotifiesSubscribers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, Save(path, Config{Language: "en"}))

	hc, err := NewHotConfig(path)
	require.NoError(t, err)
	defer hc.Close()

	seen := make(chan string, 4)
	hc.OnReload(func(c *Config) {
		seen <- c.Language
	})

	go hc.Watch()
	// Give the watcher a moment to register before mutating the file.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, Save(path, Config{Language: "de"}))

	select {
	case lang := <-seen:
		require.Equal(t, "de", lang)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload notification")
	}
}

func TestDirOf(t *testing.T) {
	require.Equal(t, "/a/b", dirOf("/a/b/c.json"))
	require.Equal(t, ".", dirOf("c.json"))
}

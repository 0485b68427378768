// Package soundstream implements the client-side audio stream engine:
// the per-stream object that opens a playback or record channel to a
// remote sound server and keeps an accurate, low-latency estimate of
// where audio "really is" despite asynchronous replies and network
// jitter.
package soundstream

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Config holds persistent client-side preferences for the stream
// engine. It does not hold per-stream state — that lives on Stream
// itself — only defaults applied when a caller doesn't specify one.
type Config struct {
	DefaultServer     string     `json:"default_server"`
	DefaultBufferAttr BufferAttr `json:"default_buffer_attr"`
	AutoTiming        bool       `json:"auto_timing"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultServer: "localhost:4713",
		DefaultBufferAttr: BufferAttr{
			MaxLength: 4 * 1024 * 1024,
		},
		AutoTiming: true,
	}
}

// ConfigPath returns the absolute path to the config file.
func ConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "soundstream", "config.json"), nil
}

// LoadConfig reads the config file and returns it. If the file is
// missing or unreadable, the default config is returned — never an
// error.
func LoadConfig() Config {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig()
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig()
	}
	return cfg
}

// SaveConfig writes cfg to disk, creating the directory if needed.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// WatchConfig watches the config file for changes and invokes onChange
// with the freshly loaded Config whenever it's rewritten. It returns a
// stop function, or an error if the watcher couldn't be set up (a
// missing config directory is not fatal — WatchConfig creates it).
func WatchConfig(onChange func(Config)) (stop func() error, err error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange(LoadConfig())
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() error {
		close(done)
		return w.Close()
	}, nil
}

// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reloads a configuration file into a ConfigStore when it changes.

package control

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// WatchFile polls path every interval and installs each changed, valid
// version into store. Invalid versions are logged and skipped. It returns
// when ctx is done.
func WatchFile(ctx context.Context, path string, interval time.Duration, store *ConfigStore, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config", "path", path)
	var lastMod time.Time
	if st, err := os.Stat(path); err == nil {
		lastMod = st.ModTime()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := os.Stat(path)
		if err != nil || !st.ModTime().After(lastMod) {
			continue
		}
		lastMod = st.ModTime()
		cfg, err := LoadConfig(path)
		if err != nil {
			logger.Warn("config reload rejected", "err", err)
			continue
		}
		if err := store.Set(cfg); err != nil {
			logger.Warn("config reload rejected", "err", err)
			continue
		}
		logger.Info("config reloaded")
	}
}

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yllada/vpn-orchestrator/common"
)

const debounceInterval = 500 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes the new
// configuration to onChange. The parent directory is watched so editors that
// replace the file on save are picked up. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsW.Close()

	if err := fsW.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fsW.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			cfg, err := Load(path)
			if err != nil {
				common.LogWarn("Config reload failed, keeping current settings: %v", err)
				continue
			}
			common.LogInfo("Configuration reloaded from %s", path)
			onChange(cfg)
		case err, ok := <-fsW.Errors:
			if !ok {
				return nil
			}
			common.LogWarn("Config watcher error: %v", err)
		}
	}
}

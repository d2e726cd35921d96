// control/hotreload.go
// Reloads the config file into a ConfigStore on SIGHUP.

package control

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Reload loads path and installs it into cs. On error cs is unchanged.
func (cs *ConfigStore) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	return cs.SetConfig(cfg)
}

// WatchReload reloads path into cs on every SIGHUP until ctx is done.
func WatchReload(ctx context.Context, cs *ConfigStore, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := cs.Reload(path); err != nil {
					log.Error("config reload failed", zap.String("path", path), zap.Error(err))
					continue
				}
				log.Info("config reloaded", zap.String("path", path))
			}
		}
	}()
}

package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"m365gate/internal/config"
	"m365gate/pkg/logging"
)

const defaultShutdownTimeout = 10 * time.Second

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the HTTP
// server fails. It then drains the server and releases every component.
//
// When started under systemd with Type=notify, READY=1 is sent once the
// listener is bound and STOPPING=1 when shutdown begins.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.services.Close()

	addr, errCh, err := a.services.Server.Start()
	if err != nil {
		logging.Error("Run", err, "Failed to start HTTP server")
		return err
	}
	logging.Info("Run", "m365gate %s serving on %s in %s mode", a.config.Version, addr, a.gateway.Mode)
	notifySystemd(daemon.SdNotifyReady)

	watcher := a.startWatcher()
	if watcher != nil {
		defer watcher.Stop()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info("Run", "Shutdown requested")
	case err, ok := <-errCh:
		if ok && err != nil {
			logging.Error("Run", err, "HTTP server failed")
			serveErr = err
		}
	}

	notifySystemd(daemon.SdNotifyStopping)
	timeout := a.gateway.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.services.Server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Run", err, "Graceful shutdown did not complete")
		if serveErr == nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	}
	logging.Info("Run", "Stopped")
	return serveErr
}

// startWatcher hot-reloads CORS and rate-limit settings when config.yaml
// changes. Without a config directory there is nothing to watch.
func (a *Application) startWatcher() *config.Watcher {
	if a.config.ConfigPath == "" {
		return nil
	}
	w := config.NewWatcher(a.config.ConfigPath, func(cfg config.Config) {
		applyOverrides(&cfg, a.config)
		if err := cfg.Validate(); err != nil {
			logging.Warn("Config", "Ignoring invalid configuration reload: %v", err)
			return
		}
		a.services.Server.ApplyConfig(cfg)
	})
	if err := w.Start(); err != nil {
		logging.Warn("Config", "Configuration hot reload disabled: %v", err)
		return nil
	}
	return w
}

func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Debug("Run", "systemd notify %q failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Run", "Notified systemd: %s", state)
	}
}

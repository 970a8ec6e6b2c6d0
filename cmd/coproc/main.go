// Package main boots the coproc runtime: configuration, logger,
// scheduler, script bindings, and the optional MQTT bridge and metrics
// endpoint, then runs the boot script and waits for a shutdown signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coproc-io/coproc/internal/bridge/mqtt"
	"github.com/coproc-io/coproc/internal/config"
	"github.com/coproc-io/coproc/internal/logger"
	"github.com/coproc-io/coproc/internal/metrics"
	"github.com/coproc-io/coproc/internal/ports"
	runtimex "github.com/coproc-io/coproc/internal/runtime"
	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/internal/script"
)

// Application wires the runtime's moving parts together.
type Application struct {
	config  *config.Config
	logger  ports.Logger
	runtime *sched.Runtime
	engine  *script.Engine
	bridge  *mqtt.Bridge
	metrics *http.Server
}

func main() {
	os.Exit(run())
}

// run contains the program logic and returns an exit code so defers
// execute before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	app := &Application{config: cfg, logger: logr}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	if err := app.Start(ctx, group); err != nil {
		logr.Error("failed to start", ports.Field{Key: "error", Value: err})
		return 1
	}

	if path := flag.Arg(0); path != "" {
		if err := app.runScript(path); err != nil {
			logr.Error("boot script failed", ports.Field{Key: "error", Value: err})
			_ = app.shutdown()
			return 1
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logr.Info("received shutdown signal", ports.Field{Key: "signal", Value: sig.String()})
	case <-groupCtx.Done():
		logr.Error("component failed", ports.Field{Key: "error", Value: groupCtx.Err()})
	}

	cancel()
	if err := app.shutdown(); err != nil {
		logr.Error("failed to shutdown gracefully", ports.Field{Key: "error", Value: err})
		return 1
	}
	if err := group.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		logr.Error("component error", ports.Field{Key: "error", Value: err})
		return 1
	}

	logr.Info("shutdown complete")
	return 0
}

// Start brings up the runtime and its optional collaborators.
func (app *Application) Start(ctx context.Context, group *errgroup.Group) error {
	app.logger.Info("starting runtime",
		ports.Field{Key: "name", Value: app.config.App.Name},
		ports.Field{Key: "pool_size", Value: app.config.Runtime.DefaultPoolSize},
	)

	// Best-effort CPU affinity (no-op off Linux).
	if cpus := app.config.Runtime.CPUAffinity; len(cpus) > 0 {
		if err := runtimex.ApplyProcessAffinity(runtimex.AffinitySpec{CPUSet: cpus}); err != nil {
			app.logger.Warn("could not apply CPU affinity", ports.Field{Key: "error", Value: err})
		}
	}

	app.runtime = sched.NewRuntime(sched.Options{
		Logger:          app.logger,
		DefaultPoolSize: app.config.Runtime.DefaultPoolSize,
		StepBudget:      app.config.Runtime.StepBudget,
		LockOSThread:    app.config.Runtime.LockOSThread,
	})
	app.engine = script.New(app.runtime)

	if app.config.Metrics.Enabled {
		collector := metrics.NewCollector(app.runtime.Metrics(), app.runtime.ReadyDepth)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(metrics.NewRegistry(collector)))
		app.metrics = &http.Server{
			Addr:              app.config.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			app.logger.Info("metrics endpoint listening",
				ports.Field{Key: "address", Value: app.config.Metrics.Address})
			return app.metrics.ListenAndServe()
		})
	}

	if app.config.MQTT.Enabled {
		if err := app.startBridge(ctx); err != nil {
			return err
		}
	}

	return nil
}

// startBridge connects the MQTT bridge and exposes its channels.
func (app *Application) startBridge(ctx context.Context) error {
	client, err := mqtt.NewClient(&app.config.MQTT, app.logger)
	if err != nil {
		return fmt.Errorf("create mqtt client: %w", err)
	}
	ingress, err := app.runtime.NewChannel()
	if err != nil {
		return err
	}
	egress, err := app.runtime.NewChannel()
	if err != nil {
		return err
	}
	app.bridge = mqtt.NewBridge(client, &app.config.MQTT, app.logger, ingress, egress)
	return app.bridge.Start(ctx)
}

// runScript executes the boot script in a host interpreter. When the
// bridge is active its channels are published as the global `bridge`
// so scripts can wire processes to the outside world.
func (app *Application) runScript(path string) error {
	src, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
	if err != nil {
		return fmt.Errorf("read boot script: %w", err)
	}

	vm, err := app.engine.NewHostVM()
	if err != nil {
		return err
	}

	if app.bridge != nil {
		bridgeObj := vm.NewObject()
		if err := bridgeObj.Set("input", app.engine.ChannelValue(vm, app.bridge.Ingress())); err != nil {
			return err
		}
		if err := bridgeObj.Set("output", app.engine.ChannelValue(vm, app.bridge.Egress())); err != nil {
			return err
		}
		if err := vm.Set("bridge", bridgeObj); err != nil {
			return err
		}
	}

	_, err = vm.RunScript(path, string(src))
	return err
}

// shutdown stops collaborators and drains the runtime.
func (app *Application) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.App.ShutdownTimeout.Std())
	defer cancel()

	// The runtime goes first: closing its channels releases the bridge's
	// egress drain, so Stop below does not wait out the timeout.
	err := app.runtime.Shutdown(shutdownCtx)
	if app.bridge != nil {
		app.bridge.Stop(shutdownCtx)
	}
	if app.metrics != nil {
		_ = app.metrics.Shutdown(shutdownCtx)
	}
	return err
}

package serve

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/asbbridge/cmd/asbbridge/internal"
	"github.com/tinyland-inc/asbbridge/pkg/bridge"
	"github.com/tinyland-inc/asbbridge/pkg/bus"
	"github.com/tinyland-inc/asbbridge/pkg/config"
	"github.com/tinyland-inc/asbbridge/pkg/events"
	"github.com/tinyland-inc/asbbridge/pkg/ingest"
	"github.com/tinyland-inc/asbbridge/pkg/logger"
)

const shutdownTimeout = 2 * time.Second

// Run loads configuration for cmd and serves on the process's stdio until a
// signal arrives.
func Run(cmd *cobra.Command, opts *Options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	return serve(cfg, os.Stdin, os.Stdout, signals)
}

// loadConfig layers the config file, environment and changed flags, then sets
// up logging from the result.
func loadConfig(cmd *cobra.Command, opts *Options) (*config.Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("error loading env file: %w", err)
		}
	}

	cfg, err := internal.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.Host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	if err := logger.Configure(logger.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Color:  cfg.Log.Color,
	}); err != nil {
		return nil, err
	}
	if opts.Debug {
		logger.SetLevel(logger.DEBUG)
		logger.DebugC("serve", "Debug logging enabled")
	}
	return cfg, nil
}

// serve runs the bridge between stdin and stdout. It returns nil after a
// signal and an error when the bridge cannot start or keep running.
func serve(cfg *config.Config, stdin io.Reader, stdout io.Writer, signals <-chan os.Signal) error {
	emitter := events.NewEmitter(stdout)
	queue := bus.NewCommandQueue()

	// The control channel has no cancellation; the goroutine ends with the
	// process or at end of input.
	ingestor := ingest.NewIngestor(stdin, queue, cfg.Ingest.MaxLineBytes)
	go func() {
		if err := ingestor.Run(); err != nil {
			logger.ErrorCF("serve", "Control channel reader stopped", map[string]any{"error": err.Error()})
		}
	}()

	srv := bridge.NewServer(cfg, queue, emitter)
	if err := srv.Start(context.Background()); err != nil {
		logger.ErrorCF("serve", "Could not bind listener", map[string]any{
			"addr":  cfg.ListenAddr(),
			"error": err.Error(),
		})
		emitter.Emit(events.ServerError(err))
		return fmt.Errorf("starting bridge: %w", err)
	}

	if err := emitter.Emit(events.Ready(srv.URL())); err != nil {
		stop(srv)
		return err
	}
	logger.InfoCF("serve", "Bridge ready", map[string]any{"url": srv.URL()})

	select {
	case sig := <-signals:
		reason := events.ReasonKeyboardInterrupt
		if sig == syscall.SIGTERM {
			reason = events.ReasonTerminated
		}
		logger.InfoCF("serve", "Shutting down", map[string]any{"signal": sig.String()})
		stop(srv)
		if err := emitter.Emit(events.Shutdown(reason)); err != nil {
			return err
		}
		return nil

	case err := <-srv.Errors():
		logger.ErrorCF("serve", "Bridge failed", map[string]any{"error": err.Error()})
		emitter.Emit(events.ServerError(err))
		stop(srv)
		return err

	case err := <-emitter.Fatal():
		logger.ErrorCF("serve", "Event channel failed", map[string]any{"error": err.Error()})
		stop(srv)
		return err
	}
}

// stop tears the bridge down within shutdownTimeout. In-flight commands are
// not flushed.
func stop(srv *bridge.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.WarnCF("serve", "Teardown incomplete", map[string]any{"error": err.Error()})
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/config"
	"github.com/cinderfn/cinder/internal/dispatch"
	"github.com/cinderfn/cinder/internal/runner"
	"github.com/cinderfn/cinder/internal/server"
	"github.com/cinderfn/cinder/internal/statestore"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
}

// NewServeCommand creates the serve command: the long-running process
// hosting the HTTP surface, the dispatcher and the optional queue
// intake.
func NewServeCommand(rootOpts *RootOptions, registry *runner.Registry) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the allocation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, registry)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	return cmd
}

func serve(ctx context.Context, opts *ServeOptions, registry *runner.Registry) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	log := slog.Default()

	if err := os.MkdirAll(cfg.Blob.LocalRoot, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "create blob root", err)
	}

	var object *blob.ObjectStore
	if cfg.Blob.S3Region != "" {
		object, err = blob.NewObjectStore(ctx, cfg.Blob.S3Region)
		if err != nil {
			return WrapExitError(ExitCommandError, "object blob backend", err)
		}
	}
	store := blob.NewRouter(blob.NewLocalStore(), object, blob.NewHTTPStore())

	states, err := statestore.Open(cfg.SQLite.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open state store", err)
	}
	defer states.Close()

	placer, err := runner.NewLocalPlacer(cfg.Blob.LocalRoot)
	if err != nil {
		return WrapExitError(ExitCommandError, "blob placement", err)
	}
	r, err := runner.New(runner.Options{
		Store:    store,
		Registry: registry,
		Placer:   placer,
		Journal:  states,
		Log:      log,
		UserLog:  slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "build runner", err)
	}

	d := dispatch.NewDispatcher(r, states, dispatch.UUIDv7Generator{}, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return WrapExitError(ExitCommandError, "connect to redis", err)
		}
		intake := dispatch.NewRedisIntake(client, d, cfg.Redis.QueueKey, log)
		go func() {
			if err := intake.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("redis intake stopped", "error", err)
			}
		}()
	}

	app := server.New(server.Options{
		Dispatcher:         d,
		Store:              store,
		Placer:             placer,
		States:             states,
		MaxLongPollSeconds: cfg.Server.LongPollSeconds,
		Log:                log,
	})

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			log.Error("server shutdown", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", cfg.Server.Addr,
		"functions", registry.Names())
	if err := app.Listen(cfg.Server.Addr); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	// Let in-flight allocations land their results before exit.
	d.Wait()
	return nil
}

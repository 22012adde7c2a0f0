package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/card-enricher/internal/bootstrap"
	"github.com/kirillkom/card-enricher/internal/config"
	"github.com/kirillkom/card-enricher/internal/core/ports"
	"github.com/kirillkom/card-enricher/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(connectAdmin)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// connectAdmin wires the same use cases the API serves, without a queue connection.
func connectAdmin(ctx context.Context) (ports.Administration, func(), error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logging.NewJSONLogger("cardctl", cfg.LogLevel))

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "cardctl"})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app.Admin, app.Close, nil
}

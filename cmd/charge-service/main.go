package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/tartan"
	"github.com/kode4food/tartan/pkg/builder"
	"github.com/kode4food/tartan/pkg/log"
)

func main() {
	level, _ := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(log.NewWithLevel(
		"charge-service", os.Getenv("ENV"), tartan.Version, level,
	))

	limit, err := chargeLimit(os.Getenv("CHARGE_LIMIT"))
	if err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	srv := builder.NewStepServerFromEnv()
	if err := srv.Handle("charge", newProcessor(limit).charge); err != nil {
		slog.Error("Failed to register step", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	slog.Info("Charge endpoint", slog.String("url", srv.Endpoint("charge")))
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("Step server failed", log.Error(err))
		os.Exit(1)
	}
}

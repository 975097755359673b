package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/tillpoint/internal/domain/till"
	"github.com/xenking/tillpoint/internal/repository"
)

func main() {
	var (
		databaseURL string
		storeID     string
		confirmed   bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&storeID, "store", "", "store to wipe")
	flag.BoolVar(&confirmed, "yes", false, "confirm the wipe; without it nothing runs")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if storeID == "" {
		slog.Error("store is required: set --store")
		os.Exit(1)
	}
	if !confirmed {
		slog.Error("refusing to wipe without --yes", slog.String("store", storeID))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, storeID); err != nil {
		var open *till.SessionAlreadyOpenError
		if errors.As(err, &open) {
			slog.Error("store has an open till session, close it first",
				slog.String("store", storeID),
				slog.String("session", open.SessionID),
			)
		} else {
			slog.Error("store reset failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, storeID string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	res, err := repository.NewAdminRepository(pool).ResetStore(ctx, storeID)
	if err != nil {
		return err
	}

	slog.Info("store reset",
		slog.String("store", storeID),
		slog.Int64("sales", res.Sales),
		slog.Int64("sessions", res.Sessions),
		slog.Int64("products", res.Products),
	)
	return nil
}

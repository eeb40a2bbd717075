package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/martpoint/promo-engine/internal/domain/promoindex"
	"github.com/martpoint/promo-engine/internal/repository"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("index rebuild failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("index rebuild completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	svc := promoindex.New(
		repository.NewIndexRepository(pool),
		repository.NewPromotionRepository(pool),
		lg.Named("promoindex"),
	)

	count, err := svc.Rebuild(ctx)
	if err != nil {
		return errors.Wrap(err, "rebuild index")
	}

	slog.Info("index rebuilt", slog.Int("barcodes", count))
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ayo6706/shift-donations/internal/config"
	"github.com/ayo6706/shift-donations/internal/db"
	"github.com/ayo6706/shift-donations/migrations"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	pool, err := db.Connect(ctx, config.LoadDatabaseURL(), 2)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.FS)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", zap.Int("applied", len(applied)))
	return nil
}

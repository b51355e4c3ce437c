// Seed loader: imports plan and benefit JSON files into the catalog
// database. Paths come from PLANS_JSON and BENEFITS_JSON; either may be
// omitted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/lacheln1/unoa-server/internal/config"
	"github.com/lacheln1/unoa-server/internal/domain"
	"github.com/lacheln1/unoa-server/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	ctx := context.Background()

	if path := os.Getenv("PLANS_JSON"); path != "" {
		var plans []*domain.Plan
		if err := loadJSON(path, &plans); err != nil {
			slog.Error("Failed to read plans file", "path", path, "error", err)
			os.Exit(1)
		}
		inserted, err := repo.SeedPlans(ctx, plans)
		if err != nil {
			slog.Error("Failed to seed plans", "error", err)
			os.Exit(1)
		}
		slog.Info("Plans seeded", "count", inserted, "path", path)
	}

	if path := os.Getenv("BENEFITS_JSON"); path != "" {
		var benefits []*domain.Benefit
		if err := loadJSON(path, &benefits); err != nil {
			slog.Error("Failed to read benefits file", "path", path, "error", err)
			os.Exit(1)
		}
		inserted, err := repo.SeedBenefits(ctx, benefits)
		if err != nil {
			slog.Error("Failed to seed benefits", "error", err)
			os.Exit(1)
		}
		slog.Info("Benefits seeded", "count", inserted, "path", path)
	}
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

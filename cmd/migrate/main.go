package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"

	"github.com/catalogarr/catalogarr/internal/config"
	"github.com/catalogarr/catalogarr/internal/database"
	"github.com/catalogarr/catalogarr/internal/logging"
)

func main() {
	// Environment variables alone are fine.
	_ = godotenv.Load()
	logging.InitFromEnv()
	log := logging.Component("migrate")

	cfg := config.Load()
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("migration completed")
}

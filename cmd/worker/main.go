package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/catalogarr/catalogarr/internal/cachepolicy"
	"github.com/catalogarr/catalogarr/internal/config"
	"github.com/catalogarr/catalogarr/internal/database"
	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/matching"
	"github.com/catalogarr/catalogarr/internal/mdb"
	"github.com/catalogarr/catalogarr/internal/services"
)

func main() {
	// Environment variables alone are fine.
	_ = godotenv.Load()
	logging.InitFromEnv()
	log := logging.Component("worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	store := db.Store()

	policy, err := cachepolicy.Load(cfg.CachePolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.CachePolicyFile).Msg("failed to load cache policy")
	}
	cache, err := diskcache.NewStore(cfg.CacheDir, policy)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.CacheDir).Msg("failed to open disk cache")
	}

	fetcher := fetch.NewClient(cfg.HTTPTimeout)
	fetcher.RegisterBucket(mdb.Bucket, cfg.MDBRate.Concurrency, cfg.MDBRate.WindowSec)

	mdbClient := mdb.NewClient(cfg.MDBBaseURL, cfg.MDBToken, fetcher, cache)
	matcher := matching.New(mdbClient)

	saver := services.NewSaver(store, cfg.FlushInterval)
	processor := services.NewProcessor(saver, matcher, store)
	cleanup := services.NewCleanup(store)
	purger := diskcache.NewPurger(cache, diskcache.DefaultPurgeInterval)

	scheduler := services.NewScheduler(store.Jobs, cfg.JobTimeout)
	jobs := services.NewJobs(store, processor, cleanup, purger, fetcher, cache)
	jobs.Register(scheduler, cfg.JobCadence)

	lifecycle := services.NewLifecycle(store, fetcher, cache, scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lifecycle.RegisterBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to register provider buckets")
	}

	go saver.Run(ctx)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	log.Info().Msg("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	scheduler.Wait()
	log.Info().Msg("worker stopped")
}

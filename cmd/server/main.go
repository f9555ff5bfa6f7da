package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/catalogarr/catalogarr/internal/api"
	"github.com/catalogarr/catalogarr/internal/auth"
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
	log := logging.Component("server")

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

	authn := auth.New(cfg.JWTSecret, cfg.AdminUser, cfg.AdminPasswordHash)
	handler := api.NewHandler(store, scheduler, lifecycle, authn)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.ServerPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	cancel()
	scheduler.Wait()
	log.Info().Msg("server stopped")
}

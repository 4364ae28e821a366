package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"studyforge/internal/api"
	"studyforge/internal/cleanup"
	"studyforge/internal/config"
	"studyforge/internal/notify"
	"studyforge/internal/pipeline"
	"studyforge/internal/providers"
	"studyforge/internal/queue"
	"studyforge/internal/ratelimit"
	"studyforge/internal/store"
	"studyforge/internal/stream"
	"studyforge/internal/worker"
	"studyforge/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := queue.Open(cfg.Storage.QueueDB)
	if err != nil {
		log.Fatal("Failed to open queue database:", err)
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		log.Fatal("Failed to initialize queue database:", err)
	}
	log.Println("[INIT] Queue database initialized")

	broker := notify.NewBroker(cfg.Stream.BufferSize)
	defer broker.Close()

	artifacts := &store.Artifacts{Root: cfg.Storage.Root}
	jobStore := store.New(artifacts, broker, cfg.Storage.CacheTTL)

	env := &pipeline.Env{
		Store:      jobStore,
		LLM:        providers.RankedLLM(),
		TTS:        providers.RankedTTS(),
		Images:     providers.RankedImages(),
		AssetsRoot: cfg.Storage.AssetsRoot,
	}
	pipe := pipeline.Default(env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool := worker.NewPool(db, jobStore, pipe, cfg.Worker, cfg.Retry)
	pool.Start(ctx)

	limiter := ratelimit.New(db, cfg.Limits.JobsPerHour, cfg.Limits.DownloadsPerHour)

	sweeper := cleanup.New(jobStore, db, limiter, cfg.Cleanup)
	go sweeper.Run(ctx)

	wsManager := ws.New(jobStore, db)
	go wsManager.Run(broker)

	streamSrv := stream.New(jobStore, broker, cfg.Stream)
	apiServer := api.NewServer(jobStore, db, limiter, streamSrv, wsManager, cfg)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiServer.Router(),
	}

	go func() {
		log.Printf("[INIT] Server starting on http://localhost%s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	<-ctx.Done()
	log.Println("[SHUTDOWN] Signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[SHUTDOWN] HTTP server: %v", err)
	}

	pool.Wait()
	log.Println("[SHUTDOWN] Workers drained, bye")
}

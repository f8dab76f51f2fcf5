package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/triadarena/backend/internal/api"
	"github.com/triadarena/backend/internal/api/handlers"
	"github.com/triadarena/backend/internal/assets"
	"github.com/triadarena/backend/internal/config"
	"github.com/triadarena/backend/internal/database"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/identity"
	"github.com/triadarena/backend/internal/middleware"
	"github.com/triadarena/backend/internal/migrations"
	"github.com/triadarena/backend/internal/redis"
	"github.com/triadarena/backend/internal/store"
	"github.com/triadarena/backend/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional: without it matches run memory-only
	var db *sqlx.DB
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := database.Connect(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Printf("[STORE] Database unavailable, running memory-only: %v", err)
		} else {
			db = conn
			defer db.Close()
		}
	} else {
		log.Printf("[STORE] DATABASE_URL not set, running memory-only")
	}

	if db != nil && cfg.MigrateOnStart {
		log.Println("[MIGRATE] Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redis.Connect(connectCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Printf("[WS] Redis unavailable, snapshots and cross-instance relay disabled: %v", err)
		} else {
			rdb = client
			defer rdb.Close()
		}
	}

	var (
		matchStore game.Store
		snapshots  game.SnapshotCache
		users      handlers.UserStore
		pg         *store.Postgres
	)
	if db != nil {
		pg = store.NewPostgres(db, cfg.DefaultRating)
		matchStore = pg
		users = pg
	}
	if rdb != nil {
		snapshots = store.NewRedisSnapshots(rdb, time.Duration(cfg.SnapshotTTLMinutes)*time.Minute)
	}

	mgr := game.NewManager(matchStore, snapshots, cfg)
	queue := game.NewQueue(mgr, cfg.DefaultMaxRatingDiff)
	hub := ws.NewHub()
	fanout := ws.NewFanout(hub, rdb)
	fanout.StartSubscriber(ctx)
	dispatcher := ws.NewDispatcher(mgr, hub, fanout)
	near := assets.NewNearClient(cfg, rdb)

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := game.ScheduleWorkers(ctx, sched, queue, mgr, cfg); err != nil {
		log.Fatalf("Failed to schedule matchmaking workers: %v", err)
	}
	if pg != nil {
		checker := assets.NewDepositChecker(pg, near, mgr)
		if err := checker.Schedule(ctx, sched, time.Duration(cfg.DepositCheckMinutes)*time.Minute); err != nil {
			log.Fatalf("Failed to schedule deposit checker: %v", err)
		}
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Printf("Scheduler shutdown: %v", err)
		}
	}()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	router := gin.Default()
	router.Use(middleware.CORSMiddleware(cfg))

	api.SetupRoutes(router, &handlers.Deps{
		Config:     cfg,
		Manager:    mgr,
		Queue:      queue,
		Hub:        hub,
		Dispatcher: dispatcher,
		Tokens:     identity.NewTokens(cfg.JWTSecret, time.Duration(cfg.JWTExpiresMinutes)*time.Minute),
		Telegram:   identity.NewTelegramVerifier(cfg.TelegramBotToken, time.Duration(cfg.TelegramInitDataMaxAgeS)*time.Second),
		Users:      users,
		Assets:     near,
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		log.Printf("Starting TriadArena server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}

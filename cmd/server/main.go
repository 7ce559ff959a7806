package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/npezzotti/go-community/internal/api"
	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/config"
	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/push"
	"github.com/npezzotti/go-community/internal/server"
	"github.com/npezzotti/go-community/internal/stats"
	"github.com/npezzotti/go-community/internal/stream"
	"github.com/redis/go-redis/v9"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	logger := log.New(os.Stderr, "[go-community] ", log.LstdFlags)

	env, err := config.LoadEnv(".env.local", ".env")
	if err != nil {
		logger.Fatal("env:", err)
	}
	if env.SigningKey == "" {
		env.SigningKey = defaultSigningKey
	}

	var allowedOrigins stringSliceFlag
	flag.StringVar(&env.Addr, "addr", env.Addr, "server address")
	flag.StringVar(&env.DatabaseDSN, "dsn", env.DatabaseDSN, "database connection string")
	flag.StringVar(&env.SigningKey, "signing-key", env.SigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&env.RedisURL, "redis-url", env.RedisURL, "redis URL for the event bridge and push queue (optional)")
	flag.StringVar(&env.UploadDir, "upload-dir", env.UploadDir, "directory for message attachments")
	flag.StringVar(&env.FirebaseProjectID, "firebase-project", env.FirebaseProjectID, "firebase project id for push delivery (optional)")
	flag.StringVar(&env.AnnouncedIP, "announced-ip", env.AnnouncedIP, "public IP announced in ICE candidates")
	flag.IntVar(&env.RateLimit, "rate-limit", env.RateLimit, "requests per minute per client IP, 0 disables")
	flag.Parse()
	if len(allowedOrigins) > 0 {
		env.AllowedOrigins = allowedOrigins
	}

	cfg, err := config.NewConfig(*env)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger)

	var hubOpts []server.HubOption
	var redisOpt asynq.RedisConnOpt
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis url:", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		hubOpts = append(hubOpts, server.WithBridge(server.NewRedisBridge(logger, rdb, "")))

		redisOpt, err = asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis uri:", err)
		}
	}

	hub := server.NewHub(logger, server.MembershipFunc(db.ParticipantExists), statsUpdater, hubOpts...)

	var sender push.Sender = push.LogSender{Log: logger}
	if cfg.FirebaseProjectID != "" {
		fcm, err := push.NewFCMSender(context.Background(), cfg.FirebaseProjectID)
		if err != nil {
			logger.Fatal("push:", err)
		}
		sender = fcm
	}
	sender = push.NewBreakerSender(logger, sender, push.BreakerOptions{})

	var worker *push.Worker
	if redisOpt != nil {
		queue := asynq.NewClient(redisOpt)
		defer queue.Close()

		worker = push.NewWorker(logger, redisOpt, sender, 10)
		if err := worker.Start(); err != nil {
			logger.Fatal("push worker:", err)
		}
		sender = push.NewQueueSender(queue, 5)
	}
	dispatcher := push.NewDispatcher(logger, db, sender)

	tasks := chat.NewTaskRunner(logger)
	svc := chat.NewService(logger, db, hub, dispatcher, tasks, chat.WithAppName(cfg.AppName))

	router, err := stream.NewPionRouter(logger, stream.PionOptions{
		ICEServers:  cfg.ICEServers,
		AnnouncedIP: cfg.AnnouncedIP,
	})
	if err != nil {
		logger.Fatal("media router:", err)
	}
	coordinator := stream.NewCoordinator(logger, router, hub)
	hub.SetSignaler(coordinator)

	srv := api.NewApp(mux, logger, db, svc, hub, coordinator, dispatcher, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go hub.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	coordinator.Close()

	logger.Println("waiting for background tasks...")
	if err := tasks.Shutdown(shutDownCtx); err != nil {
		logger.Println("task runner shutdown:", err)
	}

	if worker != nil {
		worker.Shutdown()
	}

	logger.Println("shutting down hub...")
	if err := hub.Shutdown(shutDownCtx); err != nil {
		logger.Println("hub shutdown:", err)
	}

	logger.Println("shutdown complete")
}

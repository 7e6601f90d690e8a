package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"zonemarket/internal/backup"
	"zonemarket/internal/config"
	"zonemarket/internal/database"
	"zonemarket/internal/handler"
	"zonemarket/internal/logger"
	"zonemarket/internal/scheduler"
)

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 環境変数 (と CONFIG_FILE) を読み込み
	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.IsProduction()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if envErr != nil {
		logger.Warnf("⚠️  .env file not found, using default values: %v", envErr)
	}

	// データベース接続を初期化
	db, err := database.Init(cfg)
	if err != nil {
		logger.Log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer db.Close()

	// ハンドラー初期化
	h := handler.New(db, cfg)

	// WebSocket ブロードキャスターを開始
	go h.HandleBroadcast()

	// 定期ジョブ
	backups := backup.New(cfg, db)
	sched := scheduler.New(h.Metrics.JobRuns)
	jobs := []scheduler.Job{
		scheduler.BanSweep(cfg.BanSweepCron, h.Store),
		scheduler.Backup(cfg.BackupCron, scheduler.SnapshotFunc(func(ctx context.Context, name string) error {
			b, err := backups.Create(ctx, name)
			if err != nil {
				return err
			}
			logger.Infof("[scheduler] ✅ Backup written: %s (%s)", b.Name, b.HumanSize())
			return nil
		})),
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			logger.Log.Fatalf("❌ Failed to schedule %s: %v", job.Name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sched.Start(ctx)

	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(cfg, sched.Jobs())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logger.Infof("🚀 Server started successfully")

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("❌ Server error: %v", err)
		}
	case <-ctx.Done():
		logger.Infof("🛑 Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("❌ Graceful shutdown failed: %v", err)
	}
	sched.Stop()
	logger.Infof("👋 Server stopped")
}

func printBanner(cfg config.Config, jobs []string) {
	fmt.Println("========================================")
	fmt.Println("  Zone Market API Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	fmt.Printf("  Docs: http://localhost:%s/docs/\n", cfg.ServerPort)
	switch cfg.DBDriver {
	case "sqlite3":
		size := "new"
		if fi, err := os.Stat(cfg.DBPath); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		fmt.Printf("  Database: sqlite3 %s (%s)\n", cfg.DBPath, size)
	default:
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Printf("  Login limit: %.1f req/s (burst %d)\n", cfg.LoginRPS, cfg.LoginBurst)
	if len(jobs) > 0 {
		fmt.Printf("  Jobs: %v\n", jobs)
	}
	fmt.Println("========================================")
}

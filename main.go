package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"

	"SATT-backend/internal/assets"
	"SATT-backend/internal/borrow"
	"SATT-backend/internal/calibration"
	"SATT-backend/internal/dashboard"
	"SATT-backend/internal/overdue"
	"SATT-backend/internal/platform/auth"
	"SATT-backend/internal/platform/db"
	"SATT-backend/internal/platform/files"
	"SATT-backend/internal/platform/metrics"
	"SATT-backend/internal/platform/notify"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)
	if mode != "dev" && mode != "release" {
		log.Fatal("config mode must be dev or release")
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	notifier := notify.FromConfig(cfg.Notify)
	fileStore, err := files.FromConfig(cfg.Files)
	if err != nil {
		panic(err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	m := metrics.New()
	r.Use(m.Middleware())

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス・メトリクス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	secret := []byte(cfg.Auth.JWTSecret)
	borrowSvc := borrow.NewService(conn, notifier, fileStore)
	overdueSvc := overdue.NewService(conn, notifier)

	// /api/v1
	api := r.Group("/api/v1")
	auth.RegisterRoutes(api, auth.NewService(conn, secret))

	authed := api.Group("")
	authed.Use(auth.RequireAuth(secret))
	assets.RegisterRoutes(authed, assets.NewService(conn))
	borrow.RegisterRoutes(authed, borrowSvc)
	calibration.RegisterRoutes(authed, calibration.NewService(conn))
	dashboard.RegisterRoutes(authed, dashboard.NewService(conn))

	// スキャンは手動起動もスタッフ以上に限定
	staff := api.Group("")
	staff.Use(auth.RequireAuth(secret), auth.RequireRole("staff", "admin"))
	overdue.RegisterRoutes(staff, overdueSvc)

	// 期限超過の定期スキャン
	scanCtx, stopScan := context.WithCancel(context.Background())
	defer stopScan()
	if cfg.Notify.ScanInterval != "" {
		interval, err := time.ParseDuration(cfg.Notify.ScanInterval)
		if err != nil {
			log.Fatalf("invalid notify.scan_interval: %v", err)
		}
		go overdueSvc.RunDailyScan(scanCtx, interval)
		log.Printf("[INFO] overdue scan every %s", interval)
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		log.Printf("[INFO] listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	stopScan()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/NewsVault/internal/api"
	"github.com/LJTian/NewsVault/internal/config"
	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/LJTian/NewsVault/internal/scheduler"
	"github.com/LJTian/NewsVault/internal/storage"
	"github.com/LJTian/NewsVault/internal/versioning"
	"github.com/gin-gonic/gin"
)

// 常驻进程：按 cron 每天跑一次流水线，同时提供查询与手动触发的 HTTP API
func main() {
	cfg := config.Load()

	comps := pipeline.ComponentsFromConfig(cfg, versioning.ExecRunner{})
	p := pipeline.New(pipeline.DefaultStages(comps), cfg.Retries, cfg.RetryDelay)

	// 未配置数据库时只跑流水线，不做归档
	var store *storage.Store
	if cfg.PostgresDSN != "" {
		var err error
		store, err = storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("init store failed: %v", err)
		}
		if err := store.EnsureSources(cfg.Sources); err != nil {
			log.Fatalf("ensure sources failed: %v", err)
		}
		comps.SetSourceProvider(store.ListSourceURLs)
		p.Recorder = store
		if store.Redis != nil {
			p.Locker = storage.NewRedisLocker(store.Redis, cfg.LockTTL)
		}
	} else {
		log.Println("POSTGRES_DSN not set, run history disabled")
	}

	s, err := scheduler.New(cfg.CronSpec, p)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.StartDate = cfg.StartDate
	s.Start()
	log.Printf("pipeline owner=%s start_date=%s retries=%d retry_delay=%s",
		cfg.Owner, cfg.StartDate.Format("2006-01-02"), cfg.Retries, cfg.RetryDelay)

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	var apiStore api.Store
	if store != nil {
		apiStore = store
	}
	api.NewServer(apiStore, s, cfg.DataDir()).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}
	go func() {
		log.Printf("starting api server at %s ...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exit: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	s.Stop()
	log.Println("bye")
}

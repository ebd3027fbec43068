package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LJTian/NewsVault/internal/config"
	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/LJTian/NewsVault/internal/storage"
	"github.com/LJTian/NewsVault/internal/versioning"
	"github.com/jessevdk/go-flags"
)

// 命令行参数优先于环境变量
type options struct {
	Config         string   `short:"c" long:"config" description:"YAML config file, same format as PIPELINE_CONFIG"`
	DataPath       string   `short:"d" long:"data-path" description:"Directory for processed_data.csv"`
	Sources        []string `short:"s" long:"source" description:"News homepage to scrape (repeatable)"`
	SkipVersioning bool     `long:"skip-versioning" description:"Only scrape and write the csv, skip dvc/git"`
	NoRetry        bool     `long:"no-retry" description:"Run a single attempt"`
	Archive        bool     `long:"archive" description:"Record the run in Postgres when POSTGRES_DSN is set"`
}

// 一个仅执行一次流水线的命令行入口：适合手动触发或外部调度
func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg := config.Load()
	if opts.Config != "" {
		if err := cfg.ApplyFile(opts.Config); err != nil {
			log.Fatalf("load config file failed: %v", err)
		}
	}
	if opts.DataPath != "" {
		cfg.DataPath = opts.DataPath
	}
	if len(opts.Sources) > 0 {
		cfg.Sources = opts.Sources
	}
	if opts.SkipVersioning {
		cfg.SkipVersioning = true
	}
	if opts.NoRetry {
		cfg.Retries = 0
	}

	var locker pipeline.Locker
	var recorder pipeline.Recorder
	if opts.Archive && cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("init store failed: %v", err)
		}
		recorder = store
		if store.Redis != nil {
			locker = storage.NewRedisLocker(store.Redis, cfg.LockTTL)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.FromConfig(cfg, versioning.ExecRunner{}, locker, recorder)
	report, err := p.Run(ctx, "manual")
	if err != nil {
		log.Printf("run %s failed after %d attempt(s): %v", report.ID, report.Attempts, err)
		stop()
		os.Exit(1)
	}
	log.Printf("run %s done, records=%d csv=%s", report.ID, report.Records, report.CSVPath)
}

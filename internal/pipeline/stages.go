package pipeline

import (
	"context"

	"github.com/LJTian/NewsVault/internal/collector"
	"github.com/LJTian/NewsVault/internal/config"
	"github.com/LJTian/NewsVault/internal/processor"
	"github.com/LJTian/NewsVault/internal/publisher"
	"github.com/LJTian/NewsVault/internal/versioning"
)

// 阶段名称沿用原 DAG 的 task id
const (
	StageExtract   = "extract_data"
	StageTransform = "transform_data"
	StageStore     = "store_and_version_data"
	StageDVCAdd    = "dvc_add"
	StageGitPush   = "git_commit_push"
	StageDVCPush   = "dvc_push"
)

// Components 是组装默认阶段所需的依赖
type Components struct {
	Fetcher    collector.Fetcher
	Normalizer *processor.Normalizer
	Publisher  *publisher.Publisher
	// Tracker 为空时只跑前三个阶段
	Tracker *versioning.Tracker
	// DataDir 是传给 dvc/git 的数据目录（相对仓库目录）；为空时使用 Publisher.Dir
	DataDir string
}

// SetSourceProvider 让抓取器优先使用外部（例如数据库）维护的新闻源列表
func (c Components) SetSourceProvider(fn func() []string) {
	if f, ok := c.Fetcher.(*collector.ArticleFetcher); ok {
		f.GetSources = fn
	}
}

// DefaultStages 按固定顺序组装：抓取 → 组表 → 发布 → dvc add → git 提交推送 → dvc 推送
func DefaultStages(c Components) []Stage {
	stages := []Stage{
		NewStage(StageExtract, func(ctx context.Context, st *RunState) error {
			records, err := c.Fetcher.Fetch(ctx)
			if err != nil {
				return err
			}
			st.Records = records
			return nil
		}),
		NewStage(StageTransform, func(ctx context.Context, st *RunState) error {
			st.Table = c.Normalizer.Process(st.Records)
			return nil
		}),
		NewStage(StageStore, func(ctx context.Context, st *RunState) error {
			path, err := c.Publisher.Publish(ctx, st.Table)
			if err != nil {
				return err
			}
			st.CSVPath = path
			return nil
		}),
	}

	if c.Tracker == nil {
		return stages
	}

	dir := c.DataDir
	if dir == "" {
		dir = c.Publisher.Dir
	}
	return append(stages,
		NewStage(StageDVCAdd, func(ctx context.Context, st *RunState) error {
			return c.Tracker.Snapshot(ctx, publisher.CSVPath(dir))
		}),
		NewStage(StageGitPush, func(ctx context.Context, st *RunState) error {
			return c.Tracker.CommitPointer(ctx, publisher.PointerPath(dir))
		}),
		NewStage(StageDVCPush, func(ctx context.Context, st *RunState) error {
			return c.Tracker.Sync(ctx)
		}),
	)
}

// ComponentsFromConfig 按配置创建真实的抓取器、发布器与版本跟踪器
func ComponentsFromConfig(cfg *config.Config, runner versioning.Runner) Components {
	dvc := versioning.NewDVC(cfg.DVCBin, cfg.RepoDir, runner)

	pub := &publisher.Publisher{
		Dir:         cfg.DataDir(),
		DriveFileID: cfg.DriveFileID,
		Downloader:  publisher.NewDriveDownloader(),
	}

	c := Components{
		Fetcher: &collector.ArticleFetcher{
			Sources:       cfg.Sources,
			UserAgent:     cfg.UserAgent,
			Timeout:       cfg.RequestTimeout,
			SkipMalformed: cfg.SkipMalformed,
		},
		Normalizer: processor.NewNormalizer(),
		Publisher:  pub,
		DataDir:    cfg.DataPath,
	}

	if cfg.SkipVersioning {
		return c
	}

	pub.Checkpointer = dvc
	c.Tracker = &versioning.Tracker{
		DVC:             dvc,
		Git:             versioning.NewGit(cfg.GitBin, cfg.RepoDir, runner),
		Remote:          cfg.GitRemote,
		Branch:          cfg.GitBranch,
		Message:         cfg.CommitMessage,
		SkipEmptyCommit: cfg.SkipEmptyCommit,
	}
	return c
}

// FromConfig 组装完整流水线；locker 为空时使用进程内锁
func FromConfig(cfg *config.Config, runner versioning.Runner, locker Locker, recorder Recorder) *Pipeline {
	p := New(DefaultStages(ComponentsFromConfig(cfg, runner)), cfg.Retries, cfg.RetryDelay)
	if locker != nil {
		p.Locker = locker
	}
	p.Recorder = recorder
	return p
}

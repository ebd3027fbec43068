package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// Runner 是调度器需要的最小能力，*pipeline.Pipeline 满足该接口
type Runner interface {
	Run(ctx context.Context, trigger string) (pipeline.RunReport, error)
	Begin(ctx context.Context, trigger string) (func() (pipeline.RunReport, error), error)
}

type Scheduler struct {
	// StartDate 之前的定时触发直接跳过，手动触发不受影响
	StartDate time.Time

	cron   *cron.Cron
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc
}

// New 按 cron 表达式注册流水线；上一轮未结束时跳过本轮
func New(spec string, runner Runner) (*Scheduler, error) {
	cronLogger := cron.VerbosePrintfLogger(log.New(os.Stderr, "cron: ", log.LstdFlags))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   c,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := c.AddFunc(spec, func() { s.run("cron") }); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		log.Printf("pipeline scheduled, next run at %s", e.Next.Format("2006-01-02 15:04:05"))
	}
}

// Stop 停止调度，取消正在运行的流水线并等待其退出
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Cron 返回内部的 cron 实例，方便注册其他定时任务
func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

// RunOnce 对外暴露的单次执行入口，方便手动触发
func (s *Scheduler) RunOnce(trigger string) (pipeline.RunReport, error) {
	return s.runner.Run(s.ctx, trigger)
}

// Begin 同步占用运行锁，供 API 判断是否已有运行（包括定时触发的）
func (s *Scheduler) Begin(trigger string) (func() (pipeline.RunReport, error), error) {
	return s.runner.Begin(s.ctx, trigger)
}

func (s *Scheduler) run(trigger string) {
	if time.Now().Before(s.StartDate) {
		log.Printf("skip scheduled run: start date %s not reached", s.StartDate.Format("2006-01-02"))
		return
	}
	log.Println("start scheduled pipeline run...")
	report, err := s.runner.Run(s.ctx, trigger)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		log.Println("previous run still in progress, skip")
		return
	}
	if err != nil {
		log.Printf("scheduled run %s failed: %v", report.ID, err)
		return
	}
	log.Printf("scheduled run %s done, records=%d", report.ID, report.Records)
}

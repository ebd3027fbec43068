package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LJTian/NewsVault/internal/collector"
	"github.com/LJTian/NewsVault/internal/processor"
	"github.com/google/uuid"
)

// ErrRunInProgress 已有一次运行持有锁
var ErrRunInProgress = errors.New("pipeline run already in progress")

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RunState 是阶段之间传递数据的载体，每次尝试都重新创建
type RunState struct {
	Records []collector.ArticleRecord
	Table   processor.ArticleTable
	CSVPath string
}

// Stage 是流水线中的一个步骤
type Stage interface {
	Name() string
	Run(ctx context.Context, st *RunState) error
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, st *RunState) error
}

func (s funcStage) Name() string                                { return s.name }
func (s funcStage) Run(ctx context.Context, st *RunState) error { return s.fn(ctx, st) }

// NewStage 用函数构造一个阶段
func NewStage(name string, fn func(ctx context.Context, st *RunState) error) Stage {
	return funcStage{name: name, fn: fn}
}

// StageError 记录失败的阶段
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// RunReport 汇总一次运行（含重试）
type RunReport struct {
	ID             string
	Trigger        string
	Attempts       int
	Status         string
	StartedAt      time.Time
	FinishedAt     time.Time
	Records        int
	CSVPath        string
	FailedStage    string
	Error          string
	StageDurations map[string]int64 // 毫秒，取最后一次尝试
	Articles       []collector.ArticleRecord
}

// Recorder 把运行结果写入归档；可以为空
type Recorder interface {
	SaveRun(ctx context.Context, r RunReport) error
}

// Locker 防止两次运行同时写同一个文件/分支
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

type Pipeline struct {
	Stages     []Stage
	Retries    int
	RetryDelay time.Duration
	Locker     Locker
	Recorder   Recorder

	sleep func(ctx context.Context, d time.Duration) error
}

func New(stages []Stage, retries int, retryDelay time.Duration) *Pipeline {
	return &Pipeline{
		Stages:     stages,
		Retries:    retries,
		RetryDelay: retryDelay,
		Locker:     &MemoryLocker{},
	}
}

// Run 串行执行所有阶段；失败后等待 RetryDelay 从头重跑，最多重试 Retries 次
func (p *Pipeline) Run(ctx context.Context, trigger string) (RunReport, error) {
	report := newReport(trigger)
	unlock, err := p.acquire(ctx, report.ID)
	if err != nil {
		return report, err
	}
	defer unlock()
	return p.execute(ctx, report)
}

// Begin 同步获取运行锁，拿不到时返回 ErrRunInProgress；
// 成功时返回的函数执行本次运行并在结束后释放锁，便于调用方异步执行
func (p *Pipeline) Begin(ctx context.Context, trigger string) (func() (RunReport, error), error) {
	report := newReport(trigger)
	unlock, err := p.acquire(ctx, report.ID)
	if err != nil {
		return nil, err
	}
	return func() (RunReport, error) {
		defer unlock()
		return p.execute(ctx, report)
	}, nil
}

func newReport(trigger string) RunReport {
	return RunReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
}

func (p *Pipeline) acquire(ctx context.Context, id string) (func(), error) {
	if p.Locker == nil {
		return func() {}, nil
	}
	unlock, ok, err := p.Locker.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		log.Printf("run %s skipped: another run is in progress", id)
		return nil, ErrRunInProgress
	}
	return unlock, nil
}

func (p *Pipeline) execute(ctx context.Context, report RunReport) (RunReport, error) {
	log.Printf("start pipeline run %s (trigger=%s, stages=%d)", report.ID, report.Trigger, len(p.Stages))

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			log.Printf("run %s: retry %d/%d in %s", report.ID, attempt, p.Retries, p.RetryDelay)
			if serr := p.wait(ctx, p.RetryDelay); serr != nil {
				err = serr
				break
			}
		}

		report.Attempts = attempt + 1
		err = p.runAttempt(ctx, &report)
		if err == nil {
			break
		}
		log.Printf("run %s attempt %d failed: %v", report.ID, attempt+1, err)
		if ctx.Err() != nil {
			break
		}
	}

	report.FinishedAt = time.Now()
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			report.FailedStage = se.Stage
		}
	} else {
		report.Status = StatusSuccess
		report.FailedStage = ""
		report.Error = ""
	}

	if p.Recorder != nil {
		if rerr := p.Recorder.SaveRun(context.WithoutCancel(ctx), report); rerr != nil {
			log.Printf("save run %s error: %v", report.ID, rerr)
		}
	}

	log.Printf("pipeline run %s %s after %d attempt(s), records=%d", report.ID, report.Status, report.Attempts, report.Records)
	return report, err
}

func (p *Pipeline) runAttempt(ctx context.Context, report *RunReport) error {
	st := &RunState{}
	report.StageDurations = make(map[string]int64, len(p.Stages))

	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage.Name(), Err: err}
		}

		name := stage.Name()
		log.Printf("stage %s start", name)
		start := time.Now()
		err := stage.Run(ctx, st)
		elapsed := time.Since(start)
		report.StageDurations[name] = elapsed.Milliseconds()
		if err != nil {
			log.Printf("stage %s error after %s: %v", name, elapsed, err)
			report.FailedStage = name
			return &StageError{Stage: name, Err: err}
		}
		log.Printf("stage %s done in %s", name, elapsed)
	}

	report.Records = len(st.Records)
	report.CSVPath = st.CSVPath
	report.Articles = st.Records
	return nil
}

func (p *Pipeline) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LJTian/NewsVault/internal/pipeline"
)

type countingRunner struct {
	calls   atomic.Int32
	err     error
	trigger string
}

func (c *countingRunner) Run(ctx context.Context, trigger string) (pipeline.RunReport, error) {
	c.calls.Add(1)
	c.trigger = trigger
	return pipeline.RunReport{ID: "r", Records: 1}, c.err
}

func (c *countingRunner) Begin(ctx context.Context, trigger string) (func() (pipeline.RunReport, error), error) {
	if errors.Is(c.err, pipeline.ErrRunInProgress) {
		return nil, c.err
	}
	return func() (pipeline.RunReport, error) { return c.Run(ctx, trigger) }, nil
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	if _, err := New("not a cron spec", &countingRunner{}); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
}

func TestNewAcceptsDaily(t *testing.T) {
	s, err := New("@daily", &countingRunner{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.Cron().Entries()) != 1 {
		t.Fatalf("expected one cron entry, got %d", len(s.Cron().Entries()))
	}
	s.Start()
	s.Stop()
}

func TestRunOncePassesTrigger(t *testing.T) {
	r := &countingRunner{}
	s, err := New("@daily", r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.RunOnce("manual"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if r.calls.Load() != 1 || r.trigger != "manual" {
		t.Fatalf("unexpected runner state: calls=%d trigger=%q", r.calls.Load(), r.trigger)
	}
}

func TestScheduledRunSwallowsErrors(t *testing.T) {
	r := &countingRunner{err: errors.New("boom")}
	s, err := New("@daily", r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.run("cron")
	r.err = pipeline.ErrRunInProgress
	s.run("cron")
	if r.calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", r.calls.Load())
	}
}

func TestStopCancelsRunContext(t *testing.T) {
	s, err := New("@daily", &countingRunner{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	s.Stop()
	if s.ctx.Err() == nil {
		t.Fatalf("context should be cancelled after Stop")
	}
}

func TestBeginReportsBusyRunner(t *testing.T) {
	r := &countingRunner{err: pipeline.ErrRunInProgress}
	s, err := New("@daily", r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Begin("api"); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	r.err = nil
	run, err := s.Begin("api")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := run(); err != nil || r.trigger != "api" {
		t.Fatalf("run: err=%v trigger=%q", err, r.trigger)
	}
}

func TestScheduledRunWaitsForStartDate(t *testing.T) {
	r := &countingRunner{}
	s, err := New("@daily", r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.StartDate = time.Now().Add(24 * time.Hour)
	s.run("cron")
	if r.calls.Load() != 0 {
		t.Fatalf("run before start date should be skipped")
	}
	if _, err := s.RunOnce("manual"); err != nil || r.calls.Load() != 1 {
		t.Fatalf("manual run should ignore start date: err=%v calls=%d", err, r.calls.Load())
	}

	s.StartDate = time.Now().Add(-time.Hour)
	s.run("cron")
	if r.calls.Load() != 2 {
		t.Fatalf("run after start date should execute, calls=%d", r.calls.Load())
	}
}

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/LJTian/NewsVault/internal/collector"
	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/LJTian/NewsVault/internal/processor"
	"github.com/google/uuid"
)

// 需要一个可写的 Postgres，未设置 POSTGRES_DSN 时跳过
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	s, err := NewStore(dsn, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveRunUpsertsArticlesAcrossRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := "https://test-" + uuid.NewString() + ".example/"
	a := collector.ArticleRecord{Source: source, Title: "A", Description: "a"}
	b := collector.ArticleRecord{Source: source, Title: "B", Description: "b"}

	first := pipeline.RunReport{
		ID: uuid.NewString(), Trigger: "test", Status: pipeline.StatusSuccess, Attempts: 1,
		StartedAt: time.Now().Add(-time.Hour), FinishedAt: time.Now().Add(-time.Hour),
		Records: 2, Articles: []collector.ArticleRecord{a, a},
		StageDurations: map[string]int64{"extract_data": 12},
	}
	second := pipeline.RunReport{
		ID: uuid.NewString(), Trigger: "test", Status: pipeline.StatusSuccess, Attempts: 1,
		StartedAt: time.Now(), FinishedAt: time.Now(),
		Records: 2, Articles: []collector.ArticleRecord{a, b},
	}
	t.Cleanup(func() {
		s.DB.Where("source = ?", source).Delete(&Article{})
		s.DB.Where("id IN ?", []string{first.ID, second.ID}).Delete(&PipelineRun{})
	})

	if err := s.SaveRun(ctx, first); err != nil {
		t.Fatalf("SaveRun first: %v", err)
	}
	if err := s.SaveRun(ctx, second); err != nil {
		t.Fatalf("SaveRun second: %v", err)
	}

	list, err := s.ListArticles(ctx, source, 10)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 archived articles, got %d", len(list))
	}
	byID := map[string]Article{}
	for _, it := range list {
		byID[it.ID] = it
	}
	gotA := byID[processor.RecordID(a)]
	if gotA.FirstRunID != first.ID || gotA.LastRunID != second.ID {
		t.Fatalf("article A should keep first run and bump last run: %+v", gotA)
	}
	gotB := byID[processor.RecordID(b)]
	if gotB.FirstRunID != second.ID || gotB.LastRunID != second.ID {
		t.Fatalf("unexpected article B: %+v", gotB)
	}

	runs, err := s.ListRuns(ctx, maxListLimit)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	found := 0
	for _, r := range runs {
		if r.ID == first.ID || r.ID == second.ID {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected both runs listed, found %d", found)
	}
}

func TestSourcesCRUD(t *testing.T) {
	s := newTestStore(t)
	u := "https://src-" + uuid.NewString() + ".example/"
	t.Cleanup(func() { s.DB.Where("url = ?", u).Delete(&Source{}) })

	if err := s.AddSource(u); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	// 重复添加不报错
	if err := s.AddSource(u); err != nil {
		t.Fatalf("AddSource again: %v", err)
	}
	if !containsURL(s.ListSourceURLs(), u) {
		t.Fatalf("source not listed")
	}
	if err := s.RemoveSource(u); err != nil {
		t.Fatalf("RemoveSource: %v", err)
	}
	if containsURL(s.ListSourceURLs(), u) {
		t.Fatalf("source still listed after remove")
	}
}

func containsURL(list []string, u string) bool {
	for _, it := range list {
		if it == u {
			return true
		}
	}
	return false
}

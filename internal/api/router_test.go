package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LJTian/NewsVault/internal/collector"
	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/LJTian/NewsVault/internal/processor"
	"github.com/LJTian/NewsVault/internal/publisher"
	"github.com/LJTian/NewsVault/internal/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type fakeStore struct {
	runs     []storage.PipelineRun
	articles []storage.Article
	sources  []string
	source   string
}

func (f *fakeStore) ListArticles(ctx context.Context, source string, limit int) ([]storage.Article, error) {
	f.source = source
	return f.articles, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, limit int) ([]storage.PipelineRun, error) {
	return f.runs, nil
}

func (f *fakeStore) LatestRun(ctx context.Context) (*storage.PipelineRun, error) {
	if len(f.runs) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &f.runs[0], nil
}

func (f *fakeStore) ListSourceURLs() []string { return f.sources }

func (f *fakeStore) AddSource(raw string) error {
	f.sources = append(f.sources, storage.NormalizeSourceURL(raw))
	return nil
}

func (f *fakeStore) RemoveSource(raw string) error {
	u := storage.NormalizeSourceURL(raw)
	out := f.sources[:0]
	for _, s := range f.sources {
		if s != u {
			out = append(out, s)
		}
	}
	f.sources = out
	return nil
}

// lockedRunner 用真实的 Pipeline 与 MemoryLocker，唯一阶段阻塞直到 release 关闭
type lockedRunner struct {
	p       *pipeline.Pipeline
	locker  *pipeline.MemoryLocker
	release chan struct{}
	started chan struct{}
}

func newLockedRunner() *lockedRunner {
	r := &lockedRunner{
		locker:  &pipeline.MemoryLocker{},
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	r.p = pipeline.New([]pipeline.Stage{pipeline.NewStage("block", func(ctx context.Context, st *pipeline.RunState) error {
		r.started <- struct{}{}
		<-r.release
		return nil
	})}, 0, 0)
	r.p.Locker = r.locker
	return r
}

func (r *lockedRunner) Begin(trigger string) (func() (pipeline.RunReport, error), error) {
	return r.p.Begin(context.Background(), trigger)
}

func newRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(newRouter(NewServer(nil, nil, t.TempDir())), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRunsWithoutStoreIsUnavailable(t *testing.T) {
	w := do(newRouter(NewServer(nil, nil, t.TempDir())), http.MethodGet, "/api/v1/runs", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestLatestRun(t *testing.T) {
	store := &fakeStore{}
	r := newRouter(NewServer(store, nil, t.TempDir()))

	if w := do(r, http.MethodGet, "/api/v1/runs/latest", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	store.runs = []storage.PipelineRun{{ID: "run-1", Status: pipeline.StatusSuccess, StartedAt: time.Now()}}
	w := do(r, http.MethodGet, "/api/v1/runs/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data storage.PipelineRun `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.ID != "run-1" {
		t.Fatalf("unexpected run: %+v", resp.Data)
	}
}

func TestListArticlesReadsCSV(t *testing.T) {
	dir := t.TempDir()
	r := newRouter(NewServer(nil, nil, dir))

	if w := do(r, http.MethodGet, "/api/v1/articles", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before csv exists", w.Code)
	}

	table := processor.NewNormalizer().Process([]collector.ArticleRecord{
		{Source: "https://www.dawn.com/", Title: "A, with comma", Description: "a"},
		{Source: "https://www.bbc.com/", Title: "B", Description: "b"},
	})
	if _, err := publisher.WriteCSV(table, dir); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	w := do(r, http.MethodGet, "/api/v1/articles?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Total int                 `json:"total"`
		Data  []map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 1 || resp.Data[0]["title"] != "A, with comma" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestListArchivedPassesSourceFilter(t *testing.T) {
	store := &fakeStore{articles: []storage.Article{{ID: "a1", Title: "A"}}}
	r := newRouter(NewServer(store, nil, t.TempDir()))

	w := do(r, http.MethodGet, "/api/v1/archive/articles?source=https://www.bbc.com/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.source != "https://www.bbc.com/" {
		t.Fatalf("source filter not passed: %q", store.source)
	}
	if !strings.Contains(w.Body.String(), `"a1"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestTriggerRunConflictsWhileRunning(t *testing.T) {
	runner := newLockedRunner()
	r := newRouter(NewServer(nil, runner, t.TempDir()))

	if w := do(r, http.MethodPost, "/api/v1/runs", ""); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	<-runner.started

	if w := do(r, http.MethodPost, "/api/v1/runs", ""); w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	close(runner.release)
}

func TestTriggerRunConflictsWithScheduledRun(t *testing.T) {
	runner := newLockedRunner()
	r := newRouter(NewServer(nil, runner, t.TempDir()))

	// 模拟定时任务正在运行：锁被其他调用方持有
	unlock, ok, _ := runner.locker.TryLock(context.Background())
	if !ok {
		t.Fatalf("lock should be free")
	}
	w := do(r, http.MethodPost, "/api/v1/runs", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}

	unlock()
	close(runner.release)
	if w := do(r, http.MethodPost, "/api/v1/runs", ""); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 after lock released", w.Code)
	}
	<-runner.started
}

func TestTriggerRunWithoutRunner(t *testing.T) {
	if w := do(newRouter(NewServer(nil, nil, t.TempDir())), http.MethodPost, "/api/v1/runs", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestSourcesCRUD(t *testing.T) {
	store := &fakeStore{sources: []string{"https://www.dawn.com/"}}
	r := newRouter(NewServer(store, nil, t.TempDir()))

	if w := do(r, http.MethodPost, "/api/v1/sources", `{"url":"ftp://bad"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/sources", `{"url":"https://www.bbc.com"}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(store.sources) != 2 || store.sources[1] != "https://www.bbc.com/" {
		t.Fatalf("unexpected sources: %v", store.sources)
	}
	if w := do(r, http.MethodDelete, "/api/v1/sources?url=https://www.dawn.com/", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(store.sources) != 1 || store.sources[0] != "https://www.bbc.com/" {
		t.Fatalf("unexpected sources after delete: %v", store.sources)
	}
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BasicAuth("user", "pass"))
	NewServer(nil, nil, t.TempDir()).RegisterRoutes(r)

	if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("/health should skip auth, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/runs", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.SetBasicAuth("user", "pass")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("authorized request should reach handler, got %d", w.Code)
	}
}

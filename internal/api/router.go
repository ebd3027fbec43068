package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/LJTian/NewsVault/internal/publisher"
	"github.com/LJTian/NewsVault/internal/storage"
	"github.com/gin-gonic/gin"
)

// Store 是 API 读取归档需要的能力，*storage.Store 满足该接口
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]storage.PipelineRun, error)
	LatestRun(ctx context.Context) (*storage.PipelineRun, error)
	ListArticles(ctx context.Context, source string, limit int) ([]storage.Article, error)
	ListSourceURLs() []string
	AddSource(raw string) error
	RemoveSource(raw string) error
}

// Runner 触发一次流水线，*scheduler.Scheduler 满足该接口。
// Begin 同步占用运行锁，已有运行（包括定时触发的）时返回 pipeline.ErrRunInProgress
type Runner interface {
	Begin(trigger string) (func() (pipeline.RunReport, error), error)
}

type Server struct {
	store    Store
	runner   Runner
	dataPath string
}

// NewServer store 可以为 nil（未配置数据库时归档相关接口返回 503）
func NewServer(store Store, runner Runner, dataPath string) *Server {
	return &Server{store: store, runner: runner, dataPath: dataPath}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/latest", s.latestRun)
		v1.POST("/runs", s.triggerRun)
		v1.GET("/articles", s.listArticles)
		v1.GET("/archive/articles", s.listArchived)
		v1.GET("/sources", s.listSources)
		v1.POST("/sources", s.addSource)
		v1.DELETE("/sources", s.removeSource)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listRuns(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	runs, err := s.store.ListRuns(c.Request.Context(), queryLimit(c))
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, runs)
}

func (s *Server) latestRun(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	run, err := s.store.LatestRun(c.Request.Context())
	if storage.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no runs yet"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, run)
}

// triggerRun 异步触发一次运行；已有运行持有锁时返回 409
func (s *Server) triggerRun(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "message": "runner not configured"})
		return
	}
	run, err := s.runner.Begin("api")
	if errors.Is(err, pipeline.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "message": "a run is already in progress"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	go func() {
		report, err := run()
		if err != nil {
			log.Printf("api-triggered run %s failed: %v", report.ID, err)
			return
		}
		log.Printf("api-triggered run %s done, records=%d", report.ID, report.Records)
	}()

	c.JSON(http.StatusAccepted, gin.H{"code": "accepted", "message": "run started"})
}

// listArticles 直接读取当前的 CSV 文件
func (s *Server) listArticles(c *gin.Context) {
	table, err := publisher.ReadCSV(publisher.CSVPath(s.dataPath))
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no csv yet"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	limit := queryLimit(c)
	rows := table.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{"source": r.Source, "title": r.Title, "description": r.Description})
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"total":   table.Len(),
		"data":    out,
	})
}

// listArchived 返回归档中最近见到的文章，可按 source 过滤
func (s *Server) listArchived(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	list, err := s.store.ListArticles(c.Request.Context(), c.Query("source"), queryLimit(c))
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) listSources(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	ok(c, s.store.ListSourceURLs())
}

type sourceRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) addSource(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil || storage.NormalizeSourceURL(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": "valid http(s) url is required"})
		return
	}
	if err := s.store.AddSource(req.URL); err != nil {
		internalError(c, err)
		return
	}
	ok(c, s.store.ListSourceURLs())
}

func (s *Server) removeSource(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	raw := c.Query("url")
	if storage.NormalizeSourceURL(raw) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": "valid http(s) url is required"})
		return
	}
	if err := s.store.RemoveSource(raw); err != nil {
		internalError(c, err)
		return
	}
	ok(c, s.store.ListSourceURLs())
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "message": "archive not configured"})
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 20
	}
	return limit
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func internalError(c *gin.Context, err error) {
	log.Printf("api %s %s error: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/LJTian/NewsVault/internal/pipeline"
	"github.com/LJTian/NewsVault/internal/processor"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	latestRunKey   = "newsvault:run:latest"
	latestRunTTL   = 5 * time.Minute
	maxListLimit   = 200
	defaultListLim = 20
)

// PipelineRun 一次流水线运行的归档
type PipelineRun struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	Trigger     string            `gorm:"size:32" json:"trigger"`
	Status      string            `gorm:"size:16;index" json:"status"`
	Attempts    int               `json:"attempts"`
	Records     int               `json:"records"`
	CSVPath     string            `gorm:"size:512" json:"csvPath"`
	FailedStage string            `gorm:"size:64" json:"failedStage,omitempty"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`
	Stages      datatypes.JSONMap `gorm:"type:jsonb" json:"stages"` // 阶段耗时（毫秒）
	StartedAt   time.Time         `gorm:"index" json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`

	CreatedAt time.Time `json:"createdAt"`
}

// Article 抓取过的文章，按内容哈希去重入库；CSV 本身仍保留每次的全部行
type Article struct {
	ID          string    `gorm:"primaryKey;size:40" json:"id"`
	Source      string    `gorm:"size:512;index" json:"source"`
	Title       string    `gorm:"size:1024" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	FirstRunID  string    `gorm:"size:36" json:"firstRunId"`
	LastRunID   string    `gorm:"size:36;index" json:"lastRunId"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `gorm:"index" json:"lastSeenAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStore 连接 Postgres 并迁移表结构；redisAddr 为空时不启用缓存与分布式锁
func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&PipelineRun{}, &Article{}, &Source{}); err != nil {
		return nil, err
	}

	s := &Store{DB: db}
	if redisAddr != "" {
		s.Redis = NewRedis(redisAddr)
	}
	return s, nil
}

// NewRedis 创建 Redis 客户端，ping 失败只打日志
func NewRedis(addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}
	return rdb
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunes 按 rune 数截断，确保不会超过数据库字段长度
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func runFromReport(r pipeline.RunReport) PipelineRun {
	stages := make(datatypes.JSONMap, len(r.StageDurations))
	for k, v := range r.StageDurations {
		stages[k] = v
	}
	return PipelineRun{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Status:      r.Status,
		Attempts:    r.Attempts,
		Records:     r.Records,
		CSVPath:     r.CSVPath,
		FailedStage: r.FailedStage,
		Error:       toValidUTF8(r.Error),
		Stages:      stages,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func articlesFromReport(r pipeline.RunReport) []Article {
	out := make([]Article, 0, len(r.Articles))
	seen := make(map[string]struct{}, len(r.Articles))
	for _, rec := range r.Articles {
		id := processor.RecordID(rec)
		// 同一批内重复的行只需写一次，否则 ON CONFLICT 会报同一行被更新两次
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Article{
			ID:          id,
			Source:      truncateRunes(toValidUTF8(rec.Source), 512),
			Title:       truncateRunes(toValidUTF8(rec.Title), 1024),
			Description: toValidUTF8(rec.Description),
			FirstRunID:  r.ID,
			LastRunID:   r.ID,
			FirstSeenAt: r.FinishedAt,
			LastSeenAt:  r.FinishedAt,
		})
	}
	return out
}

// SaveRun 写入运行记录，成功的运行同时把文章 upsert 到 articles 表
func (s *Store) SaveRun(ctx context.Context, r pipeline.RunReport) error {
	run := runFromReport(r)
	articles := articlesFromReport(r)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(articles) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_run_id", "last_seen_at"}),
		}).CreateInBatches(articles, 200).Error
	})
	if err != nil {
		return err
	}

	if s.Redis != nil {
		if bs, err := json.Marshal(run); err == nil {
			_ = s.Redis.Set(ctx, latestRunKey, bs, latestRunTTL).Err()
		}
	}
	return nil
}

// ListRuns 按开始时间倒序返回最近的运行
func (s *Store) ListRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLim
	}
	var list []PipelineRun
	err := s.DB.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

// LatestRun 优先读 Redis 缓存，未命中再查库；没有任何记录时返回 gorm.ErrRecordNotFound
func (s *Store) LatestRun(ctx context.Context) (*PipelineRun, error) {
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, latestRunKey).Bytes(); err == nil {
			var cached PipelineRun
			if err := json.Unmarshal(bs, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var run PipelineRun
	if err := s.DB.WithContext(ctx).Order("started_at DESC").First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListArticles 返回最近见到的文章
func (s *Store) ListArticles(ctx context.Context, source string, limit int) ([]Article, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLim
	}
	db := s.DB.WithContext(ctx).Model(&Article{})
	if source != "" {
		db = db.Where("source = ?", source)
	}
	var list []Article
	err := db.Order("last_seen_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

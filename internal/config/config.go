package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认抓取的两个新闻首页
var defaultSources = []string{"https://www.dawn.com/", "https://www.bbc.com/"}

// 默认同步的云盘文件，下载到 drive_seed.csv；DRIVE_FILE_ID 显式设为空则关闭
const defaultDriveFileID = "1smA1d0VUOrWufEeAYE1y_xbSENZY0Pul"

// Config 是流水线入口需要的全部配置，取代原先散落的全局常量
type Config struct {
	AppPort       string
	BasicAuthUser string
	BasicAuthPass string

	PostgresDSN string
	RedisAddr   string

	// 调度：负责人、起始日期、重试次数与间隔、cron 表达式
	Owner      string
	StartDate  time.Time
	Retries    int
	RetryDelay time.Duration
	CronSpec   string

	DataPath       string
	Sources        []string
	UserAgent      string
	RequestTimeout time.Duration
	SkipMalformed  bool

	DriveFileID string

	// 版本控制相关；RepoDir 为空时在当前目录执行 dvc/git
	RepoDir         string
	DVCBin          string
	GitBin          string
	GitRemote       string
	GitBranch       string
	CommitMessage   string
	SkipEmptyCommit bool
	SkipVersioning  bool

	LockTTL time.Duration
}

// fileOverrides 对应 PIPELINE_CONFIG 指向的 YAML 文件，只覆盖非空字段
type fileOverrides struct {
	Owner       string   `yaml:"owner"`
	StartDate   string   `yaml:"start_date"`
	Schedule    string   `yaml:"schedule"`
	DataPath    string   `yaml:"data_path"`
	Sources     []string `yaml:"sources"`
	DriveFileID string   `yaml:"drive_file_id"`
	Retries     *int     `yaml:"retries"`
	RetryDelay  string   `yaml:"retry_delay"`
	Git         struct {
		Remote  string `yaml:"remote"`
		Branch  string `yaml:"branch"`
		Message string `yaml:"message"`
	} `yaml:"git"`
}

func Load() *Config {
	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		BasicAuthUser: os.Getenv("APP_BASIC_USER"),
		BasicAuthPass: os.Getenv("APP_BASIC_PASS"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),

		Owner:      getEnv("PIPELINE_OWNER", "Hasham"),
		StartDate:  getEnvDate("PIPELINE_START_DATE", time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)),
		Retries:    getEnvInt("PIPELINE_RETRIES", 1),
		RetryDelay: getEnvDuration("PIPELINE_RETRY_DELAY", 5*time.Minute),
		CronSpec:   getEnv("CRON_SPEC", "@daily"),

		DataPath:       getEnv("DATA_PATH", "data"),
		Sources:        getEnvList("NEWS_SOURCES", defaultSources),
		UserAgent:      getEnv("USER_AGENT", "NewsVaultBot/1.0"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		SkipMalformed:  getEnvBool("SKIP_MALFORMED_ARTICLES", false),

		DriveFileID: getEnvOptional("DRIVE_FILE_ID", defaultDriveFileID),

		RepoDir:         os.Getenv("REPO_DIR"),
		DVCBin:          getEnv("DVC_BIN", "dvc"),
		GitBin:          getEnv("GIT_BIN", "git"),
		GitRemote:       getEnv("GIT_REMOTE", "origin"),
		GitBranch:       getEnv("GIT_BRANCH", "main"),
		CommitMessage:   getEnv("GIT_COMMIT_MESSAGE", "Update DVC files"),
		SkipEmptyCommit: getEnvBool("SKIP_EMPTY_COMMIT", true),
		SkipVersioning:  getEnvBool("SKIP_VERSIONING", false),

		LockTTL: getEnvDuration("RUN_LOCK_TTL", 2*time.Hour),
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			log.Printf("warn: apply config file %s: %v", path, err)
		}
	}

	log.Printf("config loaded: owner=%s cron=%s data=%s sources=%d", cfg.Owner, cfg.CronSpec, cfg.DataPath, len(cfg.Sources))
	return cfg
}

// ApplyFile 用 YAML 文件中的非空字段覆盖当前配置
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileOverrides
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Owner != "" {
		c.Owner = f.Owner
	}
	if f.StartDate != "" {
		t, err := time.Parse("2006-01-02", f.StartDate)
		if err != nil {
			return fmt.Errorf("start_date: %w", err)
		}
		c.StartDate = t
	}
	if f.Schedule != "" {
		c.CronSpec = f.Schedule
	}
	if f.DataPath != "" {
		c.DataPath = f.DataPath
	}
	if len(f.Sources) > 0 {
		c.Sources = f.Sources
	}
	if f.DriveFileID != "" {
		c.DriveFileID = f.DriveFileID
	}
	if f.Retries != nil {
		c.Retries = *f.Retries
	}
	if f.RetryDelay != "" {
		d, err := time.ParseDuration(f.RetryDelay)
		if err != nil {
			return fmt.Errorf("retry_delay: %w", err)
		}
		c.RetryDelay = d
	}
	if f.Git.Remote != "" {
		c.GitRemote = f.Git.Remote
	}
	if f.Git.Branch != "" {
		c.GitBranch = f.Git.Branch
	}
	if f.Git.Message != "" {
		c.CommitMessage = f.Git.Message
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvOptional 与 getEnv 不同：变量存在但为空时返回空串，用于显式关闭某个功能
func getEnvOptional(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("warn: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("warn: invalid %s=%q, using %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("warn: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func getEnvDate(key string, def time.Time) time.Time {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(v))
	if err != nil {
		log.Printf("warn: invalid %s=%q, using %s", key, v, def.Format("2006-01-02"))
		return def
	}
	return t
}

// getEnvList 解析逗号分隔的列表，忽略空项
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), def...)
	}
	out := make([]string, 0, 4)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

// DataDir 返回写 CSV 的目录：DataPath 是相对路径且设置了 RepoDir 时，
// 相对仓库目录解析，保证 dvc/git 在 RepoDir 下看到的是同一个文件
func (c *Config) DataDir() string {
	if c.RepoDir == "" || filepath.IsAbs(c.DataPath) {
		return c.DataPath
	}
	return filepath.Join(c.RepoDir, c.DataPath)
}

package storage

import (
	"net/url"
	"strings"
	"time"
)

// Source 需要抓取的新闻首页，通过 API 维护；为空时使用配置中的默认列表
type Source struct {
	URL       string    `gorm:"primaryKey;size:512" json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListSourceURLs 返回所有来源（按添加顺序），抓取时按此顺序串行执行
func (s *Store) ListSourceURLs() []string {
	var list []Source
	if err := s.DB.Order("created_at ASC").Find(&list).Error; err != nil {
		return nil
	}
	urls := make([]string, 0, len(list))
	for _, r := range list {
		urls = append(urls, r.URL)
	}
	return urls
}

// AddSource 添加来源（已存在则忽略）
func (s *Store) AddSource(raw string) error {
	u := NormalizeSourceURL(raw)
	if u == "" {
		return nil
	}
	r := Source{URL: u, CreatedAt: time.Now()}
	return s.DB.Where("url = ?", u).FirstOrCreate(&r).Error
}

// RemoveSource 移除来源
func (s *Store) RemoveSource(raw string) error {
	u := NormalizeSourceURL(raw)
	if u == "" {
		return nil
	}
	return s.DB.Where("url = ?", u).Delete(&Source{}).Error
}

// EnsureSources 首次启动时用配置中的列表初始化来源表
func (s *Store) EnsureSources(defaults []string) error {
	var n int64
	if err := s.DB.Model(&Source{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for i, raw := range defaults {
		u := NormalizeSourceURL(raw)
		if u == "" {
			continue
		}
		// created_at 递增，保证顺序与配置一致
		r := Source{URL: u, CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond)}
		if err := s.DB.Where("url = ?", u).FirstOrCreate(&r).Error; err != nil {
			return err
		}
	}
	return nil
}

// NormalizeSourceURL 只接受 http/https 的绝对地址，供 API 校验使用；不合法返回空串
func NormalizeSourceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	return u.String()
}

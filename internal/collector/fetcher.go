package collector

import "context"

// ArticleRecord 一条从新闻首页抓到的文章：来源、标题、简介
type ArticleRecord struct {
	Source      string
	Title       string
	Description string
}

// Fetcher 抽象每一个数据源
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]ArticleRecord, error)
}

package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const (
	defaultArticleSelector   = "article"
	defaultHeadingSelector   = "h3"
	defaultParagraphSelector = "p"
	defaultRequestTimeout    = 30 * time.Second
)

var (
	// ErrBadStatus 源站返回非 2xx
	ErrBadStatus = errors.New("unexpected http status")
	// ErrMissingElement article 中缺少标题或段落
	ErrMissingElement = errors.New("article element missing heading or paragraph")
)

// ArticleFetcher 依次抓取固定的新闻首页，把每个 <article> 转成一条 ArticleRecord。
// 任意一个源失败（网络错误、非 2xx、结构缺失）整个阶段失败，不返回部分结果。
type ArticleFetcher struct {
	Sources []string
	// GetSources 可选，返回非空时覆盖 Sources（例如从数据库读取）
	GetSources func() []string

	UserAgent string
	Timeout   time.Duration

	ArticleSelector   string
	HeadingSelector   string
	ParagraphSelector string

	// SkipMalformed 为 true 时跳过缺少标题/段落的 article 并打日志，默认直接失败
	SkipMalformed bool
}

func (f *ArticleFetcher) Name() string {
	return "news_articles"
}

func (f *ArticleFetcher) Fetch(ctx context.Context) ([]ArticleRecord, error) {
	results := make([]ArticleRecord, 0, 64)

	sources := f.Sources
	if f.GetSources != nil {
		if list := f.GetSources(); len(list) > 0 {
			sources = list
		}
	}

	// 按列表顺序串行抓取
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.Printf("fetch articles from %s...", source)
		items, err := f.fetchSource(ctx, source)
		if err != nil {
			log.Printf("fetch %s failed: %v", source, err)
			return nil, err
		}
		if len(items) == 0 {
			log.Printf("fetch %s got 0 articles", source)
		}
		results = append(results, items...)
	}

	return results, nil
}

func (f *ArticleFetcher) fetchSource(ctx context.Context, source string) ([]ArticleRecord, error) {
	ua := f.UserAgent
	if ua == "" {
		ua = "NewsVaultBot/1.0"
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	c := colly.NewCollector(
		colly.UserAgent(ua),
	)
	c.SetRequestTimeout(timeout)
	// colly v2.1.0 的请求不带 ctx，由 transport 注入以便取消进行中的请求
	c.WithTransport(&ctxTransport{ctx: ctx, base: http.DefaultTransport})
	// colly 默认把 203 以上都当作错误，这里改由 OnResponse 按 2xx 判断
	c.ParseHTTPErrorResponse = true

	var (
		statusErr error
		parseErr  error
		results   = make([]ArticleRecord, 0, 32)
	)

	c.OnResponse(func(r *colly.Response) {
		if !isSuccess(r.StatusCode) {
			statusErr = fmt.Errorf("%w %d from %s", ErrBadStatus, r.StatusCode, source)
		}
	})

	c.OnHTML(f.articleSelector(), func(e *colly.HTMLElement) {
		if !isSuccess(e.Response.StatusCode) || parseErr != nil {
			return
		}

		title, desc, err := extractArticle(e.DOM, f.headingSelector(), f.paragraphSelector())
		if err != nil {
			if f.SkipMalformed {
				log.Printf("skip malformed article on %s: %v", source, err)
				return
			}
			parseErr = fmt.Errorf("%s: %w", source, err)
			return
		}

		results = append(results, ArticleRecord{
			Source:      source,
			Title:       title,
			Description: desc,
		})
	})

	if err := c.Visit(source); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("visit %s: %w", source, err)
	}
	if statusErr != nil {
		return nil, statusErr
	}
	if parseErr != nil {
		return nil, parseErr
	}

	return results, nil
}

// ctxTransport 给每个请求挂上抓取调用方的 ctx
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// extractArticle 取 article 中第一个标题和第一个段落的文本（去掉首尾空白）
func extractArticle(sel *goquery.Selection, heading, paragraph string) (string, string, error) {
	h := sel.Find(heading).First()
	if h.Length() == 0 {
		return "", "", fmt.Errorf("%w: no <%s>", ErrMissingElement, heading)
	}
	p := sel.Find(paragraph).First()
	if p.Length() == 0 {
		return "", "", fmt.Errorf("%w: no <%s>", ErrMissingElement, paragraph)
	}
	return strings.TrimSpace(h.Text()), strings.TrimSpace(p.Text()), nil
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

func (f *ArticleFetcher) articleSelector() string {
	if f.ArticleSelector != "" {
		return f.ArticleSelector
	}
	return defaultArticleSelector
}

func (f *ArticleFetcher) headingSelector() string {
	if f.HeadingSelector != "" {
		return f.HeadingSelector
	}
	return defaultHeadingSelector
}

func (f *ArticleFetcher) paragraphSelector() string {
	if f.ParagraphSelector != "" {
		return f.ParagraphSelector
	}
	return defaultParagraphSelector
}

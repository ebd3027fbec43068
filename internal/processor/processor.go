package processor

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/LJTian/NewsVault/internal/collector"
)

// Columns 是表格与 CSV 的固定列，顺序与 ArticleRecord 字段一致
var Columns = []string{"source", "title", "description"}

// ArticleTable 是写入 CSV 前的统一表格结构
type ArticleTable struct {
	Columns []string
	Rows    []collector.ArticleRecord
}

// Len 返回数据行数（不含表头）
func (t ArticleTable) Len() int {
	return len(t.Rows)
}

// Record 按列顺序返回第 i 行的字符串
func (t ArticleTable) Record(i int) []string {
	r := t.Rows[i]
	return []string{r.Source, r.Title, r.Description}
}

// Normalizer 只负责把采集结果组装成表格：不去重、不过滤
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (p *Normalizer) Process(items []collector.ArticleRecord) ArticleTable {
	rows := make([]collector.ArticleRecord, len(items))
	copy(rows, items)

	return ArticleTable{
		Columns: append([]string(nil), Columns...),
		Rows:    rows,
	}
}

// RecordID 为归档生成稳定 ID，仅用于存储层幂等写入
func RecordID(r collector.ArticleRecord) string {
	h := sha1.New()
	h.Write([]byte(r.Source))
	h.Write([]byte{0})
	h.Write([]byte(r.Title))
	h.Write([]byte{0})
	h.Write([]byte(r.Description))
	return hex.EncodeToString(h.Sum(nil))
}

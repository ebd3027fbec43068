package publisher

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/LJTian/NewsVault/internal/collector"
	"github.com/LJTian/NewsVault/internal/processor"
)

// FileName 是每次运行覆盖写入的 CSV 文件名
const FileName = "processed_data.csv"

// CSVPath 返回 <dir>/processed_data.csv
func CSVPath(dir string) string {
	return filepath.Join(dir, FileName)
}

// PointerPath 返回 dvc add 生成的指针文件路径
func PointerPath(dir string) string {
	return CSVPath(dir) + ".dvc"
}

// WriteTable 以 CSV 写出表格：先写表头，不写行号
func WriteTable(w io.Writer, table processor.ArticleTable) error {
	cw := csv.NewWriter(w)

	header := table.Columns
	if len(header) == 0 {
		header = processor.Columns
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < table.Len(); i++ {
		if err := cw.Write(table.Record(i)); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSV 把表格写到 <dir>/processed_data.csv，已存在则覆盖。
// 先写临时文件再 rename，失败时不会留下半个文件。
func WriteCSV(table processor.ArticleTable, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	path := CSVPath(dir)
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp csv: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteTable(tmp, table); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close csv: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("replace csv: %w", err)
	}
	return path, nil
}

// ReadTable 读取 WriteTable 写出的 CSV
func ReadTable(r io.Reader) (processor.ArticleTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(processor.Columns)

	header, err := cr.Read()
	if err == io.EOF {
		return processor.ArticleTable{}, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return processor.ArticleTable{}, fmt.Errorf("read csv header: %w", err)
	}
	for i, col := range processor.Columns {
		if header[i] != col {
			return processor.ArticleTable{}, fmt.Errorf("unexpected csv column %d: %q, want %q", i, header[i], col)
		}
	}

	table := processor.ArticleTable{Columns: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return processor.ArticleTable{}, fmt.Errorf("read csv row: %w", err)
		}
		table.Rows = append(table.Rows, collector.ArticleRecord{
			Source:      rec[0],
			Title:       rec[1],
			Description: rec[2],
		})
	}
	return table, nil
}

func ReadCSV(path string) (processor.ArticleTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return processor.ArticleTable{}, err
	}
	defer f.Close()
	return ReadTable(f)
}

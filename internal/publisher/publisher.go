package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/LJTian/NewsVault/internal/processor"
)

// SeedFileName 是从云盘下载的种子文件名，与 CSV 分开存放，避免互相覆盖
const SeedFileName = "drive_seed.csv"

// Downloader 抽象云盘下载
type Downloader interface {
	Download(ctx context.Context, fileID, dest string) error
}

// Checkpointer 是发布阶段需要的最小 dvc 能力
type Checkpointer interface {
	CommitTarget(ctx context.Context, target string) error
	PushTarget(ctx context.Context, target string) error
}

// Publisher 负责写 CSV、同步云盘文件，并在已被 dvc 跟踪时记录一个 checkpoint
type Publisher struct {
	Dir         string
	DriveFileID string

	Downloader   Downloader
	Checkpointer Checkpointer
}

// Publish 依次：下载种子文件 → 覆盖写 CSV → dvc checkpoint（commit + push）。
// 任一步失败都直接返回错误。
func (p *Publisher) Publish(ctx context.Context, table processor.ArticleTable) (string, error) {
	if p.DriveFileID != "" && p.Downloader != nil {
		seed := filepath.Join(p.Dir, SeedFileName)
		if err := p.Downloader.Download(ctx, p.DriveFileID, seed); err != nil {
			return "", fmt.Errorf("download seed file: %w", err)
		}
	}

	path, err := WriteCSV(table, p.Dir)
	if err != nil {
		return "", err
	}
	log.Printf("wrote %d rows to %s", table.Len(), path)

	if p.Checkpointer == nil {
		return path, nil
	}

	// 首次运行还没有指针文件，dvc commit 会失败；交给下一阶段的 dvc add
	pointer := PointerPath(p.Dir)
	if _, err := os.Stat(pointer); errors.Is(err, os.ErrNotExist) {
		log.Printf("%s not tracked yet, skip dvc checkpoint", path)
		return path, nil
	} else if err != nil {
		return "", fmt.Errorf("stat pointer: %w", err)
	}

	if err := p.Checkpointer.CommitTarget(ctx, pointer); err != nil {
		return "", err
	}
	if err := p.Checkpointer.PushTarget(ctx, pointer); err != nil {
		return "", err
	}
	log.Printf("dvc checkpoint recorded for %s", path)

	return path, nil
}

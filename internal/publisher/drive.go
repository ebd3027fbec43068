package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	driveBaseURL        = "https://drive.google.com/uc"
	driveClientTimeout  = 60 * time.Second
	driveMaxBytes int64 = 256 << 20 // 256MB
)

// ErrTooLarge 云盘文件超过 MaxBytes
var ErrTooLarge = errors.New("drive file exceeds size limit")

// DriveDownloader 按文件 ID 从 Google Drive 下载一个公开文件
type DriveDownloader struct {
	BaseURL  string
	Client   *http.Client
	MaxBytes int64
}

func NewDriveDownloader() *DriveDownloader {
	return &DriveDownloader{
		BaseURL:  driveBaseURL,
		Client:   &http.Client{Timeout: driveClientTimeout},
		MaxBytes: driveMaxBytes,
	}
}

// Download 把 fileID 对应的文件写到 dest（覆盖）。
// 大文件会先返回一个病毒扫描确认页并下发 download_warning cookie，此时带上 confirm 重新请求。
func (d *DriveDownloader) Download(ctx context.Context, fileID, dest string) error {
	resp, err := d.get(ctx, fileID, "")
	if err != nil {
		return err
	}

	if token := confirmToken(resp); token != "" {
		resp.Body.Close()
		log.Printf("drive: file %s needs confirmation, retrying", fileID)
		resp, err = d.get(ctx, fileID, token)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("drive: unexpected status %d for file %s", resp.StatusCode, fileID)
	}

	limit := d.MaxBytes
	if limit <= 0 {
		limit = driveMaxBytes
	}

	// 先写临时文件，完整下载后再 rename，失败或超限时不留下半截文件
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("drive: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("drive: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("drive: write %s: %w", dest, err)
	}
	if n > limit {
		return fmt.Errorf("drive: file %s: %w (limit %d bytes)", fileID, ErrTooLarge, limit)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("drive: chmod: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("drive: rename to %s: %w", dest, err)
	}

	log.Printf("drive: downloaded %s to %s (%d bytes)", fileID, dest, n)
	return nil
}

func (d *DriveDownloader) get(ctx context.Context, fileID, confirm string) (*http.Response, error) {
	base := d.BaseURL
	if base == "" {
		base = driveBaseURL
	}
	q := url.Values{}
	q.Set("export", "download")
	q.Set("id", fileID)
	if confirm != "" {
		q.Set("confirm", confirm)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("drive: build request: %w", err)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: driveClientTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: fetch %s: %w", fileID, err)
	}
	return resp, nil
}

func confirmToken(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if strings.HasPrefix(c.Name, "download_warning") {
			return c.Value
		}
	}
	return ""
}

package vector

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/foldex/backend/internal/infrastructure/log"
)

var (
	ErrDownloadCanceled   = errors.New("download canceled")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrDownloadFailed     = errors.New("download failed")
	ErrHTTPStatusNotOK    = errors.New("HTTP status not OK")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrPathTraversal      = errors.New("path traversal detected in archive")
	ErrBinaryNotFound     = errors.New("binary not found in archive")
)

// DownloadOptions 下载选项
type DownloadOptions struct {
	// ExpectedChecksum SHA256 校验和，空字符串表示不校验
	ExpectedChecksum string
	// MaxRetries 最大重试次数，默认 3
	MaxRetries int
	// RetryDelay 重试延迟基数，指数退避
	RetryDelay time.Duration
}

// Fetcher 下载并解压发布归档
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher 创建下载器
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		logger: log.NewModuleLogger("vector", "fetcher"),
	}
}

// Download 下载文件到指定路径，瞬态失败按指数退避重试
func (f *Fetcher) Download(ctx context.Context, url, destPath string, opts DownloadOptions) error {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 1 {
			f.logger.Info("retrying download", "attempt", attempt, "url", url)
			wait := opts.RetryDelay * time.Duration(1<<(attempt-2))
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrDownloadCanceled, ctx.Err())
			case <-time.After(wait):
			}
		}

		err := f.downloadOnce(ctx, url, destPath, opts)
		if err == nil {
			return nil
		}
		lastErr = err
		f.logger.Warn("download attempt failed", "attempt", attempt, "error", err)

		if !isRetryableDownload(err) {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrDownloadFailed, opts.MaxRetries, lastErr)
}

func (f *Fetcher) downloadOnce(ctx context.Context, url, destPath string, opts DownloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrDownloadCanceled, ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrHTTPStatusNotOK, resp.StatusCode)
	}

	// 先写临时文件，校验通过后再落位
	tmpPath := destPath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmpPath)

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrDownloadCanceled, ctx.Err())
		}
		return fmt.Errorf("failed to write file: %w", err)
	}

	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("incomplete download: expected %d bytes, got %d", resp.ContentLength, written)
	}

	if opts.ExpectedChecksum != "" {
		checksum, err := fileChecksum(tmpPath)
		if err != nil {
			return fmt.Errorf("failed to calculate checksum: %w", err)
		}
		if !strings.EqualFold(checksum, opts.ExpectedChecksum) {
			return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, opts.ExpectedChecksum, checksum)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	f.logger.Info("download completed", "path", destPath, "size_bytes", written)
	return nil
}

// FetchChecksum 获取远端 .sha256 文件内容（格式：hash [filename]）
func (f *Fetcher) FetchChecksum(ctx context.Context, checksumURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrHTTPStatusNotOK, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	return fields[0], nil
}

// Extract 解压归档到目标目录，按扩展名识别格式
func (f *Fetcher) Extract(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create extract directory: %w", err)
	}

	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return f.extractZip(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return f.extractTarGz(archivePath, destDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archivePath))
	}
}

func (f *Fetcher) extractTarGz(tarGzPath, destDir string) error {
	file, err := os.Open(tarGzPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		}
	}
}

func (f *Fetcher) extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, entry := range r.File {
		target, err := safeJoin(destDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open zip entry: %w", err)
		}
		err = writeEntry(rc, target, entry.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// FindBinary 在解压目录中查找指定名字的可执行文件
func (f *Fetcher) FindBinary(extractDir, binaryName string) (string, error) {
	var found string
	err := filepath.Walk(extractDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == binaryName {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binaryName)
	}
	return found, nil
}

// safeJoin 拼接路径并拒绝逃出目标目录的归档条目
func safeJoin(destDir, entryPath string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(entryPath))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, entryPath)
	}
	return target, nil
}

func writeEntry(reader io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, reader)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func fileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func isRetryableDownload(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrDownloadCanceled) {
		return false
	}
	if errors.Is(err, ErrHTTPStatusNotOK) {
		msg := err.Error()
		for _, code := range []string{"400", "401", "403", "404"} {
			if strings.Contains(msg, code) {
				return false
			}
		}
	}
	return true
}

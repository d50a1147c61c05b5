package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// qdrantVersion 内嵌 Qdrant 的固定版本
const qdrantVersion = "v1.16.3"

// EnsureBinary 返回可用的 Qdrant 二进制路径。
// 优先使用配置指定的路径；否则使用数据目录下的安装位置，缺失时自动下载。
func EnsureBinary(ctx context.Context, configuredPath string) (string, error) {
	if configuredPath != "" {
		if _, err := os.Stat(configuredPath); err != nil {
			return "", fmt.Errorf("configured qdrant binary not found at %s: %w", configuredPath, err)
		}
		return configuredPath, nil
	}

	installPath := installedBinaryPath()
	if _, err := os.Stat(installPath); err == nil {
		return installPath, nil
	}

	logger := log.NewModuleLogger("vector", "installer")
	logger.Info("qdrant binary missing, downloading", "version", qdrantVersion)

	if err := downloadAndInstall(ctx, installPath); err != nil {
		return "", err
	}
	return installPath, nil
}

// installedBinaryPath 数据目录下的默认安装位置
func installedBinaryPath() string {
	name := "qdrant"
	if runtime.GOOS == "windows" {
		name = "qdrant.exe"
	}
	return filepath.Join(config.GetDataDir(), "bin", name)
}

func downloadAndInstall(ctx context.Context, installPath string) error {
	url, err := releaseURL(qdrantVersion)
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "qdrant-download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	fetcher := NewFetcher()

	// 校验和文件可能不存在，取不到时跳过校验
	checksum, err := fetcher.FetchChecksum(ctx, url+".sha256")
	if err != nil {
		checksum = ""
	}

	archivePath := filepath.Join(tmpDir, filepath.Base(url))
	opts := DownloadOptions{ExpectedChecksum: checksum, MaxRetries: 3}
	if err := fetcher.Download(ctx, url, archivePath, opts); err != nil {
		return fmt.Errorf("failed to download qdrant: %w", err)
	}

	extractDir := filepath.Join(tmpDir, "extracted")
	if err := fetcher.Extract(archivePath, extractDir); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}

	binaryName := "qdrant"
	if runtime.GOOS == "windows" {
		binaryName = "qdrant.exe"
	}
	binaryPath, err := fetcher.FindBinary(extractDir, binaryName)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(installPath), 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}
	if err := copyBinary(binaryPath, installPath); err != nil {
		return fmt.Errorf("failed to install binary: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(installPath, 0755); err != nil {
			return fmt.Errorf("failed to set executable permission: %w", err)
		}
	}
	return nil
}

// releaseURL 构建 Qdrant GitHub Release 下载地址
func releaseURL(version string) (string, error) {
	versionNum := strings.TrimPrefix(version, "v")

	var target string
	switch runtime.GOOS {
	case "darwin":
		switch runtime.GOARCH {
		case "amd64":
			target = "x86_64-apple-darwin"
		case "arm64":
			target = "aarch64-apple-darwin"
		}
	case "linux":
		switch runtime.GOARCH {
		case "amd64":
			target = "x86_64-unknown-linux-musl"
		case "arm64":
			target = "aarch64-unknown-linux-musl"
		}
	case "windows":
		if runtime.GOARCH == "amd64" {
			target = "x86_64-pc-windows-msvc"
		}
	}
	if target == "" {
		return "", fmt.Errorf("unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	return fmt.Sprintf("https://github.com/qdrant/qdrant/releases/download/%s/qdrant-%s-%s.zip",
		version, versionNum, target), nil
}

func copyBinary(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0755)
}

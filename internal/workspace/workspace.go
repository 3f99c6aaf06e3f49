// Package workspace は処理単位ごとの一時作業ディレクトリを管理します。
package workspace

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	processingDirName = "processing_pdf"
	fallbackDirName   = "pdf-processor"

	// DefaultSweepInterval は孤立ディレクトリ掃除の既定間隔です。
	DefaultSweepInterval = time.Hour
	// DefaultMaxAge は掃除対象とみなす既定の経過時間です。
	DefaultMaxAge = 2 * time.Hour
)

// Manager は一時ディレクトリの作成・削除・定期掃除を担います。
type Manager struct {
	baseDir       string
	processingDir string
	logger        *log.Logger
}

// New は Manager を初期化します。
// baseDir が書き込み不可の場合は一度だけOSの一時領域へフォールバックします。
func New(baseDir string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}

	resolved := baseDir
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		logger.Printf("failed to create base directory %s: %v (falling back to temp dir)", resolved, err)
		resolved = filepath.Join(os.TempDir(), fallbackDirName)
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return nil, fmt.Errorf("作業ディレクトリの初期化に失敗しました: %w", err)
		}
	}

	processingDir := filepath.Join(resolved, processingDirName)
	if err := os.MkdirAll(processingDir, 0o755); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの初期化に失敗しました: %w", err)
	}

	return &Manager{
		baseDir:       resolved,
		processingDir: processingDir,
		logger:        logger,
	}, nil
}

// ProcessingDir は一時ディレクトリの親パスを返します。
func (m *Manager) ProcessingDir() string {
	return m.processingDir
}

// CreateScratch は処理単位用の一時ディレクトリを作成し、絶対パスを返します。
func (m *Manager) CreateScratch(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("scratch id is required")
	}
	dir := filepath.Join(m.processingDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("一時ディレクトリの作成に失敗しました: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("一時ディレクトリの作成に失敗しました: %w", err)
	}
	return abs, nil
}

// Cleanup はディレクトリを再帰的に削除します。既に存在しない場合は何もしません。
// 一度目の削除が失敗した場合はもう一度だけ強制削除を試みます。
func (m *Manager) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		m.logger.Printf("cleanup failed for %s: %v (retrying once)", dir, err)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("一時ディレクトリの削除に失敗しました: %w", err)
		}
	}

	// 削除後も残っている場合は失敗として扱う
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("一時ディレクトリの削除に失敗しました: %s", dir)
	}
	return nil
}

// SweepOlderThan は更新時刻が maxAge より古い一時ディレクトリを削除します。
// 個々のエントリの失敗はログに残してスキップします。
func (m *Manager) SweepOlderThan(maxAge time.Duration) error {
	entries, err := os.ReadDir(m.processingDir)
	if err != nil {
		return fmt.Errorf("一時ディレクトリの走査に失敗しました: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		fullPath := filepath.Join(m.processingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			m.logger.Printf("failed to stat %s during sweep: %v", fullPath, err)
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.RemoveAll(fullPath); err != nil {
			m.logger.Printf("failed to remove stale entry %s: %v", fullPath, err)
			continue
		}
		m.logger.Printf("removed stale scratch directory: %s", fullPath)
	}
	return nil
}

// StartSweeper は定期掃除をバックグラウンドで開始します。ctx のキャンセルで停止します。
func (m *Manager) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.SweepOlderThan(maxAge); err != nil {
					m.logger.Printf("periodic sweep failed: %v", err)
				}
			}
		}
	}()
}

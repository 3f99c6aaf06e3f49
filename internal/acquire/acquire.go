// Package acquire はリモートリソースの取得、アーカイブ展開、PDFファイルの探索を提供します。
package acquire

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/pdf-pipeline/internal/apperr"
)

// アーカイブとして扱う拡張子の一覧です。
var archiveExtensions = map[string]bool{
	".zip": true,
	".tar": true,
	".gz":  true,
	".tgz": true,
}

// Stage は取得処理を担います。
type Stage struct {
	httpClient *http.Client
	logger     *log.Logger
}

// New は Stage を初期化します。ダウンロードにサイズ・時間の上限は設けません。
func New(logger *log.Logger) *Stage {
	if logger == nil {
		logger = log.Default()
	}
	return &Stage{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Fetch はURLの内容を destPath へストリーミング保存します。
func (s *Stage) Fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.New(apperr.CodeNetwork, "ダウンロードリクエストの作成に失敗しました", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperr.New(apperr.CodeNetwork, "ファイルのダウンロードに失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.New(apperr.CodeNetwork, fmt.Sprintf("ダウンロード先がエラーを返しました (status: %d)", resp.StatusCode), nil)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return apperr.New(apperr.CodeIO, "ダウンロード先ファイルの作成に失敗しました", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(destPath)
		return apperr.New(apperr.CodeNetwork, "ダウンロード内容の書き込みに失敗しました", err)
	}
	if err := out.Close(); err != nil {
		return apperr.New(apperr.CodeIO, "ダウンロード先ファイルのクローズに失敗しました", err)
	}

	s.logger.Printf("file downloaded to: %s", destPath)
	return nil
}

// IsArchive はパスの拡張子からアーカイブかどうかを判定します。
func IsArchive(path string) bool {
	return archiveExtensions[strings.ToLower(filepath.Ext(path))]
}

// ExtractInPlace はアーカイブを dir へ展開し、展開後に元のアーカイブファイルを削除します。
// 展開の失敗は取得全体の失敗として扱います（部分展開の後始末は呼び出し側のscratch削除に委ねます）。
func (s *Stage) ExtractInPlace(ctx context.Context, archivePath, dir string) error {
	ext := strings.ToLower(filepath.Ext(archivePath))

	switch ext {
	case ".zip":
		if err := extractZip(archivePath, dir); err != nil {
			return apperr.New(apperr.CodeIO, "zipアーカイブの展開に失敗しました", err)
		}
	case ".tar", ".gz", ".tgz":
		cmd := exec.CommandContext(ctx, "tar", "-xf", archivePath, "-C", dir)
		if output, err := cmd.CombinedOutput(); err != nil {
			return apperr.New(apperr.CodeIO, fmt.Sprintf("tarアーカイブの展開に失敗しました: %s", strings.TrimSpace(string(output))), err)
		}
	default:
		return apperr.New(apperr.CodeIO, fmt.Sprintf("未対応のアーカイブ形式です: %s", ext), nil)
	}

	if err := os.Remove(archivePath); err != nil {
		return apperr.New(apperr.CodeIO, "展開済みアーカイブの削除に失敗しました", err)
	}

	s.logger.Printf("extracted archive %s into %s", filepath.Base(archivePath), dir)
	return nil
}

func extractZip(archivePath, dir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		target := filepath.Join(dir, file.Name)

		// 展開先ディレクトリ外への書き込みを拒否する
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal entry path in archive: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		src, err := file.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		closeErr := dst.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}

// DiscoverPDFs はディレクトリツリーを再帰的に走査し、.pdf（大文字小文字を区別しない）の
// ファイルパス一覧を返します。
func (s *Stage) DiscoverPDFs(dir string) ([]string, error) {
	var results []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".pdf") {
			results = append(results, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeIO, "ディレクトリの走査に失敗しました", err)
	}

	return results, nil
}

// VerifyPDF はファイル内容を判定し、PDFでない場合は false を返します。
// 拡張子だけを偽装したファイルをパイプラインに流さないための検査です。
func (s *Stage) VerifyPDF(path string) bool {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		s.logger.Printf("failed to detect mime type for %s: %v", path, err)
		return false
	}
	if !mtype.Is("application/pdf") {
		s.logger.Printf("skipping non-PDF file %s (detected: %s)", filepath.Base(path), mtype.String())
		return false
	}
	return true
}

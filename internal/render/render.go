// Package render はPDFのページ画像化とオブジェクトストレージへのアップロードを提供します。
package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/pdf-pipeline/internal/apperr"
	"github.com/yourusername/pdf-pipeline/internal/workspace"
)

// ObjectStore は画像の保存先となるストレージの契約です。
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string) (string, error)
}

// PageImage は1ページ分の変換結果です。失敗したページは Err にメッセージを持ちます。
type PageImage struct {
	PageNumber int    `json:"page_number"`
	ImageURL   string `json:"image_url,omitempty"`
	Base64Data string `json:"base64_data,omitempty"`
	Err        string `json:"error,omitempty"`
}

// Config は変換の挙動を制御する設定です。
type Config struct {
	GhostscriptPath string
	Density         int // ラスタライズ解像度（DPI）
	Width           int
	Height          int
	Concurrency     int // プロセス全体のPDF変換同時実行数
	PageBatchSize   int // アップロードのバッチサイズ
}

// Renderer はPDFのページ画像化を担います。
type Renderer struct {
	cfg       Config
	store     ObjectStore
	workspace *workspace.Manager
	logger    *log.Logger

	// セマフォは生成時に必ず初期化される。初回変換前に未初期化であることはない
	sem *semaphore.Weighted

	// rasterize はPDFを outDir 配下の page-<n>.png 群へ変換し、総ページ数を返します。
	// テストから差し替えられるようフィールドに持ちます。
	rasterize func(ctx context.Context, pdfPath, outDir string) (int, error)
}

// New は Renderer を初期化します。Ghostscriptが見つからない場合は起動時点で失敗します。
func New(cfg Config, store ObjectStore, ws *workspace.Manager, logger *log.Logger) (*Renderer, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.GhostscriptPath == "" {
		cfg.GhostscriptPath = "gs"
	}
	if cfg.Density <= 0 {
		cfg.Density = 150
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.PageBatchSize <= 0 {
		cfg.PageBatchSize = 5
	}

	// 必須依存の存在確認。見つからなければ起動を中断する
	if err := exec.Command(cfg.GhostscriptPath, "--version").Run(); err != nil {
		return nil, apperr.New(apperr.CodeDependency, "Ghostscriptが見つかりません。インストールしてから起動してください", err)
	}

	r := &Renderer{
		cfg:       cfg,
		store:     store,
		workspace: ws,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
	r.rasterize = r.rasterizeWithGhostscript
	return r, nil
}

// Render はPDFの全ページを画像化し、ページごとにアップロードしてURLを付与します。
// 個々のページの失敗は結果に記録し、全体の失敗にはしません。
func (r *Renderer) Render(ctx context.Context, pdfPath, uniqueID string, includeBase64 bool) ([]PageImage, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, apperr.New(apperr.CodeRender, fmt.Sprintf("PDFファイルにアクセスできません: %s", pdfPath), err)
	}

	// 変換全体をプロセス共通のセマフォで制限する
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	scratch, err := r.workspace.CreateScratch(uniqueID + "_render")
	if err != nil {
		return nil, apperr.New(apperr.CodeRender, "変換用一時ディレクトリの作成に失敗しました", err)
	}
	defer func() {
		if err := r.workspace.Cleanup(scratch); err != nil {
			r.logger.Printf("[%s] render cleanup failed: %v", uniqueID, err)
		}
	}()

	r.logger.Printf("[%s] starting conversion of %s", uniqueID, filepath.Base(pdfPath))

	totalPages, err := r.rasterize(ctx, pdfPath, scratch)
	if err != nil {
		return nil, apperr.New(apperr.CodeRender, "PDFの画像変換に失敗しました", err)
	}
	r.logger.Printf("[%s] converted PDF to %d images", uniqueID, totalPages)

	return r.processPages(ctx, scratch, uniqueID, totalPages, includeBase64), nil
}

// processPages はページ画像をバッチ単位で読み込み・アップロードします。
// バッチ内は並行、バッチ間は逐次に実行してメモリ使用量を抑えます。
func (r *Renderer) processPages(ctx context.Context, scratch, uniqueID string, totalPages int, includeBase64 bool) []PageImage {
	results := make([]PageImage, totalPages)

	for start := 0; start < totalPages; start += r.cfg.PageBatchSize {
		end := start + r.cfg.PageBatchSize
		if end > totalPages {
			end = totalPages
		}

		g, gctx := errgroup.WithContext(ctx)
		for page := start + 1; page <= end; page++ {
			page := page
			g.Go(func() error {
				results[page-1] = r.processPage(gctx, scratch, uniqueID, page, includeBase64)
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

func (r *Renderer) processPage(ctx context.Context, scratch, uniqueID string, page int, includeBase64 bool) PageImage {
	imagePath := filepath.Join(scratch, fmt.Sprintf("page-%d.png", page))
	data, err := os.ReadFile(imagePath)
	if err != nil {
		r.logger.Printf("[%s] error reading page %d: %v", uniqueID, page, err)
		return PageImage{PageNumber: page, Err: err.Error()}
	}

	key := fmt.Sprintf("%s/page_%d.png", uniqueID, page)
	if err := r.store.Upload(ctx, key, data, "image/png"); err != nil {
		r.logger.Printf("[%s] error uploading page %d: %v", uniqueID, page, err)
		return PageImage{PageNumber: page, Err: err.Error()}
	}

	url, err := r.store.PresignedURL(ctx, key)
	if err != nil {
		r.logger.Printf("[%s] error presigning page %d: %v", uniqueID, page, err)
		return PageImage{PageNumber: page, Err: err.Error()}
	}

	result := PageImage{PageNumber: page, ImageURL: url}
	if includeBase64 {
		result.Base64Data = base64.StdEncoding.EncodeToString(data)
	}

	r.logger.Printf("[%s] processed page %d", uniqueID, page)
	return result
}

// rasterizeWithGhostscript はGhostscriptを1回起動して全ページを page-<n>.png へ出力します。
func (r *Renderer) rasterizeWithGhostscript(ctx context.Context, pdfPath, outDir string) (int, error) {
	pages, err := pdfapi.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("PDF has no pages")
	}

	args := []string{
		"-dSAFER", "-dBATCH", "-dNOPAUSE",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", r.cfg.Density),
	}
	if r.cfg.Width > 0 && r.cfg.Height > 0 {
		args = append(args,
			fmt.Sprintf("-g%dx%d", r.cfg.Width, r.cfg.Height),
			"-dPDFFitPage",
		)
	}
	args = append(args,
		fmt.Sprintf("-sOutputFile=%s", filepath.Join(outDir, "page-%d.png")),
		pdfPath,
	)

	cmd := exec.CommandContext(ctx, r.cfg.GhostscriptPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return 0, fmt.Errorf("ghostscript failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	return pages, nil
}

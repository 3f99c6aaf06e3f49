package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourusername/pdf-pipeline/internal/acquire"
	"github.com/yourusername/pdf-pipeline/internal/apperr"
	"github.com/yourusername/pdf-pipeline/internal/extract"
	"github.com/yourusername/pdf-pipeline/internal/metrics"
	"github.com/yourusername/pdf-pipeline/internal/render"
	"github.com/yourusername/pdf-pipeline/internal/tracker"
	"github.com/yourusername/pdf-pipeline/internal/workspace"
)

// Processor はパイプライン本体です。URL経由・ローカルディレクトリ経由のどちらの投入も
// 同一の処理本体を通ります。
type Processor struct {
	extractor TextExtractor
	renderer  ImageRenderer
	status    StatusStore
	store     ObjectStore
	workspace *workspace.Manager
	acquirer  *acquire.Stage
	metrics   *metrics.Metrics
	logger    *log.Logger

	// batchSize はディレクトリ処理時に同時実行する単位数です。
	// 即時処理の同時実行上限（MAX_CONCURRENT_PROCESSING）と同じ値を配線します。
	batchSize int

	clock func() time.Time // テスト用。nilなら time.Now
}

// NewProcessor は Processor を初期化します。
func NewProcessor(
	extractor TextExtractor,
	renderer ImageRenderer,
	status StatusStore,
	store ObjectStore,
	ws *workspace.Manager,
	acquirer *acquire.Stage,
	m *metrics.Metrics,
	batchSize int,
	logger *log.Logger,
) *Processor {
	if batchSize < 1 {
		batchSize = 3
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		extractor: extractor,
		renderer:  renderer,
		status:    status,
		store:     store,
		workspace: ws,
		acquirer:  acquirer,
		metrics:   m,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Process は指定されたソースを解決し、見つかった全PDFをパイプラインへ流します。
// ソースの解決に失敗した場合のみエラーを返します。個々のPDFの失敗は結果に記録されます。
func (p *Processor) Process(ctx context.Context, src Source, includeBase64 bool, uniqueID string) ([]UnitResult, error) {
	dir, cleanup, err := p.resolveSource(ctx, src, uniqueID)
	if err != nil {
		p.markFailed(ctx, uniqueID, err)
		return nil, err
	}
	defer cleanup()

	pdfFiles, err := p.acquirer.DiscoverPDFs(dir)
	if err != nil {
		p.markFailed(ctx, uniqueID, err)
		return nil, err
	}

	verified := pdfFiles[:0]
	for _, file := range pdfFiles {
		if p.acquirer.VerifyPDF(file) {
			verified = append(verified, file)
		}
	}
	p.logger.Printf("[%s] found %d PDF files", uniqueID, len(verified))

	if len(verified) == 0 {
		err := apperr.New(apperr.CodeIO, "処理対象のPDFファイルが見つかりませんでした", nil)
		p.markFailed(ctx, uniqueID, err)
		return nil, err
	}

	if len(verified) == 1 {
		result := p.ProcessPDF(ctx, ProcessingUnit{
			UniqueID:       uniqueID,
			SourceFilename: filepath.Base(verified[0]),
			SourcePath:     verified[0],
			IncludeBase64:  includeBase64,
		})
		return []UnitResult{result}, nil
	}

	return p.processBatch(ctx, verified, includeBase64, uniqueID), nil
}

// resolveSource はソース種別ごとの取得処理を行い、PDF探索の起点ディレクトリを返します。
func (p *Processor) resolveSource(ctx context.Context, src Source, uniqueID string) (string, func(), error) {
	switch src.Type {
	case SourceURL:
		scratch, err := p.workspace.CreateScratch(uniqueID)
		if err != nil {
			return "", nil, err
		}
		cleanup := func() {
			if err := p.workspace.Cleanup(scratch); err != nil {
				p.logger.Printf("[%s] scratch cleanup failed: %v", uniqueID, err)
			}
		}

		if err := p.fetchAndExtract(ctx, src.DownloadURL, scratch); err != nil {
			cleanup()
			return "", nil, err
		}
		return scratch, cleanup, nil

	case SourceLocalDirectory:
		if info, err := os.Stat(src.DirectoryPath); err != nil || !info.IsDir() {
			return "", nil, apperr.New(apperr.CodeIO, fmt.Sprintf("ディレクトリにアクセスできません: %s", src.DirectoryPath), err)
		}
		// ローカルディレクトリは呼び出し元の所有物のため削除しない
		return src.DirectoryPath, func() {}, nil

	default:
		return "", nil, fmt.Errorf("unknown source type: %s", src.Type)
	}
}

func (p *Processor) fetchAndExtract(ctx context.Context, downloadURL, scratch string) error {
	parsed, err := url.Parse(downloadURL)
	if err != nil {
		return apperr.New(apperr.CodeNetwork, "ダウンロードURLを解釈できませんでした", err)
	}

	// クエリパラメータを除いたファイル名を使用する
	cleanName := path.Base(parsed.Path)
	if cleanName == "" || cleanName == "." || cleanName == "/" {
		cleanName = "download"
	}
	downloaded := filepath.Join(scratch, cleanName)

	if err := p.acquirer.Fetch(ctx, downloadURL, downloaded); err != nil {
		return err
	}

	if acquire.IsArchive(downloaded) {
		if err := p.acquirer.ExtractInPlace(ctx, downloaded, scratch); err != nil {
			return err
		}
	}
	return nil
}

// processBatch は複数PDFを上限付きのバッチで処理します。バッチ内は並行、バッチ間は逐次です。
func (p *Processor) processBatch(ctx context.Context, files []string, includeBase64 bool, parentID string) []UnitResult {
	results := make([]UnitResult, len(files))

	for start := 0; start < len(files); start += p.batchSize {
		end := start + p.batchSize
		if end > len(files) {
			end = len(files)
		}
		p.logger.Printf("[%s] processing batch %d of %d", parentID, start/p.batchSize+1, (len(files)+p.batchSize-1)/p.batchSize)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				filename := filepath.Base(files[i])
				results[i] = p.ProcessPDF(ctx, ProcessingUnit{
					UniqueID:       ChildUniqueID(parentID, filename),
					SourceFilename: filename,
					SourcePath:     files[i],
					IncludeBase64:  includeBase64,
				})
			}()
		}
		wg.Wait()
	}

	return results
}

// ProcessPDF は1つのPDFをテキスト抽出と画像化の2系統で並行処理し、結果を統合します。
// どちらか一方の失敗は許容し、両方失敗した場合のみ単位全体を失敗とします。
func (p *Processor) ProcessPDF(ctx context.Context, unit ProcessingUnit) UnitResult {
	started := p.now()

	if _, err := os.Stat(unit.SourcePath); err != nil {
		return p.failUnit(ctx, unit, started, apperr.New(apperr.CodeIO, "PDFファイルにアクセスできません", err))
	}

	if _, err := p.status.Track(ctx, unit.SourceFilename, unit.SourcePath, unit.UniqueID); err != nil {
		// 台帳の障害で変換そのものは止めない
		p.logger.Printf("[%s] status tracking degraded: %v", unit.UniqueID, err)
	}
	p.logger.Printf("[%s] starting to process: %s", unit.UniqueID, unit.SourceFilename)

	// 2系統のサブパイプラインを並行実行し、それぞれの成否を独立に回収する
	var (
		wg           sync.WaitGroup
		textResult   *extract.Result
		textErr      error
		imageResults []render.PageImage
		imageErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		textResult, textErr = p.extractor.Extract(ctx, unit.SourcePath, unit.UniqueID)
		if textErr != nil {
			p.logger.Printf("[%s] markdown processing failed: %v", unit.UniqueID, textErr)
		}
	}()
	go func() {
		defer wg.Done()
		imageResults, imageErr = p.renderer.Render(ctx, unit.SourcePath, unit.UniqueID, unit.IncludeBase64)
		if imageErr != nil {
			p.logger.Printf("[%s] image processing failed: %v", unit.UniqueID, imageErr)
		}
	}()
	wg.Wait()

	if textErr != nil && imageErr != nil {
		return p.failUnit(ctx, unit, started, fmt.Errorf("both markdown and image processing failed: %w", errors.Join(textErr, imageErr)))
	}

	// 片側だけ失敗した場合は、空だが構造を持つ結果で補って統合を続ける
	if textErr != nil {
		textResult = &extract.Result{Chunks: []extract.Chunk{}}
	}
	if imageErr != nil {
		imageResults = []render.PageImage{}
	}
	p.countPages(imageResults)

	doc, err := p.Merge(ctx, unit.SourceFilename, textResult, imageResults, unit.UniqueID)
	if err != nil {
		return p.failUnit(ctx, unit, started, err)
	}

	if err := p.status.UpdateStatus(ctx, unit.UniqueID, tracker.StatusCompleted, tracker.Extra{S3URL: doc.ResultURL}); err != nil {
		p.logger.Printf("[%s] status update degraded: %v", unit.UniqueID, err)
	}

	elapsed := p.now().Sub(started).Seconds()
	p.observeUnit("completed", elapsed)

	return UnitResult{
		Filename:       unit.SourceFilename,
		UniqueID:       unit.UniqueID,
		Success:        true,
		S3URL:          doc.ResultURL,
		ProcessingTime: elapsed,
		MarkdownStatus: statusLabel(textErr),
		ImageStatus:    statusLabel(imageErr),
	}
}

func (p *Processor) failUnit(ctx context.Context, unit ProcessingUnit, started time.Time, cause error) UnitResult {
	if err := p.status.UpdateStatus(ctx, unit.UniqueID, tracker.StatusFailed, tracker.Extra{Error: cause.Error()}); err != nil {
		p.logger.Printf("[%s] status update degraded: %v", unit.UniqueID, err)
	}

	elapsed := p.now().Sub(started).Seconds()
	p.observeUnit("failed", elapsed)

	return UnitResult{
		Filename:       unit.SourceFilename,
		UniqueID:       unit.UniqueID,
		Success:        false,
		Error:          cause.Error(),
		ProcessingTime: elapsed,
		MarkdownStatus: "failed",
		ImageStatus:    "failed",
	}
}

// markFailed はソース解決段階の失敗を台帳へ記録します。
func (p *Processor) markFailed(ctx context.Context, uniqueID string, cause error) {
	if err := p.status.UpdateStatus(ctx, uniqueID, tracker.StatusFailed, tracker.Extra{Error: cause.Error()}); err != nil {
		p.logger.Printf("[%s] status update degraded: %v", uniqueID, err)
	}
}

func (p *Processor) observeUnit(outcome string, seconds float64) {
	if p.metrics == nil {
		return
	}
	p.metrics.UnitsProcessed.WithLabelValues(outcome).Inc()
	p.metrics.ProcessDuration.Observe(seconds)
}

func (p *Processor) countPages(pages []render.PageImage) {
	if p.metrics == nil {
		return
	}
	for _, page := range pages {
		if page.Err != "" {
			p.metrics.PagesRendered.WithLabelValues("error").Inc()
		} else {
			p.metrics.PagesRendered.WithLabelValues("ok").Inc()
		}
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

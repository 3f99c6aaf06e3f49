package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/pdf-pipeline/internal/apperr"
	"github.com/yourusername/pdf-pipeline/internal/extract"
	"github.com/yourusername/pdf-pipeline/internal/render"
)

// Merge はテキストチャンクとページ画像をページ番号で突き合わせ、1つの成果物に統合して
// オブジェクトストレージへ保存します。両サブパイプラインは構造を持つ結果を渡す必要が
// ありますが、個々のページの欠落やエラーは致命的には扱いません。
func (p *Processor) Merge(ctx context.Context, filename string, textResult *extract.Result, imageResults []render.PageImage, uniqueID string) (*CombinedDocument, error) {
	if textResult == nil || textResult.Chunks == nil {
		return nil, apperr.New(apperr.CodeStructure, "テキスト抽出結果の構造が不正です", nil)
	}
	if imageResults == nil {
		return nil, apperr.New(apperr.CodeStructure, "画像変換結果の構造が不正です", nil)
	}

	doc := &CombinedDocument{
		Status:    "success",
		Filename:  filename,
		UniqueID:  uniqueID,
		Timestamp: p.now().UTC(),
		Pages:     []CombinedPage{},
	}

	// ページ番号昇順に整列する。完了順に依存しない
	sorted := make([]render.PageImage, len(imageResults))
	copy(sorted, imageResults)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PageNumber < sorted[j].PageNumber
	})

	textByPage := make(map[int]string, len(textResult.Chunks))
	for _, chunk := range textResult.Chunks {
		textByPage[chunk.PageNumber] = chunk.ChunkText
	}

	for _, page := range sorted {
		doc.Pages = append(doc.Pages, CombinedPage{
			PageNumber:   page.PageNumber,
			ImageURL:     page.ImageURL,
			Base64Data:   page.Base64Data,
			MarkdownText: textByPage[page.PageNumber], // 欠落ページは空文字
			Error:        page.Err,
		})
		if page.Base64Data != "" {
			doc.HasBase64 = true
		}
	}
	doc.TotalPages = len(sorted)

	// 画像ストリームが空でテキストのみ成功した場合は、テキスト側からページを構成する
	if len(sorted) == 0 && len(textResult.Chunks) > 0 {
		pages := make([]int, 0, len(textByPage))
		for page := range textByPage {
			pages = append(pages, page)
		}
		sort.Ints(pages)
		for _, page := range pages {
			doc.Pages = append(doc.Pages, CombinedPage{
				PageNumber:   page,
				MarkdownText: textByPage[page],
			})
		}
		doc.TotalPages = len(doc.Pages)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, apperr.New(apperr.CodeMerge, "統合結果のエンコードに失敗しました", err)
	}

	key := combinedResultKey(uniqueID, filename)
	if err := p.store.Upload(ctx, key, payload, "application/json"); err != nil {
		return nil, apperr.New(apperr.CodeMerge, "統合結果のアップロードに失敗しました", err)
	}

	url, err := p.store.PresignedURL(ctx, key)
	if err != nil {
		return nil, apperr.New(apperr.CodeMerge, "統合結果のURL生成に失敗しました", err)
	}
	doc.ResultURL = url

	p.logger.Printf("[%s] combined result uploaded: %s", uniqueID, key)
	return doc, nil
}

// combinedResultKey は uniqueId とファイル名から決定的な保存先キーを導出します。
func combinedResultKey(uniqueID, filename string) string {
	name := strings.TrimSuffix(filename, ".pdf")
	return fmt.Sprintf("final_results/%s/%s_combined.json", uniqueID, name)
}

func (p *Processor) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now()
}

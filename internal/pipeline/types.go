// Package pipeline はPDF変換パイプラインの中核（統合・受付制御・実行）を提供します。
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yourusername/pdf-pipeline/internal/extract"
	"github.com/yourusername/pdf-pipeline/internal/render"
	"github.com/yourusername/pdf-pipeline/internal/tracker"
)

// SourceType は処理対象の由来を表します。
type SourceType string

const (
	SourceURL            SourceType = "url"
	SourceLocalDirectory SourceType = "local_directory"
)

// Source は処理対象の指定です。Type に応じていずれかのフィールドを使用します。
type Source struct {
	Type          SourceType
	DownloadURL   string
	DirectoryPath string
}

// ProcessingUnit は1つのPDFがパイプラインを通過する際の作業単位です。
// それ自体は永続化されず、結果はFileRecordとして残ります。
type ProcessingUnit struct {
	UniqueID       string
	SourceFilename string
	SourcePath     string
	IncludeBase64  bool
}

// UnitResult は1単位の処理結果です。
type UnitResult struct {
	Filename       string  `json:"filename"`
	UniqueID       string  `json:"uniqueId"`
	Success        bool    `json:"success"`
	Error          string  `json:"error,omitempty"`
	S3URL          string  `json:"s3_url,omitempty"`
	ProcessingTime float64 `json:"processingTime"`
	MarkdownStatus string  `json:"markdown_status"`
	ImageStatus    string  `json:"image_status"`
}

// CombinedPage は統合後の1ページ分のデータです。
type CombinedPage struct {
	PageNumber   int    `json:"page_number"`
	ImageURL     string `json:"image_url,omitempty"`
	Base64Data   string `json:"base64_data,omitempty"`
	MarkdownText string `json:"markdown_text"`
	Error        string `json:"error,omitempty"`
}

// CombinedDocument は最終成果物です。一度書き出された後は変更されません。
type CombinedDocument struct {
	Status     string         `json:"status"`
	Filename   string         `json:"filename"`
	UniqueID   string         `json:"uniqueId"`
	Timestamp  time.Time      `json:"timestamp"`
	Pages      []CombinedPage `json:"pages"`
	TotalPages int            `json:"total_pages"`
	HasBase64  bool           `json:"has_base64"`
	ResultURL  string         `json:"s3_url,omitempty"`
}

// TextExtractor はテキスト抽出サブパイプラインの契約です。
type TextExtractor interface {
	Extract(ctx context.Context, pdfPath, uniqueID string) (*extract.Result, error)
}

// ImageRenderer は画像化サブパイプラインの契約です。
type ImageRenderer interface {
	Render(ctx context.Context, pdfPath, uniqueID string, includeBase64 bool) ([]render.PageImage, error)
}

// StatusStore はFileRecord台帳の契約です。
type StatusStore interface {
	Track(ctx context.Context, filename, filePath, uniqueID string) (*tracker.FileRecord, error)
	MarkReceived(ctx context.Context, filename, uniqueID string) error
	MarkQueued(ctx context.Context, uniqueID string) error
	UpdateStatus(ctx context.Context, uniqueID string, status tracker.Status, extra tracker.Extra) error
	GetStatus(ctx context.Context, uniqueID string) (*tracker.FileRecord, error)
}

// ObjectStore は統合結果の保存先の契約です。
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string) (string, error)
}

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

// GenerateUniqueID はファイル名とタイムスタンプから一意のIDを生成します。
func GenerateUniqueID(filename string) string {
	sanitized := idSanitizer.ReplaceAllString(filename, "_")
	return fmt.Sprintf("%s_%d", sanitized, time.Now().UnixMilli())
}

// GenerateLocalID はローカルディレクトリ処理用のIDを生成します。
func GenerateLocalID() string {
	return fmt.Sprintf("local_%d", time.Now().UnixMilli())
}

// ChildUniqueID は親IDに紐づく個別ファイルのIDを生成します。
func ChildUniqueID(parentID, filename string) string {
	base := strings.TrimSuffix(filename, filenameExt(filename))
	return fmt.Sprintf("%s_%s", parentID, idSanitizer.ReplaceAllString(base, "_"))
}

func filenameExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}
	return ""
}

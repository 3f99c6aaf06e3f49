// Package extract は外部テキスト抽出サービスへのクライアントを提供します。
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yourusername/pdf-pipeline/internal/apperr"
	"github.com/yourusername/pdf-pipeline/internal/retry"
)

// Chunk は抽出サービスが返すページ単位のテキストです。
type Chunk struct {
	PageNumber int            `json:"page_number"`
	ChunkText  string         `json:"chunkText"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result は抽出サービスのレスポンス全体です。
type Result struct {
	Chunks []Chunk `json:"chunks"`
}

// Client は抽出サービスへのリクエストを担います。
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *log.Logger

	// 再試行の待機時間。テストから短縮できるようフィールドに持つ
	initialDelay time.Duration
	maxDelay     time.Duration
}

// statusError はHTTPステータスに基づく失敗です。再試行可否の判定に使用します。
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("markdown service error (%d): %s", e.status, e.body)
}

// NewClient は Client を初期化します。
func NewClient(serviceURL string, requestTimeout time.Duration, logger *log.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		serviceURL:   serviceURL,
		httpClient:   &http.Client{Timeout: requestTimeout},
		logger:       logger,
		initialDelay: 2 * time.Second,
		maxDelay:     10 * time.Second,
	}
}

// Extract はPDFをマルチパートで抽出サービスへ送信し、ページ単位のテキストを返します。
// 接続エラーおよび5xxは最大3回まで再試行し、毎回新しいアップロードストリームを作り直します。
// 4xxと不正なレスポンスは即座に失敗します。
func (c *Client) Extract(ctx context.Context, pdfPath, uniqueID string) (*Result, error) {
	filename := filepath.Base(pdfPath)

	var result *Result
	err := retry.Do(ctx, func(ctx context.Context) error {
		res, err := c.attempt(ctx, pdfPath, filename, uniqueID)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, retry.Options{
		MaxRetries:   3,
		InitialDelay: c.initialDelay,
		MaxDelay:     c.maxDelay,
		ShouldRetry:  isRetryable,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeExtraction, fmt.Sprintf("テキスト抽出に失敗しました (%s)", filename), err)
	}

	c.logger.Printf("[%s] successfully extracted text for: %s", uniqueID, filename)
	return result, nil
}

// attempt は1回分のアップロードを実行します。失敗したストリームは再利用できないため、
// 呼び出しごとにファイルを開き直します。
func (c *Client) attempt(ctx context.Context, pdfPath, filename, uniqueID string) (*Result, error) {
	file, err := os.Open(pdfPath)
	if err != nil {
		return nil, apperr.New(apperr.CodeIO, "PDFファイルを開けませんでした", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	c.logger.Printf("[%s] sending PDF to markdown service: %s", uniqueID, filename)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperr.New(apperr.CodeExtraction, "抽出サービスのレスポンスを解釈できませんでした", err)
	}
	return &result, nil
}

// isRetryable は接続レベルの失敗と5xxのみを再試行対象とします。
func isRetryable(err error) bool {
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= 500
	}

	// 分類済みのアプリケーションエラー（4xx相当・構造不正）は再試行しない
	if apperr.CodeOf(err) != "" {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

package pipeline

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-pipeline/internal/apperr"
	"github.com/yourusername/pdf-pipeline/internal/metrics"
)

// EnqueueInfo はジョブ投入結果です。
type EnqueueInfo struct {
	JobID         string
	QueuePosition int
	TotalJobs     int
}

// QueueSnapshot はキューの現況です。
type QueueSnapshot struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Failed  int `json:"failed"`
}

// JobQueue は耐久キューへの投入と状態参照の契約です。
type JobQueue interface {
	EnqueueURL(ctx context.Context, downloadURL string, includeBase64 bool, uniqueID string) (*EnqueueInfo, error)
	EnqueueLocalDirectory(ctx context.Context, directoryPath string, includeBase64 bool, uniqueID string) (*EnqueueInfo, error)
	Snapshot(ctx context.Context) (*QueueSnapshot, error)
}

// Handler はHTTP入口です。即時処理とキュー投入の振り分けを担います。
type Handler struct {
	processor *Processor
	queue     JobQueue
	status    StatusStore
	gate      *Gate
	metrics   *metrics.Metrics
	logger    *log.Logger
}

// NewHandler は Handler を初期化します。
func NewHandler(processor *Processor, queue JobQueue, status StatusStore, gate *Gate, m *metrics.Metrics, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		processor: processor,
		queue:     queue,
		status:    status,
		gate:      gate,
		metrics:   m,
		logger:    logger,
	}
}

// RegisterRoutes はルーティングを設定します。
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST("/process-directory-from-url", h.ProcessDirectoryFromURL)
	router.POST("/process-local-directory", h.ProcessLocalDirectory)
	router.GET("/file-status/:uniqueId", h.FileStatus)
	router.GET("/queue-status", h.QueueStatus)
	router.GET("/health", h.Health)
}

type urlRequest struct {
	DownloadURL   string `json:"downloadUrl" binding:"required"`
	IncludeBase64 bool   `json:"includeBase64"`
}

type localRequest struct {
	DirectoryPath string `json:"directoryPath" binding:"required"`
	IncludeBase64 bool   `json:"includeBase64"`
}

// ProcessDirectoryFromURL はURLで指定されたアーカイブ/PDFの処理を受け付けます。
func (h *Handler) ProcessDirectoryFromURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "downloadUrlは必須です"})
		return
	}

	uniqueID := GenerateUniqueID(path.Base(req.DownloadURL))
	h.admit(c, uniqueID, path.Base(req.DownloadURL), Source{
		Type:        SourceURL,
		DownloadURL: req.DownloadURL,
	}, req.IncludeBase64)
}

// ProcessLocalDirectory はサーバー上のディレクトリの処理を受け付けます。
func (h *Handler) ProcessLocalDirectory(c *gin.Context) {
	var req localRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "directoryPathは必須です"})
		return
	}

	if info, err := os.Stat(req.DirectoryPath); err != nil || !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "指定されたディレクトリが存在しません"})
		return
	}

	uniqueID := GenerateLocalID()
	h.admit(c, uniqueID, path.Base(req.DirectoryPath), Source{
		Type:          SourceLocalDirectory,
		DirectoryPath: req.DirectoryPath,
	}, req.IncludeBase64)
}

// admit は受付処理の共通部です。空きがあれば即時処理、なければキューへ投入します。
func (h *Handler) admit(c *gin.Context, uniqueID, filename string, src Source, includeBase64 bool) {
	if err := h.status.MarkReceived(c.Request.Context(), filename, uniqueID); err != nil {
		// 受付の記録失敗では処理を止めない
		h.logger.Printf("[%s] failed to record receipt: %v", uniqueID, err)
	}

	if h.gate.TryAcquire() {
		go h.runInline(src, includeBase64, uniqueID)
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "processing",
			"message":  "処理を開始しました",
			"uniqueId": uniqueID,
		})
		return
	}

	var (
		enq *EnqueueInfo
		err error
	)
	switch src.Type {
	case SourceURL:
		enq, err = h.queue.EnqueueURL(c.Request.Context(), src.DownloadURL, includeBase64, uniqueID)
	case SourceLocalDirectory:
		enq, err = h.queue.EnqueueLocalDirectory(c.Request.Context(), src.DirectoryPath, includeBase64, uniqueID)
	}
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	if err := h.status.MarkQueued(c.Request.Context(), uniqueID); err != nil {
		h.logger.Printf("[%s] failed to record queueing: %v", uniqueID, err)
	}
	if h.metrics != nil {
		h.metrics.JobsEnqueued.Inc()
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":        "queued",
		"message":       "処理待ちキューに追加しました",
		"uniqueId":      uniqueID,
		"jobId":         enq.JobID,
		"queuePosition": enq.QueuePosition,
		"totalJobs":     enq.TotalJobs,
	})
}

// runInline は即時処理枠での実行です。HTTPリクエストの寿命とは切り離します。
func (h *Handler) runInline(src Source, includeBase64 bool, uniqueID string) {
	defer h.gate.Release()

	ctx := context.Background()
	if _, err := h.processor.Process(ctx, src, includeBase64, uniqueID); err != nil {
		h.logger.Printf("[%s] inline processing failed: %v", uniqueID, err)
	}
}

// FileStatus は指定IDの処理状況を返します。
func (h *Handler) FileStatus(c *gin.Context) {
	uniqueID := c.Param("uniqueId")

	record, err := h.status.GetStatus(c.Request.Context(), uniqueID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "指定されたファイルの記録が見つかりません"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": record})
}

// QueueStatus はキューと即時処理枠の現況を返します。
func (h *Handler) QueueStatus(c *gin.Context) {
	snapshot, err := h.queue.Snapshot(c.Request.Context())
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue":            snapshot,
		"activeProcessing": h.gate.Active(),
		"processingLimit":  h.gate.Limit(),
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

// Health は死活確認用のエンドポイントです。
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondWithError はエラー種別に応じたステータスコードで応答します。
func (h *Handler) respondWithError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperr.CodeNotFound:
			status = http.StatusNotFound
		case apperr.CodeNetwork:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}

	h.logger.Printf("unexpected error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "内部エラーが発生しました"})
}

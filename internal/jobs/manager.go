package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/pdf-pipeline/internal/config"
	"github.com/yourusername/pdf-pipeline/internal/pipeline"
)

const maxRetry = 3

// Manager はジョブの投入・実行・状態参照を担います。pipeline.JobQueue を実装します。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	processor *pipeline.Processor
	status    pipeline.StatusStore
	logger    *log.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, processor *pipeline.Processor, status pipeline.StatusStore, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if processor == nil {
		return nil, errors.New("processor is nil")
	}
	if status == nil {
		return nil, errors.New("status store is nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.QueueConcurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return retryDelay(n)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(taskErrorHandler(logger)),
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:       cfg,
		client:    client,
		server:    server,
		mux:       mux,
		inspector: asynq.NewInspector(opt),
		processor: processor,
		status:    status,
		logger:    logger,
	}
	mux.HandleFunc(TaskTypeURL, manager.handleURLTask)
	mux.HandleFunc(TaskTypeLocalDirectory, manager.handleLocalDirectoryTask)
	return manager, nil
}

// retryDelay は再試行間隔を返します。5秒から始まり試行ごとに倍になります。
func retryDelay(n int) time.Duration {
	return 5 * time.Second << n
}

// taskErrorHandler は試行単位の失敗をログに残します。最終的な失敗だけでなく、
// 再試行に回る失敗もここを通ります。
func taskErrorHandler(logger *log.Logger) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		uniqueID := "unknown"
		var payload Payload
		if json.Unmarshal(task.Payload(), &payload) == nil && payload.UniqueID != "" {
			uniqueID = payload.UniqueID
		}
		retried, _ := asynq.GetRetryCount(ctx)
		logger.Printf("[%s] task %s attempt failed (retries so far: %d): %v", uniqueID, task.Type(), retried, err)
	}
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Printf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		return err
	}
	return m.inspector.Close()
}

// EnqueueURL はURL起点のジョブをキューへ投入します。
func (m *Manager) EnqueueURL(ctx context.Context, downloadURL string, includeBase64 bool, uniqueID string) (*pipeline.EnqueueInfo, error) {
	return m.enqueue(ctx, TaskTypeURL, &Payload{
		DownloadURL:   downloadURL,
		IncludeBase64: includeBase64,
		UniqueID:      uniqueID,
	})
}

// EnqueueLocalDirectory はローカルディレクトリ起点のジョブをキューへ投入します。
func (m *Manager) EnqueueLocalDirectory(ctx context.Context, directoryPath string, includeBase64 bool, uniqueID string) (*pipeline.EnqueueInfo, error) {
	return m.enqueue(ctx, TaskTypeLocalDirectory, &Payload{
		DirectoryPath: directoryPath,
		IncludeBase64: includeBase64,
		UniqueID:      uniqueID,
	})
}

func (m *Manager) enqueue(ctx context.Context, taskType string, payload *Payload) (*pipeline.EnqueueInfo, error) {
	if payload.UniqueID == "" {
		return nil, fmt.Errorf("uniqueID is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(taskType, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry))
	if err != nil {
		return nil, err
	}
	m.logger.Printf("[%s] enqueued job %s (%s)", payload.UniqueID, info.ID, taskType)

	position, total := m.queuePosition(info.ID)
	return &pipeline.EnqueueInfo{
		JobID:         info.ID,
		QueuePosition: position,
		TotalJobs:     total,
	}, nil
}

// queuePosition は投入直後のジョブの待ち順を推定します（先頭が0）。Inspectorの
// 取得に失敗しても投入自体は成功しているため、順位は列の末尾として返します。
func (m *Manager) queuePosition(jobID string) (position, total int) {
	queueInfo, err := m.inspector.GetQueueInfo(queueName)
	if err != nil {
		m.logger.Printf("failed to inspect queue: %v", err)
		return 0, 0
	}
	total = queueInfo.Pending + queueInfo.Active
	position = total - 1
	if position < 0 {
		position = 0
	}

	pending, err := m.inspector.ListPendingTasks(queueName)
	if err != nil {
		return position, total
	}
	for i, task := range pending {
		if task.ID == jobID {
			return queueInfo.Active + i, total
		}
	}
	return position, total
}

// Snapshot はキューの現況を返します。
func (m *Manager) Snapshot(ctx context.Context) (*pipeline.QueueSnapshot, error) {
	queueInfo, err := m.inspector.GetQueueInfo(queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return &pipeline.QueueSnapshot{
		Waiting: queueInfo.Pending,
		Active:  queueInfo.Active,
		Failed:  queueInfo.Retry + queueInfo.Archived,
	}, nil
}

func (m *Manager) handleURLTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	return m.run(ctx, pipeline.Source{
		Type:        pipeline.SourceURL,
		DownloadURL: payload.DownloadURL,
	}, payload, path.Base(payload.DownloadURL))
}

func (m *Manager) handleLocalDirectoryTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	return m.run(ctx, pipeline.Source{
		Type:          pipeline.SourceLocalDirectory,
		DirectoryPath: payload.DirectoryPath,
	}, payload, path.Base(payload.DirectoryPath))
}

func (m *Manager) run(ctx context.Context, src pipeline.Source, payload *Payload, filename string) error {
	if _, err := m.status.Track(ctx, filename, "", payload.UniqueID); err != nil {
		m.logger.Printf("[%s] status tracking degraded: %v", payload.UniqueID, err)
	}

	results, err := m.processor.Process(ctx, src, payload.IncludeBase64, payload.UniqueID)
	if err != nil {
		return fmt.Errorf("job %s failed: %w", payload.UniqueID, err)
	}

	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	m.logger.Printf("[%s] job finished: %d units, %d failed", payload.UniqueID, len(results), failed)
	return nil
}

// decodePayload はタスクのペイロードを検証付きで復号します。復号できないタスクは
// 再試行しても回復しないため SkipRetry を付けて返します。
func decodePayload(task *asynq.Task) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("malformed payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UniqueID == "" {
		return nil, fmt.Errorf("missing uniqueId in payload: %w", asynq.SkipRetry)
	}
	return &payload, nil
}

// Package tracker はファイル単位の処理状態を永続化する台帳を提供します。
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-pipeline/internal/apperr"
)

// Status はファイル処理の状態を表します。
type Status string

const (
	StatusReceived   Status = "received"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const recordKeyPrefix = "file:"

// FileRecord は1回の処理試行に対応する台帳エントリです。
type FileRecord struct {
	UniqueID      string     `json:"uniqueId"`
	Filename      string     `json:"filename"`
	FilePath      string     `json:"filePath,omitempty"`
	Status        Status     `json:"status"`
	StartTime     time.Time  `json:"startTime"`
	CompletedTime *time.Time `json:"completedTime,omitempty"`
	LastUpdated   time.Time  `json:"lastUpdated"`
	Error         string     `json:"error,omitempty"`
	S3URL         string     `json:"s3Url,omitempty"`
}

// Extra は状態更新時に併せて保存する付加情報です。
type Extra struct {
	S3URL string
	Error string
}

// Tracker はFileRecordの読み書きを担います。状態の変更は本パッケージ以外からは行いません。
type Tracker struct {
	rdb    *redis.Client
	logger *log.Logger
	now    func() time.Time
}

// New は Tracker を作成します。
func New(rdb *redis.Client, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		rdb:    rdb,
		logger: logger,
		now:    time.Now,
	}
}

// Track は処理開始を記録します。同一IDが既に processing の場合は lastUpdated のみを
// 更新して既存レコードを返します（クラッシュ後の再投入を二重登録にしないため）。
func (t *Tracker) Track(ctx context.Context, filename, filePath, uniqueID string) (*FileRecord, error) {
	if uniqueID == "" {
		return nil, fmt.Errorf("uniqueID is required")
	}

	existing, err := t.GetStatus(ctx, uniqueID)
	if err != nil {
		return nil, err
	}

	record := applyTrack(existing, filename, filePath, uniqueID, t.now().UTC())
	if err := t.save(ctx, record); err != nil {
		return nil, err
	}

	t.logger.Printf("tracking file: %s (ID: %s)", filename, uniqueID)
	return record, nil
}

// applyTrack は再投入時の台帳更新規則を適用します。
func applyTrack(existing *FileRecord, filename, filePath, uniqueID string, now time.Time) *FileRecord {
	if existing != nil && existing.Status == StatusProcessing {
		existing.LastUpdated = now
		return existing
	}
	return &FileRecord{
		UniqueID:    uniqueID,
		Filename:    filename,
		FilePath:    filePath,
		Status:      StatusProcessing,
		StartTime:   now,
		LastUpdated: now,
	}
}

// MarkReceived は受付直後の初期レコードを作成します（既存レコードは上書きしません）。
func (t *Tracker) MarkReceived(ctx context.Context, filename, uniqueID string) error {
	existing, err := t.GetStatus(ctx, uniqueID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	now := t.now().UTC()
	return t.save(ctx, &FileRecord{
		UniqueID:    uniqueID,
		Filename:    filename,
		Status:      StatusReceived,
		StartTime:   now,
		LastUpdated: now,
	})
}

// MarkQueued はキュー投入済みであることを記録します。
func (t *Tracker) MarkQueued(ctx context.Context, uniqueID string) error {
	return t.UpdateStatus(ctx, uniqueID, StatusQueued, Extra{})
}

// UpdateStatus は状態と付加情報を保存します。completed / failed では completedTime を刻みます。
// 対象レコードが存在しない場合は NOT_FOUND を返します。
func (t *Tracker) UpdateStatus(ctx context.Context, uniqueID string, status Status, extra Extra) error {
	record, err := t.GetStatus(ctx, uniqueID)
	if err != nil {
		return err
	}
	if record == nil {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("file record not found: %s", uniqueID), nil)
	}

	now := t.now().UTC()
	record.Status = status
	record.LastUpdated = now
	if extra.S3URL != "" {
		record.S3URL = extra.S3URL
	}
	if extra.Error != "" {
		record.Error = extra.Error
	}
	if status == StatusCompleted || status == StatusFailed {
		record.CompletedTime = &now
	}

	if err := t.save(ctx, record); err != nil {
		return err
	}
	t.logger.Printf("updated status for %s to %s", uniqueID, status)
	return nil
}

// GetStatus は現在のレコードを返します。存在しない場合は nil を返します。
func (t *Tracker) GetStatus(ctx context.Context, uniqueID string) (*FileRecord, error) {
	data, err := t.rdb.Get(ctx, recordKey(uniqueID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load file record %s: %w", uniqueID, err)
	}
	var record FileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode file record %s: %w", uniqueID, err)
	}
	return &record, nil
}

func (t *Tracker) save(ctx context.Context, record *FileRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := t.rdb.Set(ctx, recordKey(record.UniqueID), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save file record %s: %w", record.UniqueID, err)
	}
	return nil
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

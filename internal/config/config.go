// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ジョブ/キュー設定
	QueueRedisURL    string // Asynq用Redis接続URL
	StatusRedisURL   string // ファイル状態台帳用Redis接続URL
	QueueConcurrency int    // キューワーカーの同時実行数

	// 処理制御
	MaxConcurrentProcessing int    // 即時処理の同時実行上限（超過分はキューへ）
	WorkDir                 string // 一時作業ディレクトリのベースパス

	// テキスト抽出サービス設定
	MarkdownServiceURL     string        // 抽出サービスのエンドポイント
	MarkdownRequestTimeout time.Duration // 抽出リクエストのタイムアウト

	// 画像変換設定
	GhostscriptPath   string // Ghostscript実行ファイルのパス
	ImageDensity      int    // ラスタライズ解像度（DPI）
	ImageWidth        int    // 出力画像の幅
	ImageHeight       int    // 出力画像の高さ
	RenderConcurrency int    // プロセス全体のPDF変換同時実行数
	PageBatchSize     int    // ページアップロードのバッチサイズ

	// S3設定
	AWSRegion    string        // AWSリージョン
	S3Bucket     string        // 結果保存先バケット名
	S3Endpoint   string        // エンドポイント上書き（MinIO等の検証環境用）
	S3FolderPath string        // キーの共通プレフィックス
	S3URLExpiry  time.Duration // 署名付きURLの有効期限
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "3000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ジョブ/キュー設定
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		StatusRedisURL:   getEnv("STATUS_REDIS_URL", "redis://127.0.0.1:6379/1"),
		QueueConcurrency: getEnvAsInt("QUEUE_CONCURRENCY", 1),

		// 処理制御
		MaxConcurrentProcessing: getEnvAsInt("MAX_CONCURRENT_PROCESSING", 3),
		WorkDir:                 getEnv("WORK_DIR", "storage"),

		// テキスト抽出サービス設定
		MarkdownServiceURL:     getEnv("MARKDOWN_SERVICE_URL", "http://127.0.0.1:8000/extract"),
		MarkdownRequestTimeout: time.Duration(getEnvAsInt("MARKDOWN_REQUEST_TIMEOUT_SECONDS", 300)) * time.Second,

		// 画像変換設定
		GhostscriptPath:   getEnv("GHOSTSCRIPT_PATH", "gs"),
		ImageDensity:      getEnvAsInt("PDF_IMAGE_DENSITY", 150),
		ImageWidth:        getEnvAsInt("PDF_IMAGE_WIDTH", 1200),
		ImageHeight:       getEnvAsInt("PDF_IMAGE_HEIGHT", 1600),
		RenderConcurrency: getEnvAsInt("RENDER_CONCURRENCY", 3),
		PageBatchSize:     getEnvAsInt("PAGE_BATCH_SIZE", 5),

		// S3設定
		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:     getEnv("S3_BUCKET_NAME", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3FolderPath: getEnv("S3_FOLDER_PATH", ""),
		S3URLExpiry:  time.Duration(getEnvAsInt("S3_URL_EXPIRY", 604800)) * time.Second,
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.QueueConcurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1")
	}
	if c.MaxConcurrentProcessing < 1 {
		return fmt.Errorf("MAX_CONCURRENT_PROCESSING must be at least 1")
	}
	if c.RenderConcurrency < 1 {
		return fmt.Errorf("RENDER_CONCURRENCY must be at least 1")
	}
	if c.PageBatchSize < 1 {
		return fmt.Errorf("PAGE_BATCH_SIZE must be at least 1")
	}

	// 本番環境では外部サービスの設定を厳格にチェックする
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.MarkdownServiceURL == "" {
			return fmt.Errorf("MARKDOWN_SERVICE_URL is required in release mode")
		}
		if c.GhostscriptPath == "" {
			return fmt.Errorf("GHOSTSCRIPT_PATH is required in release mode")
		}
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

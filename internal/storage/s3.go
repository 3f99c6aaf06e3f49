// Package storage は変換結果の保存先となるオブジェクトストレージへのアクセスを提供します。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store はS3互換ストレージへのアップロードと署名付きURL生成を担います。
type S3Store struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	folderPath string
	urlExpiry  time.Duration
}

// Options は S3Store の接続設定です。
type Options struct {
	Region     string
	Bucket     string
	Endpoint   string // MinIO等の検証環境用。空なら通常のAWSエンドポイントを使用
	FolderPath string // キーの共通プレフィックス
	URLExpiry  time.Duration
}

// NewS3Store はS3クライアントを初期化します。
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = 7 * 24 * time.Hour
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if opts.Endpoint != "" {
		// MinIO等の検証環境向け
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	return &S3Store{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     opts.Bucket,
		folderPath: opts.FolderPath,
		urlExpiry:  opts.URLExpiry,
	}, nil
}

// Upload はキーに対してデータを保存します。
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s3Key := s.normalizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s3Key, err)
	}
	return nil
}

// PresignedURL はキーに対する期限付きの取得URLを生成します。
func (s *S3Store) PresignedURL(ctx context.Context, key string) (string, error) {
	s3Key := s.normalizeKey(key)
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", s3Key, err)
	}
	return req.URL, nil
}

// normalizeKey はプレフィックスを連結し、区切り文字をスラッシュに正規化します。
func (s *S3Store) normalizeKey(key string) string {
	joined := path.Join(s.folderPath, key)
	joined = strings.ReplaceAll(joined, "\\", "/")
	return strings.TrimPrefix(joined, "/")
}

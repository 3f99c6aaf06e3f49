// Package retry は指数バックオフ付きの再試行実行機能を提供します。
package retry

import (
	"context"
	"log"
	"time"
)

// Options は再試行の挙動を制御する設定です。
type Options struct {
	MaxRetries   int                   // 最大試行回数（初回実行を含む）
	InitialDelay time.Duration         // 初回待機時間
	MaxDelay     time.Duration         // 待機時間の上限
	ShouldRetry  func(err error) bool  // エラーが再試行可能かを判定する（nilなら常に再試行）
	Logger       *log.Logger           // 省略可能。再試行の経過を記録する
}

// Do は operation を実行し、失敗時には指数バックオフで再試行します。
// ShouldRetry が false を返すか試行回数を使い切った場合は、最後のエラーをそのまま返します。
func Do(ctx context.Context, operation func(context.Context) error, opts Options) error {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	var lastErr error
	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) || attempt == opts.MaxRetries {
			return lastErr
		}

		if opts.Logger != nil {
			opts.Logger.Printf("operation failed, attempt %d/%d: %v (retrying in %s)", attempt, opts.MaxRetries, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		// 上限付きで待機時間を倍増させる
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return lastErr
}

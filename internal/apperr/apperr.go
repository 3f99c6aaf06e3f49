// Package apperr はパイプライン全体で共有するエラー分類を提供します。
package apperr

import "errors"

// エラーコード一覧。HTTPレスポンスおよびFileRecordのエラー文字列に使用します。
const (
	CodeNetwork    = "NETWORK_ERROR"    // ダウンロード等の通信失敗
	CodeIO         = "IO_ERROR"         // ファイルシステム操作の失敗
	CodeExtraction = "EXTRACTION_ERROR" // テキスト抽出サービスの失敗
	CodeRender     = "RENDER_ERROR"     // 画像変換の失敗
	CodeStructure  = "STRUCTURE_ERROR"  // サブパイプライン出力の構造不正
	CodeMerge      = "MERGE_ERROR"      // 結果統合・保存の失敗
	CodeNotFound   = "NOT_FOUND"        // 対象レコードが存在しない
	CodeDependency = "DEPENDENCY_ERROR" // 必須の外部ツールが見つからない
)

// Error はコード付きのアプリケーションエラーです。
type Error struct {
	Code    string
	Message string
	cause   error
}

// New はコード付きエラーを生成します。cause は省略可能です。
func New(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf はエラーからコードを取り出します。分類されていないエラーは空文字を返します。
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

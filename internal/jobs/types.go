// Package jobs はAsynqによる耐久ジョブキューを提供します。即時処理枠に空きがない
// リクエストはここへ投入され、ワーカーが順に処理します。
package jobs

const (
	// TaskTypeURL はURL起点の処理ジョブです。
	TaskTypeURL = "pdf:url"
	// TaskTypeLocalDirectory はローカルディレクトリ起点の処理ジョブです。
	TaskTypeLocalDirectory = "pdf:local_directory"

	queueName = "pdf"
)

// Payload は処理ジョブのペイロードです。
type Payload struct {
	DownloadURL   string `json:"downloadUrl,omitempty"`
	DirectoryPath string `json:"directoryPath,omitempty"`
	IncludeBase64 bool   `json:"includeBase64"`
	UniqueID      string `json:"uniqueId"`
}

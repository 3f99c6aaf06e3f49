// Package metrics はパイプラインの処理状況を計測するPrometheusメトリクスを提供します。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics は登録済みコレクターの集合です。
type Metrics struct {
	UnitsProcessed  *prometheus.CounterVec // 処理単位の完了数（outcome: completed / failed）
	PagesRendered   *prometheus.CounterVec // ページ画像化の結果数（status: ok / error）
	JobsEnqueued    prometheus.Counter     // キューへ退避されたジョブ数
	ProcessDuration prometheus.Histogram   // 1単位あたりの処理時間（秒）
}

// New はメトリクスを生成して registerer に登録します。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UnitsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf_units_processed_total",
				Help: "Total number of processing units finished, by outcome",
			},
			[]string{"outcome"},
		),
		PagesRendered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf_pages_rendered_total",
				Help: "Total number of rendered pages, by status",
			},
			[]string{"status"},
		),
		JobsEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdf_jobs_enqueued_total",
				Help: "Total number of units deferred to the durable queue",
			},
		),
		ProcessDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdf_unit_processing_duration_seconds",
				Help:    "Time taken to process one PDF unit",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}

	reg.MustRegister(
		m.UnitsProcessed,
		m.PagesRendered,
		m.JobsEnqueued,
		m.ProcessDuration,
	)
	return m
}

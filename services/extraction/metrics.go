package extraction

import "github.com/prometheus/client_golang/prometheus"

var (
	rowsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "extraction_rows_total",
		Help: "Rows stored as transaction records",
	}, []string{"kind"})
	rowsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "extraction_rows_skipped_total",
		Help: "Rows dropped by the transformer",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(rowsExtracted, rowsSkipped)
}

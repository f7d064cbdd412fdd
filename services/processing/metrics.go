package processing

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSucceeded  = "succeeded"
	outcomeFailed     = "failed"
	outcomeIneligible = "ineligible"
)

var (
	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_records_total",
		Help: "Records settled by processing runs, by outcome",
	}, []string{"outcome"})
	pointsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "processing_points_accrued_total",
		Help: "Points credited on the ledger",
	})
)

func init() {
	prometheus.MustRegister(recordsTotal, pointsTotal)
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics counts ledger adjustments. It satisfies ledger.Metrics.
type StockMetrics struct {
	adjustments  *prometheus.CounterVec
	units        *prometheus.CounterVec
	insufficient *prometheus.CounterVec
}

// NewStockMetrics registers the ledger collectors on registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_retail_stock_adjustments_total",
		Help: "Committed stock adjustments by reason.",
	}, []string{"reason"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_retail_stock_units_total",
		Help: "Units moved by the stock ledger by reason and direction.",
	}, []string{"reason", "direction"})
	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_retail_stock_insufficient_total",
		Help: "Adjustments rejected because the quantity would go negative.",
	}, []string{"reason"})
	registerer.MustRegister(adjustments, units, insufficient)
	return &StockMetrics{adjustments: adjustments, units: units, insufficient: insufficient}
}

// ObserveAdjustment records one applied adjustment.
func (m *StockMetrics) ObserveAdjustment(reason string, delta int64) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(reason).Inc()
	direction := "in"
	if delta < 0 {
		direction = "out"
		delta = -delta
	}
	m.units.WithLabelValues(reason, direction).Add(float64(delta))
}

// ObserveInsufficientStock records a rejected adjustment.
func (m *StockMetrics) ObserveInsufficientStock(reason string) {
	if m == nil {
		return
	}
	m.insufficient.WithLabelValues(reason).Inc()
}

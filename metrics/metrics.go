package metrics

import (
	"context"
	"log"
	"net/http"

	"escrow-backend/core/escrow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is a ledger observer exporting Prometheus metrics.
type Recorder struct {
	registry  *prometheus.Registry
	ops       *prometheus.CounterVec
	moved     *prometheus.CounterVec
	transfers *prometheus.CounterVec
	live      prometheus.Gauge
	held      prometheus.Gauge
}

// NewRecorder registers the escrow metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome and error code.",
		}, []string{"op", "result", "code"}),
		moved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "transferred_amount_total",
			Help:      "Base units moved by the ledger, by transfer kind.",
		}, []string{"kind"}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "transfers_total",
			Help:      "Substrate transfers by kind.",
		}, []string{"kind"}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "live_deposits",
			Help:      "Sum of deposits tracked from committed operations since start.",
		}),
		held: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "held_balance",
			Help:      "Custody balance at the last refresh.",
		}),
	}
}

func (r *Recorder) Committed(op escrow.Op, _ escrow.Identity, _ escrow.Task, tr *escrow.Transfer) {
	r.ops.WithLabelValues(string(op), "ok", "").Inc()
	if tr == nil {
		return
	}
	kind := string(tr.Kind)
	r.transfers.WithLabelValues(kind).Inc()
	r.moved.WithLabelValues(kind).Add(float64(tr.Amount))
	if tr.Kind == escrow.TransferDeposit {
		r.live.Add(float64(tr.Amount))
	} else {
		r.live.Sub(float64(tr.Amount))
	}
}

func (r *Recorder) Rejected(op escrow.Op, _ escrow.Identity, _ escrow.TaskID, err error) {
	result := "rejected"
	if !escrow.IsCallerError(err) {
		result = "failed"
	}
	r.ops.WithLabelValues(string(op), result, escrow.Code(err)).Inc()
}

// Refresh reads custody and live deposits from the ledger.
func (r *Recorder) Refresh(ctx context.Context, l *escrow.Ledger) {
	report, err := l.Audit(ctx)
	if report.CheckedAt.IsZero() {
		log.Printf("metrics refresh failed: %v", err)
		return
	}
	r.held.Set(float64(report.Held))
	r.live.Set(float64(report.LiveDeposits))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry is exposed for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Package metrics exposes Prometheus counters for dispatch, polling and compensation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the engine's collectors. A nil *Recorder records nothing.
type Recorder struct {
	CommandsTotal      *prometheus.CounterVec
	PollAttemptsTotal  *prometheus.CounterVec
	OutcomesTotal      *prometheus.CounterVec
	CompensationsTotal *prometheus.CounterVec
	DepositChecksTotal *prometheus.CounterVec
	MalformedTotal     *prometheus.CounterVec
}

// New creates a Recorder and registers it on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ucm_commands_total", Help: "Commands dispatched to processes"},
			[]string{"action", "result"},
		),
		PollAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ucm_poll_attempts_total", Help: "Correlation poll attempts"},
			[]string{"operation"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ucm_outcomes_total", Help: "Terminal classifications per operation"},
			[]string{"operation", "verdict"},
		),
		CompensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ucm_compensations_total", Help: "Cancel-Allow compensations issued"},
			[]string{"result"},
		),
		DepositChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ucm_deposit_checks_total", Help: "Deposit status checks by reported status"},
			[]string{"status"},
		),
		MalformedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ucm_malformed_messages_total", Help: "Messages dropped at the reader boundary"},
			[]string{"process"},
		),
	}
	reg.MustRegister(
		r.CommandsTotal,
		r.PollAttemptsTotal,
		r.OutcomesTotal,
		r.CompensationsTotal,
		r.DepositChecksTotal,
		r.MalformedTotal,
	)
	return r
}

func (r *Recorder) Command(action, result string) {
	if r == nil {
		return
	}
	r.CommandsTotal.WithLabelValues(action, result).Inc()
}

func (r *Recorder) PollAttempt(operation string) {
	if r == nil {
		return
	}
	r.PollAttemptsTotal.WithLabelValues(operation).Inc()
}

func (r *Recorder) Outcome(operation, verdict string) {
	if r == nil {
		return
	}
	r.OutcomesTotal.WithLabelValues(operation, verdict).Inc()
}

func (r *Recorder) Compensation(result string) {
	if r == nil {
		return
	}
	r.CompensationsTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) DepositCheck(status string) {
	if r == nil {
		return
	}
	r.DepositChecksTotal.WithLabelValues(status).Inc()
}

func (r *Recorder) Malformed(process string) {
	if r == nil {
		return
	}
	r.MalformedTotal.WithLabelValues(process).Inc()
}

// Serve exposes g on addr/metrics in the background.
func Serve(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

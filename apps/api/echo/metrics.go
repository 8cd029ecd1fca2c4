package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/admissions/core"
)

// Metrics counts payment and download outcomes. Each Server owns its registry.
type Metrics struct {
	registry      *prometheus.Registry
	paymentInits  *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	downloads     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		paymentInits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissions",
			Name:      "payment_inits_total",
			Help:      "Payment initiations by outcome.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissions",
			Name:      "payment_confirmations_total",
			Help:      "Gateway confirmations by source and outcome.",
		}, []string{"source", "outcome"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissions",
			Name:      "downloads_total",
			Help:      "Admission form downloads by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.paymentInits,
		m.confirmations,
		m.downloads,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// outcome labels an error the way the HTTP error handler classifies it.
func outcome(err error, ok string) string {
	if err == nil {
		return ok
	}
	switch cause := errors.Cause(err); {
	case core.IsProcessing(cause):
		return "processing"
	case core.IsRejected(cause):
		return "rejected"
	case core.IsNotFound(cause):
		return "not_found"
	case core.IsGatewayIntegrity(cause):
		return "flagged"
	}
	switch errors.Cause(err).(type) {
	case *core.ValidationError, validator.ValidationErrors:
		return "invalid"
	}
	return "error"
}

func (m *Metrics) observePaymentInit(err error) {
	m.paymentInits.WithLabelValues(outcome(err, "ok")).Inc()
}

func (m *Metrics) observeConfirmation(source, status string, err error) {
	m.confirmations.WithLabelValues(source, outcome(err, status)).Inc()
}

func (m *Metrics) observeDownload(err error) {
	m.downloads.WithLabelValues(outcome(err, "ready")).Inc()
}

package initprometheus

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds every counter the processes export. A nil
// *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	CreateShortLinkTotal *prometheus.CounterVec
	RedirectTotal        *prometheus.CounterVec

	ClickPublishTotal     *prometheus.CounterVec
	AlertPublishTotal     *prometheus.CounterVec
	WorkerMessagesTotal   *prometheus.CounterVec
	SubscriberAlertsTotal *prometheus.CounterVec
	SupervisorTransitions *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// InitPrometheus registers the metrics on reg. A nil reg means a fresh
// private registry, which keeps tests independent of each other.
func InitPrometheus(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	metrics := &PrometheusMetrics{
		CreateShortLinkTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortener_create_short_link_total",
				Help: "Total number of short link creation requests",
			},
			[]string{"status", "reason"},
		),
		RedirectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortener_redirect_total",
				Help: "Total number of redirect requests",
			},
			[]string{"status", "reason"},
		),
		ClickPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpipe_click_publish_total",
				Help: "Click events handed to the broker, by result",
			},
			[]string{"status"},
		),
		AlertPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpipe_alert_publish_total",
				Help: "Alerts broadcast to the alerts exchange, by result",
			},
			[]string{"status"},
		),
		WorkerMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpipe_worker_messages_total",
				Help: "Click events processed by the counter worker, by outcome",
			},
			[]string{"outcome"},
		),
		SubscriberAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpipe_subscriber_alerts_total",
				Help: "Alerts received by a subscriber, by outcome",
			},
			[]string{"subscriber", "outcome"},
		),
		SupervisorTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpipe_supervisor_transitions_total",
				Help: "Reconnection supervisor state changes",
			},
			[]string{"component", "state"},
		),
	}

	reg.MustRegister(
		metrics.CreateShortLinkTotal,
		metrics.RedirectTotal,
		metrics.ClickPublishTotal,
		metrics.AlertPublishTotal,
		metrics.WorkerMessagesTotal,
		metrics.SubscriberAlertsTotal,
		metrics.SupervisorTransitions,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		metrics.gatherer = g
	}

	return metrics
}

func (m *PrometheusMetrics) CreateShortLink(status, reason string) {
	if m == nil {
		return
	}
	m.CreateShortLinkTotal.WithLabelValues(status, reason).Inc()
}

func (m *PrometheusMetrics) Redirect(status, reason string) {
	if m == nil {
		return
	}
	m.RedirectTotal.WithLabelValues(status, reason).Inc()
}

func (m *PrometheusMetrics) ClickPublished(status string) {
	if m == nil {
		return
	}
	m.ClickPublishTotal.WithLabelValues(status).Inc()
}

func (m *PrometheusMetrics) AlertPublished(status string) {
	if m == nil {
		return
	}
	m.AlertPublishTotal.WithLabelValues(status).Inc()
}

func (m *PrometheusMetrics) WorkerMessage(outcome string) {
	if m == nil {
		return
	}
	m.WorkerMessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) SubscriberAlert(subscriber, outcome string) {
	if m == nil {
		return
	}
	m.SubscriberAlertsTotal.WithLabelValues(subscriber, outcome).Inc()
}

func (m *PrometheusMetrics) Transition(component, state string) {
	if m == nil {
		return
	}
	m.SupervisorTransitions.WithLabelValues(component, state).Inc()
}

// Handler exposes the registry the metrics were registered on, falling back
// to the process default registry.
func (m *PrometheusMetrics) Handler() fiber.Handler {
	if m != nil && m.gatherer != nil {
		return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Serve runs a fiber app that only exposes /metrics. It is used by the
// consumer processes, which have no HTTP API of their own.
func Serve(listen string, metrics *PrometheusMetrics) (*fiber.App, <-chan error) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/metrics", metrics.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listen)
	}()
	return app, errCh
}

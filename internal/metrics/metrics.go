package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	WebhooksReceived *prometheus.CounterVec
	WebhooksRejected *prometheus.CounterVec
	MessagesLogged   *prometheus.CounterVec
	UnitsSkipped     *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botdeck",
				Name:      "webhooks_received_total",
				Help:      "Total webhook deliveries received, by platform",
			}, []string{"platform"}),
			WebhooksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botdeck",
				Name:      "webhooks_rejected_total",
				Help:      "Total webhook deliveries rejected before any row was written",
			}, []string{"platform", "reason"}),
			MessagesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botdeck",
				Name:      "messages_logged_total",
				Help:      "Total message log rows written, by platform",
			}, []string{"platform"}),
			UnitsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botdeck",
				Name:      "webhook_units_skipped_total",
				Help:      "Total malformed fan-out units skipped while siblings proceeded",
			}, []string{"platform"}),
		}
		prometheus.MustRegister(
			global.WebhooksReceived,
			global.WebhooksRejected,
			global.MessagesLogged,
			global.UnitsSkipped,
		)
	})
	return global
}

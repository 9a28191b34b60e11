package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secsync",
			Name:      "enqueued_total",
			Help:      "Sync items accepted into the queue.",
		},
		[]string{"target"},
	)

	delivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secsync",
			Name:      "delivered_total",
			Help:      "Sync items acknowledged by the remote API.",
		},
		[]string{"target"},
	)

	deliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secsync",
			Name:      "delivery_failures_total",
			Help:      "Failed delivery attempts.",
		},
		[]string{"target"},
	)

	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secsync",
			Name:      "dropped_total",
			Help:      "Sync items abandoned after the retry ceiling.",
		},
		[]string{"target"},
	)

	queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secsync",
		Name:      "queue_length",
		Help:      "Items currently waiting for delivery.",
	})

	online = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secsync",
		Name:      "online",
		Help:      "1 when the remote API is considered reachable.",
	})
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, enqueued, delivered, deliveryFailures, dropped, queueLength, online)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncEnqueued(target string) {
	enqueued.WithLabelValues(target).Inc()
}

func IncDelivered(target string) {
	delivered.WithLabelValues(target).Inc()
}

func IncDeliveryFailure(target string) {
	deliveryFailures.WithLabelValues(target).Inc()
}

func IncDropped(target string) {
	dropped.WithLabelValues(target).Inc()
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func SetOnline(v bool) {
	if v {
		online.Set(1)
		return
	}
	online.Set(0)
}

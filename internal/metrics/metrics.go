package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты записи в хранилище.
const (
	ResultAccepted = "accepted"
	ResultStale    = "stale"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Исходы long-poll запросов.
const (
	OutcomeImmediate = "immediate"
	OutcomeNotified  = "notified"
	OutcomeTimeout   = "timeout"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

var (
	// StoreWrites считает записи в таблицы по результату.
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizhost",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Writes to versioned tables by table and result.",
	}, []string{"table", "result"})

	// SubscriberPanics считает паники в подписчиках уведомлений.
	SubscriberPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quizhost",
		Subsystem: "notifier",
		Name:      "subscriber_panics_total",
		Help:      "Panics recovered while notifying subscribers.",
	})

	// LongPollRequests считает запросы getUpdates по исходу.
	LongPollRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizhost",
		Subsystem: "longpoll",
		Name:      "requests_total",
		Help:      "getUpdates requests by outcome.",
	}, []string{"outcome"})

	// LongPollWaiting — число запросов, ожидающих уведомления прямо сейчас.
	LongPollWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quizhost",
		Subsystem: "longpoll",
		Name:      "waiting",
		Help:      "getUpdates requests currently blocked waiting for a change.",
	})

	// HTTPRequestDuration — время обработки HTTP запросов API.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quizhost",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP API request duration by route and status code.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"route", "code"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: кадры потока по типам
	FramesTotal *prometheus.CounterVec

	// Reliability: переподключения транспорта
	ReconnectsTotal prometheus.Counter

	// Saturation: состояние SSE-соединения (0 - закрыто, 1 - открыто)
	ConnectionState prometheus.Gauge

	// Лента алертов: всего и непрочитанных
	ActiveAlerts prometheus.Gauge
	UnreadAlerts prometheus.Gauge

	// Кэш: фетчи по ключам и статусам, инвалидации
	CacheFetchTotal    *prometheus.CounterVec
	CacheInvalidations prometheus.Counter

	// Межпроцессная шина: сообщения по видам
	RelayMessagesTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		FramesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_frames_total",
			Help: "Total number of stream frames processed, by frame type.",
		}, []string{"type"}),

		ReconnectsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "liveops_stream_reconnects_total",
			Help: "Total number of SSE transport reconnect attempts.",
		}),

		ConnectionState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "liveops_stream_connected",
			Help: "Current SSE connection state (0=closed, 1=open).",
		}),

		ActiveAlerts: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "liveops_alerts_active",
			Help: "Current number of alerts in the operator feed.",
		}),

		UnreadAlerts: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "liveops_alerts_unread",
			Help: "Current number of unread alerts.",
		}),

		CacheFetchTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_cache_fetch_total",
			Help: "Total number of cache fetches, by key and outcome.",
		}, []string{"key", "status"}), // статусы: success, error, canceled

		CacheInvalidations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "liveops_cache_invalidations_total",
			Help: "Total number of cache key invalidations (coalesced).",
		}),

		RelayMessagesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_relay_messages_total",
			Help: "Total number of coordinator bus messages, by kind and direction.",
		}, []string{"kind", "direction"}),
	}
}

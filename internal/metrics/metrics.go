// Package metrics collects prometheus counters and gauges for the tag
// pipeline, the RTMP/RTSP transports, and the caches the core maintains, and
// serves them over an HTTP handler the cmd entrypoint mounts at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registerer so tests can construct an
// isolated instance instead of colliding on the global default registerer.
type Registry struct {
	reg *prometheus.Registry

	TagsDistributed    *prometheus.CounterVec
	SubscribersJoined   prometheus.Counter
	SubscribersParted   prometheus.Counter
	RTPPacketsSent      *prometheus.CounterVec
	RTPPacketsDropped   *prometheus.CounterVec
	RTMPConnections     prometheus.Gauge
	RTSPSessions        prometheus.Gauge
	CacheHits           *prometheus.CounterVec
	CacheEvictions      *prometheus.CounterVec
	OutbufWatermarkHits prometheus.Counter
}

// New constructs a Registry with every metric registered against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so multiple servers
// in one process — or in tests — don't collide on metric names).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		TagsDistributed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "tags_distributed_total",
			Help:      "Tags handed to distributor subscribers, by flavour.",
		}, []string{"flavour"}),
		SubscribersJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "subscribers_joined_total",
			Help:      "Subscriber callbacks registered with a distributor.",
		}),
		SubscribersParted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "subscribers_parted_total",
			Help:      "Subscriber callbacks removed from a distributor.",
		}),
		RTPPacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "rtp_packets_sent_total",
			Help:      "RTP packets sent, by track (audio/video).",
		}, []string{"track"}),
		RTPPacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "rtp_packets_dropped_total",
			Help:      "RTP packets dropped at the UDP sender's outbound queue bound, by track.",
		}, []string{"track"}),
		RTMPConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Name:      "rtmp_connections",
			Help:      "Currently open RTMP connections.",
		}),
		RTSPSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Name:      "rtsp_sessions",
			Help:      "Currently open RTSP sessions.",
		}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "cache_hits_total",
			Help:      "cacheutil.Cache Get hits, by cache name.",
		}, []string{"cache"}),
		CacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "cache_evictions_total",
			Help:      "cacheutil.Cache onEvict firings, by cache name.",
		}, []string{"cache"}),
		OutbufWatermarkHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "outbuf_watermark_breaches_total",
			Help:      "Connections closed for exceeding max_outbuf_size.",
		}),
	}
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

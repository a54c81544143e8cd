package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/streamctl/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Restream sessions by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessionsTotal)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	httpRequests.With(labels).Inc()
	httpDuration.With(labels).Observe(duration.Seconds())
}

// RecordSession counts a finished session; outcome is "eof", "cancelled"
// or "error".
func RecordSession(outcome string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// StreamCollector exports stream counters read at scrape time.
type StreamCollector struct {
	source func() stats.Snapshot

	packets        *prometheus.Desc
	packetsByKind  *prometheus.Desc
	bytes          *prometheus.Desc
	decoded        *prometheus.Desc
	decodeFailures *prometheus.Desc
	saved          *prometheus.Desc
	sinkFailures   *prometheus.Desc
}

func NewStreamCollector(source func() stats.Snapshot) *StreamCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "stream", name), help, labels, nil)
	}
	return &StreamCollector{
		source:         source,
		packets:        desc("packets_total", "Packets read."),
		packetsByKind:  desc("packets_by_kind_total", "Packets read by kind.", "kind"),
		bytes:          desc("payload_bytes_total", "Payload bytes read."),
		decoded:        desc("decoded_frames_total", "Pictures produced by the decoder."),
		decodeFailures: desc("decode_failures_total", "Packets the decoder rejected."),
		saved:          desc("saved_pictures_total", "Pictures persisted by the sink."),
		sinkFailures:   desc("sink_failures_total", "Sink save failures."),
	}
}

func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.packetsByKind
	ch <- c.bytes
	ch <- c.decoded
	ch <- c.decodeFailures
	ch <- c.saved
	ch <- c.sinkFailures
}

func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.packets, s.Packets)
	counter(c.packetsByKind, s.ConfigPackets, "config")
	counter(c.packetsByKind, s.Keyframes, "keyframe")
	counter(c.packetsByKind, s.Frames(), "frame")
	counter(c.bytes, s.Bytes)
	counter(c.decoded, s.DecodedFrames)
	counter(c.decodeFailures, s.DecodeFailures)
	counter(c.saved, s.SavedPictures)
	counter(c.sinkFailures, s.SinkFailures)
}

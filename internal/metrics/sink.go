// Package metrics counts pipeline outcomes. The counters are readable as a
// snapshot, resettable, and exported to Prometheus through a Collector.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter identifies one pipeline counter.
type Counter int

const (
	RequestsSeen Counter = iota
	EventsSucceeded
	EventsFailed
	EventsCancelled
	SignatureFailures
	DecryptionFailures
	TimestampRejections
	TokenFailures
	ReplayedNonces
	DuplicateEvents
	StoreUnavailable
	Handshakes

	numCounters
)

var counterInfo = [numCounters]struct {
	name string
	help string
}{
	RequestsSeen:        {"verification_requests_total", "Inbound requests handed to the verification pipeline."},
	EventsSucceeded:     {"events_succeeded_total", "Events admitted for dispatch."},
	EventsFailed:        {"events_failed_total", "Requests rejected for any non-duplicate reason."},
	EventsCancelled:     {"events_cancelled_total", "Requests abandoned because the caller cancelled."},
	SignatureFailures:   {"signature_failures_total", "Requests whose signature did not verify."},
	DecryptionFailures:  {"decryption_failures_total", "Requests whose payload could not be decrypted or decoded."},
	TimestampRejections: {"timestamp_rejections_total", "Requests outside the allowed clock skew."},
	TokenFailures:       {"token_failures_total", "Requests carrying the wrong verification token."},
	ReplayedNonces:      {"replayed_nonces_total", "Requests rejected because the nonce was already used."},
	DuplicateEvents:     {"duplicate_events_total", "Events rejected because they were already admitted."},
	StoreUnavailable:    {"store_unavailable_total", "Dedup store operations that failed or timed out."},
	Handshakes:          {"handshakes_total", "Subscription handshakes answered."},
}

// String returns the exported metric name without namespace.
func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterInfo[c].name
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	RequestsSeen        uint64 `json:"requests_seen"`
	EventsSucceeded     uint64 `json:"events_succeeded"`
	EventsFailed        uint64 `json:"events_failed"`
	EventsCancelled     uint64 `json:"events_cancelled"`
	SignatureFailures   uint64 `json:"signature_failures"`
	DecryptionFailures  uint64 `json:"decryption_failures"`
	TimestampRejections uint64 `json:"timestamp_rejections"`
	TokenFailures       uint64 `json:"token_failures"`
	ReplayedNonces      uint64 `json:"replayed_nonces"`
	DuplicateEvents     uint64 `json:"duplicate_events"`
	StoreUnavailable    uint64 `json:"store_unavailable"`
	Handshakes          uint64 `json:"handshakes"`
}

// Sink holds the counters. The zero value is not usable; call NewSink.
// A nil *Sink ignores increments.
type Sink struct {
	counters [numCounters]atomic.Uint64
	descs    [numCounters]*prometheus.Desc
}

// NewSink creates a Sink whose Prometheus names carry namespace.
func NewSink(namespace string) *Sink {
	s := &Sink{}
	for i := range s.descs {
		s.descs[i] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", counterInfo[i].name),
			counterInfo[i].help,
			nil, nil,
		)
	}
	return s
}

// Inc adds one to c.
func (s *Sink) Inc(c Counter) {
	if s == nil || c < 0 || c >= numCounters {
		return
	}
	s.counters[c].Add(1)
}

// Get returns the current value of c.
func (s *Sink) Get(c Counter) uint64 {
	if s == nil || c < 0 || c >= numCounters {
		return 0
	}
	return s.counters[c].Load()
}

// Snapshot copies every counter. Individual loads are atomic; the snapshot
// as a whole is not taken under a lock.
func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		RequestsSeen:        s.Get(RequestsSeen),
		EventsSucceeded:     s.Get(EventsSucceeded),
		EventsFailed:        s.Get(EventsFailed),
		EventsCancelled:     s.Get(EventsCancelled),
		SignatureFailures:   s.Get(SignatureFailures),
		DecryptionFailures:  s.Get(DecryptionFailures),
		TimestampRejections: s.Get(TimestampRejections),
		TokenFailures:       s.Get(TokenFailures),
		ReplayedNonces:      s.Get(ReplayedNonces),
		DuplicateEvents:     s.Get(DuplicateEvents),
		StoreUnavailable:    s.Get(StoreUnavailable),
		Handshakes:          s.Get(Handshakes),
	}
}

// Reset zeroes every counter and returns the values it replaced.
func (s *Sink) Reset() Snapshot {
	var prev [numCounters]uint64
	for i := range s.counters {
		prev[i] = s.counters[i].Swap(0)
	}
	return Snapshot{
		RequestsSeen:        prev[RequestsSeen],
		EventsSucceeded:     prev[EventsSucceeded],
		EventsFailed:        prev[EventsFailed],
		EventsCancelled:     prev[EventsCancelled],
		SignatureFailures:   prev[SignatureFailures],
		DecryptionFailures:  prev[DecryptionFailures],
		TimestampRejections: prev[TimestampRejections],
		TokenFailures:       prev[TokenFailures],
		ReplayedNonces:      prev[ReplayedNonces],
		DuplicateEvents:     prev[DuplicateEvents],
		StoreUnavailable:    prev[StoreUnavailable],
		Handshakes:          prev[Handshakes],
	}
}

// Describe implements prometheus.Collector.
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range s.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector. A Reset shows up to Prometheus as
// an ordinary counter reset.
func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	for i, d := range s.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(s.counters[i].Load()))
	}
}

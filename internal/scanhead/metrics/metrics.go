// Package metrics exposes driver statistics snapshots as Prometheus
// metrics. It subscribes to the per-head aggregator like any other consumer
// and therefore can never stall ingestion.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
)

// Exporter mirrors statistics snapshots into Prometheus collectors, labelled
// by device serial.
type Exporter struct {
	goodPackets        *prometheus.GaugeVec
	badPackets         *prometheus.GaugeVec
	bytesReceived      *prometheus.GaugeVec
	completeProfiles   *prometheus.GaugeVec
	incompleteProfiles *prometheus.GaugeVec
	evictions          *prometheus.GaugeVec
	profileRate        *prometheus.GaugeVec
	byteRate           *prometheus.GaugeVec
}

// NewExporter creates the collectors and registers them with reg.
func NewExporter(reg prometheus.Registerer) *Exporter {
	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"serial"})
		reg.MustRegister(g)
		return g
	}
	return &Exporter{
		goodPackets:        gauge("scanhead_good_packets", "Structurally valid fragments received."),
		badPackets:         gauge("scanhead_bad_packets", "Malformed datagrams received."),
		bytesReceived:      gauge("scanhead_bytes_received", "Bytes received in valid fragments."),
		completeProfiles:   gauge("scanhead_profiles_complete", "Profiles fully reassembled and buffered."),
		incompleteProfiles: gauge("scanhead_profiles_incomplete", "Partial profiles abandoned."),
		evictions:          gauge("scanhead_buffer_evictions", "Profiles evicted unread from the buffer."),
		profileRate:        gauge("scanhead_profiles_per_second", "Instantaneous profile completion rate."),
		byteRate:           gauge("scanhead_bytes_per_second", "Instantaneous receive byte rate."),
	}
}

// Observe records one snapshot.
func (e *Exporter) Observe(s scanhead.Snapshot) {
	serial := strconv.FormatUint(uint64(s.Serial), 10)
	e.goodPackets.WithLabelValues(serial).Set(float64(s.GoodPackets))
	e.badPackets.WithLabelValues(serial).Set(float64(s.BadPackets))
	e.bytesReceived.WithLabelValues(serial).Set(float64(s.BytesReceived))
	e.completeProfiles.WithLabelValues(serial).Set(float64(s.CompleteProfiles))
	e.incompleteProfiles.WithLabelValues(serial).Set(float64(s.IncompleteProfiles))
	e.evictions.WithLabelValues(serial).Set(float64(s.Evictions))
	e.profileRate.WithLabelValues(serial).Set(s.ProfilesPerSec)
	e.byteRate.WithLabelValues(serial).Set(s.BytesPerSec)
}

// Watch consumes snapshots from ch until it closes or ctx is cancelled.
// Run it in its own goroutine per subscription.
func (e *Exporter) Watch(ctx context.Context, ch <-chan scanhead.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			e.Observe(s)
		}
	}
}

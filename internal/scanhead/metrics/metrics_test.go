package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
)

func TestObserveSetsLabelledGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	e.Observe(scanhead.Snapshot{
		Serial:             40001,
		GoodPackets:        120,
		BadPackets:         3,
		BytesReceived:      48000,
		CompleteProfiles:   30,
		IncompleteProfiles: 2,
		Evictions:          1,
		ProfilesPerSec:     15.5,
		BytesPerSec:        24000,
	})

	cases := map[*prometheus.GaugeVec]float64{
		e.goodPackets:        120,
		e.badPackets:         3,
		e.bytesReceived:      48000,
		e.completeProfiles:   30,
		e.incompleteProfiles: 2,
		e.evictions:          1,
		e.profileRate:        15.5,
		e.byteRate:           24000,
	}
	for vec, want := range cases {
		if got := testutil.ToFloat64(vec.WithLabelValues("40001")); got != want {
			t.Errorf("gauge = %v, want %v", got, want)
		}
	}
}

func TestGaugeNamesFollowConventions(t *testing.T) {
	// These series are sampled gauges, so none may carry the _total suffix
	// Prometheus reserves for counters.
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)
	e.Observe(scanhead.Snapshot{Serial: 1})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families registered")
	}
	for _, mf := range families {
		if strings.HasSuffix(mf.GetName(), "_total") {
			t.Errorf("gauge %s uses the counter-reserved _total suffix", mf.GetName())
		}
		if !strings.HasPrefix(mf.GetName(), "scanhead_") {
			t.Errorf("metric %s is outside the scanhead_ namespace", mf.GetName())
		}
	}
}

func TestObserveKeepsSerialsSeparate(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	e.Observe(scanhead.Snapshot{Serial: 1, CompleteProfiles: 10})
	e.Observe(scanhead.Snapshot{Serial: 2, CompleteProfiles: 20})

	if got := testutil.ToFloat64(e.completeProfiles.WithLabelValues("1")); got != 10 {
		t.Errorf("serial 1 = %v, want 10", got)
	}
	if got := testutil.ToFloat64(e.completeProfiles.WithLabelValues("2")); got != 20 {
		t.Errorf("serial 2 = %v, want 20", got)
	}
}

func TestWatchStopsWhenChannelCloses(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	ch := make(chan scanhead.Snapshot, 1)
	ch <- scanhead.Snapshot{Serial: 7, GoodPackets: 5}
	close(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Watch(context.Background(), ch)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after channel close")
	}
	if got := testutil.ToFloat64(e.goodPackets.WithLabelValues("7")); got != 5 {
		t.Errorf("gauge = %v, want 5", got)
	}
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteAndCountProfiles(t *testing.T) {
	r := openTestRecorder(t)
	runID, err := r.BeginRun(40001)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	for i := 0; i < 3; i++ {
		p := &scanhead.Profile{
			Serial:       40001,
			Camera:       0,
			Sequence:     uint32(i + 1),
			Format:       wire.FormatXY,
			Timestamp:    uint64(i) * 1000,
			Encoder:      int64(i) * 100,
			LaserOnTime:  120,
			ExposureTime: 500,
			Payload:      []byte{0x00, 0x01, 0x00, 0x02},
			Received:     time.Now(),
		}
		if err := r.WriteProfile(runID, p); err != nil {
			t.Fatalf("WriteProfile %d: %v", i, err)
		}
	}

	n, err := r.ProfileCount(runID)
	if err != nil {
		t.Fatalf("ProfileCount: %v", err)
	}
	if n != 3 {
		t.Errorf("ProfileCount = %d, want 3", n)
	}
}

func TestRunsAreIsolated(t *testing.T) {
	r := openTestRecorder(t)
	first, err := r.BeginRun(40001)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	second, err := r.BeginRun(40001)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if first == second {
		t.Fatal("BeginRun returned the same id twice")
	}

	if err := r.WriteProfile(first, &scanhead.Profile{Sequence: 1, Format: wire.FormatXY}); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	if n, _ := r.ProfileCount(second); n != 0 {
		t.Errorf("second run has %d profiles, want 0", n)
	}
}

// queueSource hands out queued profiles, then times out until cancelled.
type queueSource struct {
	profiles []*scanhead.Profile
}

func (q *queueSource) TakeProfileTimeout(ctx context.Context, timeout time.Duration) (*scanhead.Profile, error) {
	if len(q.profiles) > 0 {
		p := q.profiles[0]
		q.profiles = q.profiles[1:]
		return p, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return nil, scanhead.ErrTakeTimeout
	}
}

func TestRecordDrainsUntilCancelled(t *testing.T) {
	r := openTestRecorder(t)
	runID, err := r.BeginRun(40001)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	src := &queueSource{}
	for i := 0; i < 5; i++ {
		src.profiles = append(src.profiles, &scanhead.Profile{
			Serial:   40001,
			Sequence: uint32(i + 1),
			Format:   wire.FormatXY,
			Payload:  []byte{0, 0, 0, 0},
			Received: time.Now(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	written, err := r.Record(ctx, runID, src)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if written != 5 {
		t.Errorf("Record wrote %d, want 5", written)
	}
	if n, _ := r.ProfileCount(runID); n != 5 {
		t.Errorf("ProfileCount = %d, want 5", n)
	}
}

package scanhead

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/simulator"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

func startSimulator(t *testing.T, cfg simulator.Config) *simulator.Head {
	t.Helper()
	if cfg.Serial == 0 {
		cfg.Serial = 40001
	}
	if cfg.Major == 0 && cfg.Minor == 0 && cfg.Patch == 0 {
		cfg.Major = HostVersion.Major
		cfg.Minor = HostVersion.Minor
		cfg.Patch = HostVersion.Patch
	}
	sim, err := simulator.Start(cfg)
	if err != nil {
		t.Fatalf("starting simulator: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func connectHead(t *testing.T, sim *simulator.Head, serial uint32) *ScanHead {
	t.Helper()
	h := New(serial, 1, Config{HandshakeTimeout: 2 * time.Second})
	if err := h.Connect(context.Background(), sim.Addr(), 77, wire.ModeNormal); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { h.Disconnect() })
	return h
}

func TestConnectHandshake(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000})
	h := connectHead(t, sim, 40001)

	if !h.IsConnected() {
		t.Fatal("IsConnected() = false after successful Connect")
	}
	if v := h.Version(); v != HostVersion {
		t.Errorf("Version() = %v, want %v", v, HostVersion)
	}
	if got := h.MaxScanRateHz(); got != 2000 {
		t.Errorf("MaxScanRateHz() = %d, want 2000", got)
	}
	if mismatch, _ := h.VersionMismatch(); mismatch {
		t.Error("unexpected version mismatch for matching versions")
	}

	if err := h.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if h.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	// Disconnecting again is a no-op.
	if err := h.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}

func TestConnectRejectsWrongSerial(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 99999})
	h := New(40001, 1, Config{HandshakeTimeout: 2 * time.Second})

	err := h.Connect(context.Background(), sim.Addr(), 77, wire.ModeNormal)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect = %v, want ErrConnectionFailed", err)
	}
	if h.IsConnected() {
		t.Error("IsConnected() = true after refused handshake")
	}
}

func TestConnectTimesOutWithoutDevice(t *testing.T) {
	h := New(40001, 1, Config{HandshakeTimeout: 300 * time.Millisecond})
	err := h.Connect(context.Background(), "127.0.0.1:1", 77, wire.ModeNormal)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect = %v, want ErrConnectionFailed", err)
	}
}

func TestVersionMismatchIsStickyAndBlocksScanning(t *testing.T) {
	// Device minor below the host's floor: the session opens for diagnostics
	// but scanning is refused until reconnect.
	sim := startSimulator(t, simulator.Config{Serial: 40001, Major: HostVersion.Major, Patch: 5})
	h := connectHead(t, sim, 40001)

	mismatch, reason := h.VersionMismatch()
	if !mismatch {
		t.Fatal("expected version mismatch for device minor below minimum")
	}
	if reason == "" {
		t.Error("mismatch reason is empty")
	}

	err := h.StartScanning(100, wire.FormatXY, 0, 99)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("StartScanning = %v, want ErrVersionMismatch", err)
	}
	if h.IsScanning() {
		t.Error("IsScanning() = true after refused start")
	}
	if err := h.SetWindow(NewScanWindow(20, -20, -30, 30)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("SetWindow = %v, want ErrVersionMismatch", err)
	}

	time.Sleep(50 * time.Millisecond)
	if sim.SentProfiles() != 0 {
		t.Error("device started streaming despite refused start")
	}
}

func TestStartScanningValidation(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000})
	h := connectHead(t, sim, 40001)

	// Seed the buffer to verify a rejected request leaves it untouched.
	h.buffer.Push(&Profile{Sequence: 1})

	cases := []struct {
		name             string
		rate             uint32
		format           wire.Format
		startCol, endCol uint16
	}{
		{"zero rate", 0, wire.FormatXY, 0, 99},
		{"rate above device maximum", 5000, wire.FormatXY, 0, 99},
		{"unknown format", 100, wire.Format(0x7f), 0, 99},
		{"inverted columns", 100, wire.FormatXY, 99, 0},
		{"end column beyond sensor", 100, wire.FormatXY, 0, wire.ImageWidth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.StartScanning(tc.rate, tc.format, tc.startCol, tc.endCol)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("StartScanning = %v, want ErrConfiguration", err)
			}
			if h.IsScanning() {
				t.Error("IsScanning() = true after rejected start")
			}
			if h.BufferedProfiles() != 1 {
				t.Error("rejected start disturbed the profile buffer")
			}
		})
	}

	time.Sleep(50 * time.Millisecond)
	if sim.SentProfiles() != 0 {
		t.Error("a rejected request reached the device")
	}
}

func TestStartScanningRequiresConnection(t *testing.T) {
	h := New(40001, 1, Config{})
	if err := h.StartScanning(100, wire.FormatXY, 0, 99); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("StartScanning = %v, want ErrNotConnected", err)
	}
	// Stopping a never-connected head is a harmless no-op.
	if err := h.StopScanning(); err != nil {
		t.Errorf("StopScanning: %v", err)
	}
}

func TestScanStreamEndToEnd(t *testing.T) {
	// Small fragments force multi-fragment reassembly on the real UDP path.
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000, FragmentSize: 64})
	h := connectHead(t, sim, 40001)

	if err := h.StartScanning(500, wire.FormatXY, 0, 99); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	if !h.IsScanning() {
		t.Fatal("IsScanning() = false after successful start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastSeq uint32
	for i := 0; i < 5; i++ {
		p, err := h.TakeProfile(ctx)
		if err != nil {
			t.Fatalf("TakeProfile %d: %v", i, err)
		}
		if p.Format != wire.FormatXY {
			t.Errorf("profile format = %v, want FormatXY", p.Format)
		}
		if len(p.Payload) != 100*wire.FormatXY.BytesPerColumn() {
			t.Errorf("payload = %d bytes, want %d", len(p.Payload), 100*wire.FormatXY.BytesPerColumn())
		}
		if pts := p.Points(); len(pts) != 100 {
			t.Errorf("Points() = %d columns, want 100", len(pts))
		}
		if p.Sequence <= lastSeq && i > 0 {
			t.Errorf("sequence went backwards: %d after %d", p.Sequence, lastSeq)
		}
		lastSeq = p.Sequence

		// The emitter's payload is a deterministic ramp over the sequence.
		for j, b := range p.Payload[:8] {
			if b != byte(int(p.Sequence)+j) {
				t.Fatalf("payload byte %d = %#x, want %#x", j, b, byte(int(p.Sequence)+j))
			}
		}
	}

	if err := h.StopScanning(); err != nil {
		t.Fatalf("StopScanning: %v", err)
	}
	if h.IsScanning() {
		t.Error("IsScanning() = true after stop")
	}
	if err := h.StopScanning(); err != nil {
		t.Errorf("second StopScanning: %v", err)
	}
}

func TestScanSurvivesFragmentLoss(t *testing.T) {
	// With every 7th fragment dropped, complete profiles still come through
	// and the lost ones are accounted as incomplete, never delivered.
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000, FragmentSize: 64, DropEveryNth: 7})
	h := connectHead(t, sim, 40001)

	if err := h.StartScanning(500, wire.FormatXY, 0, 99); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	want := 100 * wire.FormatXY.BytesPerColumn()
	for i := 0; i < 3; i++ {
		p, err := h.TakeProfile(ctx)
		if err != nil {
			t.Fatalf("TakeProfile %d: %v", i, err)
		}
		if len(p.Payload) != want {
			t.Fatalf("delivered a partial profile: %d bytes, want %d", len(p.Payload), want)
		}
	}
	h.StopScanning()
}

func TestStartScanningWhileScanning(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000})
	h := connectHead(t, sim, 40001)

	if err := h.StartScanning(100, wire.FormatXY, 0, 99); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	if err := h.StartScanning(100, wire.FormatXY, 0, 99); !errors.Is(err, ErrAlreadyScanning) {
		t.Fatalf("second StartScanning = %v, want ErrAlreadyScanning", err)
	}
	h.StopScanning()
}

func TestSetWindowRejectedWhileScanning(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000})
	h := connectHead(t, sim, 40001)

	w := NewScanWindow(20.0, -20.0, -30.0, 30.0)
	if err := h.SetWindow(w); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}
	if got := h.Window(); got != w {
		t.Errorf("Window() = %+v, want %+v", got, w)
	}

	if err := h.StartScanning(100, wire.FormatXY, 0, 99); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	if err := h.SetWindow(w); !errors.Is(err, ErrAlreadyScanning) {
		t.Errorf("SetWindow while scanning = %v, want ErrAlreadyScanning", err)
	}
	h.StopScanning()
}

func TestDisconnectStopsReceiveLoop(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000})
	h := connectHead(t, sim, 40001)

	if err := h.StartScanning(500, wire.FormatXY, 0, 99); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.TakeProfile(ctx); err != nil {
		t.Fatalf("TakeProfile: %v", err)
	}

	// Disconnect must join the receive loop, not just signal it.
	if err := h.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if h.IsConnected() || h.IsScanning() {
		t.Error("state not reset by Disconnect")
	}
	if err := h.StartScanning(100, wire.FormatXY, 0, 99); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartScanning after Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	sim := startSimulator(t, simulator.Config{Serial: 40001, MaxScanRateHz: 2000})
	h := connectHead(t, sim, 40001)

	// A second Connect on a live handle tears the first session down first.
	if err := h.Connect(context.Background(), sim.Addr(), 78, wire.ModeDirect); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !h.IsConnected() {
		t.Fatal("IsConnected() = false after reconnect")
	}
	if err := h.StartScanning(100, wire.FormatXY, 0, 99); err != nil {
		t.Errorf("StartScanning on new session: %v", err)
	}
	h.StopScanning()
}

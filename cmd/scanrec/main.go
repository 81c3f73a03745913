// Command scanrec connects to a scan head, starts a scan and records the
// profile stream into a sqlite database until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aaronhudon/pinchot-net-api/internal/config"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/metrics"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/store"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
	"github.com/aaronhudon/pinchot-net-api/internal/version"
)

var (
	address     = flag.String("address", "", "Scan head address (host:port)")
	serial      = flag.Uint("serial", 0, "Expected device serial (0 to accept any)")
	dbFile      = flag.String("db", "profiles.db", "Recording database path")
	rate        = flag.Uint("rate", 1000, "Scan rate in Hz")
	formatName  = flag.String("format", "xy", "Data format: xy, xy+brightness or image")
	startColumn = flag.Uint("start-column", 0, "First column of the scan window")
	endColumn   = flag.Uint("end-column", wire.ImageWidth-1, "Last column of the scan window")
	duration    = flag.Duration("duration", 0, "Recording duration (0 runs until interrupted)")
	metricsAddr = flag.String("metrics", "", "Prometheus metrics listen address (empty disables)")
	configPath  = flag.String("config", "", "Optional driver config JSON")
)

func parseFormat(name string) (wire.Format, bool) {
	switch name {
	case "xy":
		return wire.FormatXY, true
	case "xy+brightness":
		return wire.FormatXYBrightness, true
	case "image":
		return wire.FormatImage, true
	}
	return 0, false
}

func main() {
	flag.Parse()
	log.Printf("scanrec %s (%s)", version.Version, version.GitSHA)
	format, ok := parseFormat(*formatName)
	if !ok {
		log.Fatalf("unknown format %q", *formatName)
	}

	headCfg := scanhead.DefaultConfig()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		headCfg = cfg.HeadConfig()
		if cfg.Address != nil && *address == "" {
			*address = *cfg.Address
		}
		if cfg.Serial != nil && *serial == 0 {
			*serial = uint(*cfg.Serial)
		}
		if cfg.ScanRateHz != nil {
			*rate = uint(*cfg.ScanRateHz)
		}
	}
	if *address == "" {
		log.Fatal("missing required -address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	head := scanhead.New(uint32(*serial), 1, headCfg)
	if err := head.Connect(ctx, *address, uint32(os.Getpid()), wire.ModeNormal); err != nil {
		log.Fatalf("connect %s: %v", *address, err)
	}
	defer head.Disconnect()

	if mismatch, reason := head.VersionMismatch(); mismatch {
		log.Fatalf("device version incompatible: %s", reason)
	}
	log.Printf("connected to scan head %d (protocol %s, max rate %d Hz)",
		head.Serial(), head.Version(), head.MaxScanRateHz())

	if *metricsAddr != "" {
		exporter := metrics.NewExporter(prometheus.DefaultRegisterer)
		subID, snapshots := head.Subscribe()
		defer head.Unsubscribe(subID)
		go exporter.Watch(ctx, snapshots)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	recorder, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("open recording db: %v", err)
	}
	defer recorder.Close()

	runID, err := recorder.BeginRun(head.Serial())
	if err != nil {
		log.Fatalf("begin run: %v", err)
	}

	if err := head.StartScanning(uint32(*rate), format, uint16(*startColumn), uint16(*endColumn)); err != nil {
		log.Fatalf("start scanning: %v", err)
	}
	log.Printf("recording run %s at %d Hz (%s, columns %d-%d)", runID, *rate, format, *startColumn, *endColumn)

	// Periodic progress while recording.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := head.Stats()
				log.Printf("stats: %.1f profiles/sec, %.2f KB/sec, %d complete, %d incomplete, %d bad packets, %d evicted",
					s.ProfilesPerSec, s.BytesPerSec/1024, s.CompleteProfiles, s.IncompleteProfiles, s.BadPackets, s.Evictions)
			}
		}
	}()

	written, err := recorder.Record(ctx, runID, head)
	if err != nil {
		log.Printf("recording stopped: %v", err)
	}

	if err := head.StopScanning(); err != nil {
		log.Printf("stop scanning: %v", err)
	}
	s := head.Stats()
	log.Printf("run %s finished: %d profiles written, %d complete, %d incomplete, %d bad packets",
		runID, written, s.CompleteProfiles, s.IncompleteProfiles, s.BadPackets)
}

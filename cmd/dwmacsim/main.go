// Command dwmacsim runs the ring engine against the emulated controller in
// loopback, checking that every frame sent comes back intact.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/term"

	"github.com/sophgo/dwmac/internal/dma"
	"github.com/sophgo/dwmac/internal/dwmac"
	"github.com/sophgo/dwmac/internal/emu"
	"github.com/sophgo/dwmac/internal/pcap"
)

type options struct {
	configPath      string
	frames          int
	minPayload      int
	maxPayload      int
	faultEvery      int
	pcapPath        string
	metricsAddr     string
	metricsInterval time.Duration
	verbose         bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("dwmacsim", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "YAML engine config (defaults are used when empty)")
	fs.IntVar(&o.frames, "n", 10000, "number of frames to send")
	fs.IntVar(&o.minPayload, "min", 18, "minimum UDP payload size")
	fs.IntVar(&o.maxPayload, "max", 1400, "maximum UDP payload size")
	fs.IntVar(&o.faultEvery, "fault-every", 0, "inject a receive bus error every N frames (0 disables)")
	fs.StringVar(&o.pcapPath, "pcap", "", "write every frame crossing the rings to this pcap file")
	fs.StringVar(&o.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.DurationVar(&o.metricsInterval, "metrics-interval", time.Second, "metrics export interval")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.frames <= 0 {
		return options{}, fmt.Errorf("-n must be positive")
	}
	if o.minPayload < minPayload || o.maxPayload < o.minPayload {
		return options{}, fmt.Errorf("payload range [%d, %d] is invalid (minimum %d)", o.minPayload, o.maxPayload, minPayload)
	}
	return o, nil
}

func run(args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := dwmac.DefaultConfig()
	if o.configPath != "" {
		if cfg, err = dwmac.LoadConfig(o.configPath); err != nil {
			return err
		}
	}
	if limit := cfg.BufferSize - headerOverhead; o.maxPayload > limit {
		return fmt.Errorf("payload size %d does not fit buffer size %d", o.maxPayload, cfg.BufferSize)
	}

	space := dma.NewSpace(0, cfg.MaxMappings)
	mac := emu.New(space, emu.WithLoopback(), emu.WithLogger(log))
	link := emu.NewLink(emu.Up)

	registry := metrics.NewRegistry()
	opts := []dwmac.Option{dwmac.WithLogger(log), dwmac.WithMetrics(registry)}

	if o.pcapPath != "" {
		f, err := os.Create(o.pcapPath)
		if err != nil {
			return fmt.Errorf("create pcap file: %w", err)
		}
		tap := pcap.NewTap(f, 0)
		defer tap.Close()
		opts = append(opts, dwmac.WithCapture(tap))
	}

	if o.metricsAddr != "" {
		if err := serveMetrics(log, registry, o.metricsAddr, o.metricsInterval); err != nil {
			return err
		}
	}

	dev, err := dwmac.New(cfg, mac, space, link, opts...)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := dev.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	s := newSoak(dev, mac, o)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		s.enableProgress()
	}
	start := time.Now()
	if err := s.run(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats, err := dev.GetStatistics()
	if err != nil {
		return err
	}
	fmt.Printf("%d frames in %s (%.0f frames/s), %d lost to %d receive faults\n",
		s.received, elapsed.Round(time.Millisecond), float64(s.received)/elapsed.Seconds(), s.lost, s.faults)
	for _, name := range stats.Names() {
		fmt.Printf("  %-26s %d\n", name, stats[name])
	}

	if err := dev.Shutdown(); err != nil {
		return err
	}
	if live := space.Addresses(); len(live) > 0 {
		return fmt.Errorf("%d buffers still mapped after shutdown, first at %#x", len(live), live[0])
	}
	return dev.Stop()
}

// serveMetrics copies the registry into Prometheus every interval and
// serves it at /metrics.
func serveMetrics(log *slog.Logger, registry metrics.Registry, addr string, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("metrics interval must be positive")
	}
	pr := prometheus.NewRegistry()
	provider := mp.NewPrometheusProvider(registry, "dwmacsim", "", pr, interval)
	go provider.UpdatePrometheusMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pr, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelError),
	}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("dwmacsim: serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("dwmacsim: metrics server", "error", err)
		}
	}()
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "dwmacsim: %v\n", err)
		os.Exit(1)
	}
}

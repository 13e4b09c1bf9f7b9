package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rjboer/sdrstream/internal/config"
	"github.com/rjboer/sdrstream/internal/dispatch"
	"github.com/rjboer/sdrstream/internal/dsp"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/mdns"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/router"
	"github.com/rjboer/sdrstream/internal/telemetry"
	"github.com/rjboer/sdrstream/internal/transport"
)

var errNoChannels = errors.New("no channel could be started")

func newMonitorCmd(opts *cliOptions) *cobra.Command {
	var (
		webAddr   string
		logBlocks bool
		discover  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Subscribe to the configured channels and serve a live view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			cfg, err := opts.load(func(cfg *config.Config) {
				if flags.Changed("web") {
					cfg.Web.Addr = webAddr
				}
			})
			if err != nil {
				return err
			}
			logger := opts.logger(cfg)

			if discover > 0 {
				browseCtx, cancel := context.WithTimeout(cmd.Context(), discover)
				hosts, err := mdns.Discover(browseCtx)
				cancel()
				if err != nil {
					logger.Warn("discovery failed", logging.Err(err))
				}
				cfg.Channels = mergeDiscovered(cfg.Channels, hosts)
			}

			mon, err := newMonitor(cfg, logger, logBlocks)
			if err != nil {
				return err
			}
			return mon.run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&webAddr, "web", "", "live view address; empty disables it")
	f.BoolVar(&logBlocks, "log-blocks", false, "log a summary of every block")
	f.DurationVar(&discover, "discover", 0, "browse mDNS this long and add the channels found")
	return cmd
}

// mergeDiscovered appends discovered channels whose names are not
// configured already.
func mergeDiscovered(channels []config.ChannelConfig, hosts []mdns.Host) []config.ChannelConfig {
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		seen[ch.Name] = true
	}
	for _, h := range hosts {
		desc := h.Descriptor
		if err := desc.Validate(); err != nil || seen[desc.Name] {
			continue
		}
		seen[desc.Name] = true
		channels = append(channels, config.ChannelConfig{
			Name:    desc.Name,
			Address: desc.Address,
			Type:    desc.Type,
			Role:    desc.Role,
		})
	}
	return channels
}

// monitor routes every configured channel to the live view. The display
// consumers of a channel share one loop so a slow view never holds up
// the receive goroutine.
type monitor struct {
	cfg     config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	tctx    *transport.Context
	router  *router.Router
	hub     *telemetry.Hub
	loops   []*dispatch.Loop
	web     *telemetry.WebServer
}

func newMonitor(cfg config.Config, logger logging.Logger, logBlocks bool) (*monitor, error) {
	hub, err := telemetry.NewHub(telemetry.Config{
		SampleRateHz: cfg.SampleRateHz,
		MaxPoints:    cfg.Web.MaxPoints,
		ClientBuffer: cfg.Web.ClientBuffer,
	})
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	tctx := transport.NewContext(cfg.TransportOptions(), logger)
	mon := &monitor{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tctx:    tctx,
		router:  router.New(tctx, router.WithLogger(logger), router.WithMetrics(m)),
		hub:     hub,
	}

	started := 0
	for _, ch := range cfg.Channels {
		ok, err := mon.attach(ch, logBlocks)
		if err != nil {
			mon.close()
			return nil, err
		}
		if ok {
			started++
		}
	}
	if started == 0 {
		mon.close()
		return nil, errNoChannels
	}

	if cfg.Web.Addr != "" {
		mon.web = telemetry.NewWebServer(cfg.Web.Addr, hub, mon.router, m, logger)
	}
	return mon, nil
}

// attach registers the display consumers of ch and connects it. A
// connect failure is logged and reported as not started.
func (mon *monitor) attach(ch config.ChannelConfig, logBlocks bool) (bool, error) {
	desc := ch.Descriptor()
	role, err := router.ParseRole(string(desc.Role))
	if err != nil {
		return false, err
	}

	loop := dispatch.NewLoop(dispatch.LoopConfig{
		Name:     "display/" + ch.Name,
		Capacity: ch.Queue,
		Logger:   mon.logger,
		Metrics:  mon.metrics,
	})
	sinks := []dispatch.Sink{mon.hub.Sink(ch.Name, role)}
	if logBlocks {
		sinks = append(sinks, telemetry.NewLogSink(mon.logger, ch.Name))
	}
	if ch.Spectrum {
		est, err := dsp.NewEstimator(mon.cfg.SampleRateHz, dsp.Hamming)
		if err != nil {
			return false, err
		}
		view := ch.Name + ".spectrum"
		sinks = append(sinks, dsp.SpectrumSink(est, true, func(freqs, power []float64) error {
			mon.hub.ReportSpectrum(view, freqs, dsp.DB(power))
			return nil
		}))
	}
	for _, s := range sinks {
		if _, err := mon.router.RegisterConsumer(ch.Name, dispatch.Queued(loop, s)); err != nil {
			return false, err
		}
	}
	mon.loops = append(mon.loops, loop)

	if err := mon.router.AddChannel(desc); err != nil {
		mon.logger.Error("channel not started", logging.F("channel", ch.Name), logging.Err(err))
		return false, nil
	}
	return true, nil
}

// run serves until ctx is cancelled or the web server fails. A channel
// that fails is logged and stays listed; the others keep running.
func (mon *monitor) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range mon.loops {
		g.Go(func() error { return ignoreCanceled(loop.Run(gctx)) })
	}
	if mon.web != nil {
		g.Go(func() error { return mon.web.Start(gctx) })
	}
	for _, st := range mon.router.Channels() {
		name := st.Name
		g.Go(func() error {
			if err := mon.router.Wait(name); err != nil {
				mon.logger.Error("channel stopped", logging.F("channel", name), logging.Err(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		mon.close()
		return nil
	})
	return ignoreCanceled(g.Wait())
}

func (mon *monitor) close() {
	_ = mon.router.Close()
	for _, loop := range mon.loops {
		loop.Close()
	}
	_ = mon.tctx.Close()
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rjboer/sdrstream/internal/acquire"
	"github.com/rjboer/sdrstream/internal/config"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/mdns"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/sdr"
	"github.com/rjboer/sdrstream/internal/telemetry"
	"github.com/rjboer/sdrstream/internal/transport"
)

func newPublishCmd(opts *cliOptions) *cobra.Command {
	var (
		kind        string
		address     string
		spectral    string
		interval    time.Duration
		advertise   bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish synthetic sample blocks on a fixed interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			cfg, err := opts.load(func(cfg *config.Config) {
				if flags.Changed("kind") {
					cfg.Source.Kind = kind
				}
				if flags.Changed("address") {
					cfg.Source.Address = address
				}
				if flags.Changed("spectral-address") {
					cfg.Source.SpectralAddress = spectral
				}
				if flags.Changed("interval") {
					cfg.Source.Interval = interval
				}
				if flags.Changed("advertise") {
					cfg.Source.Advertise = advertise
				}
			})
			if err != nil {
				return err
			}
			logger := opts.logger(cfg)

			pub, err := newPublisher(cmd.Context(), cfg, logger, metricsAddr)
			if err != nil {
				return err
			}
			return pub.run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "source kind: sine, noise or iq")
	f.StringVar(&address, "address", "", "endpoint for raw blocks")
	f.StringVar(&spectral, "spectral-address", "", "endpoint for power spectra; empty disables them")
	f.DurationVar(&interval, "interval", 0, "time between blocks")
	f.BoolVar(&advertise, "advertise", false, "announce the channels over mDNS")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	return cmd
}

// publisher owns one source and the pump that publishes it.
type publisher struct {
	cfg    config.Config
	logger logging.Logger
	src    sdr.Source
	tctx   *transport.Context
	pump   *acquire.Pump
	ads    []*mdns.Advertisement
	web    *telemetry.WebServer
}

// newPublisher opens the source and binds the endpoints, so subscribers
// may connect as soon as it returns.
func newPublisher(ctx context.Context, cfg config.Config, logger logging.Logger, metricsAddr string) (*publisher, error) {
	src, err := sdr.New(sdr.Kind(cfg.Source.Kind), cfg.SourceParams())
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	p := &publisher{
		cfg:    cfg,
		logger: logger,
		src:    src,
		tctx:   transport.NewContext(cfg.TransportOptions(), logger),
	}
	p.pump = acquire.NewPump(p.tctx, cfg.PumpConfig(), src, logger, m)
	if err := p.pump.Init(ctx); err != nil {
		p.close()
		return nil, fmt.Errorf("bind: %w", err)
	}

	if cfg.Source.Advertise {
		for _, desc := range cfg.Published() {
			ad, err := mdns.Advertise("", desc)
			if err != nil {
				logger.Warn("channel not advertised", logging.F("channel", desc.Name), logging.Err(err))
				continue
			}
			p.ads = append(p.ads, ad)
			logger.Info("channel advertised", logging.F("channel", desc.Name), logging.F("address", desc.Address))
		}
	}

	if metricsAddr != "" {
		hub, err := telemetry.NewHub(telemetry.Config{SampleRateHz: cfg.SampleRateHz})
		if err != nil {
			p.close()
			return nil, err
		}
		p.web = telemetry.NewWebServer(metricsAddr, hub, nil, m, logger)
	}
	return p, nil
}

// run publishes until ctx is cancelled or the source fails.
func (p *publisher) run(ctx context.Context) error {
	defer p.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.pump.Run(gctx) })
	if p.web != nil {
		g.Go(func() error { return p.web.Start(gctx) })
	}
	err := ignoreCanceled(g.Wait())

	st := p.pump.Stats()
	p.logger.Info("publisher stopped",
		logging.F("published", st.Published),
		logging.F("spectra", st.SpectraPublished),
		logging.F("publish_errors", st.PublishErrors))
	return err
}

func (p *publisher) close() {
	for _, ad := range p.ads {
		ad.Shutdown()
	}
	p.ads = nil
	if p.pump != nil {
		_ = p.pump.Close()
	}
	_ = p.src.Close()
	_ = p.tctx.Close()
}

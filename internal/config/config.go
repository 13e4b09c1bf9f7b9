// Package config loads the pipeline configuration from YAML and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/sdrstream/internal/acquire"
	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/router"
	"github.com/rjboer/sdrstream/internal/sdr"
	"github.com/rjboer/sdrstream/internal/transport"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "SDRSTREAM_"

// Config is the whole pipeline configuration.
type Config struct {
	Log          LogConfig       `yaml:"log"`
	SampleRateHz float64         `yaml:"sample_rate_hz"`
	Web          WebConfig       `yaml:"web"`
	Transport    TransportConfig `yaml:"transport"`
	Channels     []ChannelConfig `yaml:"channels"`
	Source       SourceConfig    `yaml:"source"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebConfig enables the live view when Addr is set.
type WebConfig struct {
	Addr         string `yaml:"addr"`
	MaxPoints    int    `yaml:"max_points"`
	ClientBuffer int    `yaml:"client_buffer"`
}

type TransportConfig struct {
	RecvQueue int  `yaml:"recv_queue"`
	SendQueue int  `yaml:"send_queue"`
	DialAsync bool `yaml:"dial_async"`
}

// ChannelConfig describes one subscribed channel.
type ChannelConfig struct {
	Name    string            `yaml:"name"`
	Address string            `yaml:"address"`
	Type    frame.ElementType `yaml:"type"`
	Role    router.Role       `yaml:"role,omitempty"`
	// Queue bounds the handoff to the display consumers of this channel.
	Queue int `yaml:"queue,omitempty"`
	// Spectrum estimates the power spectrum on the consumer side and shows
	// it as an extra "<name>.spectrum" view.
	Spectrum bool `yaml:"spectrum,omitempty"`
}

// SourceConfig drives the publish command.
type SourceConfig struct {
	Kind            string        `yaml:"kind"`
	Channel         string        `yaml:"channel"`
	Address         string        `yaml:"address"`
	Interval        time.Duration `yaml:"interval"`
	Samples         int           `yaml:"samples"`
	ToneHz          float64       `yaml:"tone_hz"`
	Amplitude       float64       `yaml:"amplitude,omitempty"`
	Seed            int64         `yaml:"seed,omitempty"`
	Warmup          int           `yaml:"warmup,omitempty"`
	SpectralChannel string        `yaml:"spectral_channel,omitempty"`
	SpectralAddress string        `yaml:"spectral_address,omitempty"`
	ShiftSpectrum   bool          `yaml:"shift_spectrum,omitempty"`
	Advertise       bool          `yaml:"advertise,omitempty"`
}

// Default mirrors the bench setup: a 500 kHz int16 tone at 30.72 MS/s on
// port 5555 and its spectrum on port 5556.
func Default() Config {
	return Config{
		Log:          LogConfig{Level: "info", Format: "text"},
		SampleRateHz: 30_719_999,
		Web:          WebConfig{Addr: ":8080", MaxPoints: 2048, ClientBuffer: 8},
		Transport:    TransportConfig{RecvQueue: 16, SendQueue: 16},
		Channels: []ChannelConfig{
			{Name: "time", Address: "tcp://127.0.0.1:5555", Type: frame.Int16, Role: router.RoleTime, Queue: 16},
			{Name: "freq", Address: "tcp://127.0.0.1:5556", Type: frame.Float64, Role: router.RoleFrequency, Queue: 16},
		},
		Source: SourceConfig{
			Kind:            string(sdr.KindSine),
			Channel:         "time",
			Address:         "tcp://127.0.0.1:5555",
			Interval:        time.Second,
			Samples:         4086,
			ToneHz:          500e3,
			SpectralChannel: "freq",
			SpectralAddress: "tcp://127.0.0.1:5556",
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document leaves out.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes cfg to path.
func Save(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides scalar settings from SDRSTREAM_* variables. Values
// that do not parse are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	cfg.Log.Level = envString(lookup, "LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString(lookup, "LOG_FORMAT", cfg.Log.Format)
	cfg.SampleRateHz = envFloat(lookup, "SAMPLE_RATE_HZ", cfg.SampleRateHz)
	cfg.Web.Addr = envString(lookup, "WEB_ADDR", cfg.Web.Addr)
	cfg.Web.MaxPoints = envInt(lookup, "WEB_MAX_POINTS", cfg.Web.MaxPoints)
	cfg.Transport.RecvQueue = envInt(lookup, "RECV_QUEUE", cfg.Transport.RecvQueue)
	cfg.Transport.SendQueue = envInt(lookup, "SEND_QUEUE", cfg.Transport.SendQueue)
	cfg.Transport.DialAsync = envBool(lookup, "DIAL_ASYNC", cfg.Transport.DialAsync)
	cfg.Source.Kind = envString(lookup, "SOURCE_KIND", cfg.Source.Kind)
	cfg.Source.Address = envString(lookup, "SOURCE_ADDRESS", cfg.Source.Address)
	cfg.Source.SpectralAddress = envString(lookup, "SOURCE_SPECTRAL_ADDRESS", cfg.Source.SpectralAddress)
	cfg.Source.Interval = envDuration(lookup, "SOURCE_INTERVAL", cfg.Source.Interval)
	cfg.Source.Samples = envInt(lookup, "SOURCE_SAMPLES", cfg.Source.Samples)
	cfg.Source.ToneHz = envFloat(lookup, "SOURCE_TONE_HZ", cfg.Source.ToneHz)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	if c.SampleRateHz <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate_hz must be positive, got %g", c.SampleRateHz))
	}
	if c.Transport.RecvQueue < 0 || c.Transport.SendQueue < 0 {
		errs = append(errs, errors.New("transport queues must not be negative"))
	}
	if c.Web.MaxPoints < 0 {
		errs = append(errs, errors.New("web.max_points must not be negative"))
	}

	seen := make(map[string]bool, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		desc := ch.Descriptor()
		if err := desc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channels[%d]: %w", i, err))
			continue
		}
		ch.Role = desc.Role
		if seen[ch.Name] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name))
		}
		seen[ch.Name] = true
		if ch.Queue < 0 {
			errs = append(errs, fmt.Errorf("channels[%d]: queue must not be negative", i))
		}
	}

	if c.Source.Kind != "" {
		if _, err := sdr.ParseKind(c.Source.Kind); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
		if c.Source.Address == "" {
			errs = append(errs, errors.New("source.address is required"))
		}
		if c.Source.Channel == "" {
			errs = append(errs, errors.New("source.channel is required"))
		}
		if c.Source.SpectralAddress != "" && c.Source.SpectralChannel == "" {
			errs = append(errs, errors.New("source.spectral_channel is required with a spectral address"))
		}
		if c.Source.Interval < 0 {
			errs = append(errs, errors.New("source.interval must not be negative"))
		}
		if c.Source.Samples < 0 {
			errs = append(errs, errors.New("source.samples must not be negative"))
		}
	}
	return errors.Join(errs...)
}

// Descriptor converts the channel entry.
func (c ChannelConfig) Descriptor() router.Descriptor {
	return router.Descriptor{Name: c.Name, Address: c.Address, Type: c.Type, Role: c.Role}
}

// TransportOptions builds the transport context options.
func (c *Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	if c.Transport.RecvQueue > 0 {
		opts.RecvQueue = c.Transport.RecvQueue
	}
	if c.Transport.SendQueue > 0 {
		opts.SendQueue = c.Transport.SendQueue
	}
	opts.DialAsync = c.Transport.DialAsync
	return opts
}

// SourceParams builds the synthetic source settings.
func (c *Config) SourceParams() sdr.Config {
	return sdr.Config{
		SampleRate: c.SampleRateHz,
		ToneHz:     c.Source.ToneHz,
		NumSamples: c.Source.Samples,
		Amplitude:  c.Source.Amplitude,
		Seed:       c.Source.Seed,
	}
}

// Published describes the channels the publish command produces, in the
// form subscribers need them. The spectral channel is present only when a
// spectral address is set.
func (c *Config) Published() []router.Descriptor {
	kind, err := sdr.ParseKind(c.Source.Kind)
	if err != nil {
		return nil
	}
	out := []router.Descriptor{{
		Name:    c.Source.Channel,
		Address: c.Source.Address,
		Type:    kind.ElementType(),
		Role:    router.RoleTime,
	}}
	if c.Source.SpectralAddress != "" {
		out = append(out, router.Descriptor{
			Name:    c.Source.SpectralChannel,
			Address: c.Source.SpectralAddress,
			Type:    frame.Float64,
			Role:    router.RoleFrequency,
		})
	}
	return out
}

// PumpConfig builds the acquisition pump settings.
func (c *Config) PumpConfig() acquire.Config {
	return acquire.Config{
		Address:         c.Source.Address,
		SpectralAddress: c.Source.SpectralAddress,
		SampleRate:      c.SampleRateHz,
		Interval:        c.Source.Interval,
		WarmupBlocks:    c.Source.Warmup,
		ShiftSpectrum:   c.Source.ShiftSpectrum,
	}
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(EnvPrefix + key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(EnvPrefix + key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(EnvPrefix + key); ok {
		return val
	}
	return def
}

package telemetry

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rjboer/sdrstream/internal/dispatch"
	"github.com/rjboer/sdrstream/internal/dsp"
	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/router"
)

// Config represents the runtime configuration of the live view.
type Config struct {
	SampleRateHz float64 `json:"sampleRateHz"`
	MaxPoints    int     `json:"maxPoints"`
	ClientBuffer int     `json:"clientBuffer"`
}

const (
	minMaxPoints    = 16
	maxMaxPoints    = 1 << 16
	minClientBuffer = 1
	maxClientBuffer = 1024
)

func defaultConfig() Config {
	return Config{
		SampleRateHz: 30_719_999,
		MaxPoints:    2048,
		ClientBuffer: 8,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.SampleRateHz == 0 || base.MaxPoints == 0 || base.ClientBuffer == 0 {
		base = defaultConfig()
	}

	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = base.SampleRateHz
	}
	if cfg.MaxPoints == 0 {
		cfg.MaxPoints = base.MaxPoints
	}
	if cfg.ClientBuffer == 0 {
		cfg.ClientBuffer = base.ClientBuffer
	}

	if cfg.SampleRateHz < 0 {
		return Config{}, fmt.Errorf("sample rate must be positive, got %g", cfg.SampleRateHz)
	}
	if cfg.MaxPoints < minMaxPoints || cfg.MaxPoints > maxMaxPoints {
		return Config{}, fmt.Errorf("max points must be between %d and %d", minMaxPoints, maxMaxPoints)
	}
	if cfg.ClientBuffer < minClientBuffer || cfg.ClientBuffer > maxClientBuffer {
		return Config{}, fmt.Errorf("client buffer must be between %d and %d", minClientBuffer, maxClientBuffer)
	}
	return cfg, nil
}

// Snapshot is the most recent block of one channel, decimated for display.
type Snapshot struct {
	Channel   string      `json:"channel"`
	Role      router.Role `json:"role"`
	Type      string      `json:"type"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Len       int         `json:"len"`
	Stride    int         `json:"stride"`
	X         []float64   `json:"x,omitempty"`
	Real      []float64   `json:"real"`
	Imag      []float64   `json:"imag,omitempty"`
	// NonFinite counts shown values that were NaN or infinite. NaN is
	// shown as 0 and infinities as the largest finite float, since JSON
	// has no encoding for either.
	NonFinite int `json:"nonFinite,omitempty"`
}

// Hub keeps the latest snapshot per channel and fans updates out to live
// subscribers. A subscriber that falls behind loses its oldest pending
// snapshots, never the newest.
type Hub struct {
	mu          sync.RWMutex
	config      Config
	latest      map[string]Snapshot
	subscribers map[string]map[chan Snapshot]struct{}
	seq         uint64
}

// NewHub builds a hub; zero config fields take their defaults.
func NewHub(cfg Config) (*Hub, error) {
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		return nil, err
	}
	return &Hub{
		config:      cfg,
		latest:      make(map[string]Snapshot),
		subscribers: make(map[string]map[chan Snapshot]struct{}),
	}, nil
}

// ConfigSnapshot returns the validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

type hubSink struct {
	hub     *Hub
	channel string
	role    router.Role
}

func (s hubSink) Consume(b frame.Block) error {
	s.hub.Report(s.channel, s.role, b)
	return nil
}

func (s hubSink) Name() string { return "live/" + s.channel }

// Sink returns a consumer that records every block of channel.
func (h *Hub) Sink(channel string, role router.Role) dispatch.Sink {
	return hubSink{hub: h, channel: channel, role: role}
}

// Report records b as the latest block of channel.
func (h *Hub) Report(channel string, role router.Role, b frame.Block) {
	h.report(channel, role, b, nil)
}

// ReportSpectrum records a spectrum with its frequency axis.
func (h *Hub) ReportSpectrum(channel string, freqs, power []float64) {
	h.report(channel, router.RoleFrequency, frame.Of(power), freqs)
}

func (h *Hub) report(channel string, role router.Role, b frame.Block, x []float64) {
	h.mu.RLock()
	cfg := h.config
	h.mu.RUnlock()

	snap := buildSnapshot(channel, role, b, x, cfg)

	h.mu.Lock()
	h.seq++
	snap.Seq = h.seq
	h.latest[channel] = snap
	for ch := range h.subscribers[channel] {
		offer(ch, snap)
	}
	h.mu.Unlock()
}

// offer sends without blocking, evicting the oldest queued snapshot when
// the subscriber's buffer is full.
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Latest returns the last snapshot of channel.
func (h *Hub) Latest(channel string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap, ok := h.latest[channel]
	return snap, ok
}

// Channels lists the channels that have reported at least once.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.latest))
	for name := range h.latest {
		out = append(out, name)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscribe registers a listener for live updates of channel.
func (h *Hub) Subscribe(channel string) (<-chan Snapshot, func()) {
	h.mu.Lock()
	ch := make(chan Snapshot, h.config.ClientBuffer)
	subs, ok := h.subscribers[channel]
	if !ok {
		subs = make(map[chan Snapshot]struct{})
		h.subscribers[channel] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers[channel], ch)
			if len(h.subscribers[channel]) == 0 {
				delete(h.subscribers, channel)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live listeners on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}

func buildSnapshot(channel string, role router.Role, b frame.Block, x []float64, cfg Config) Snapshot {
	n := b.Len()
	stride := 1
	if n > cfg.MaxPoints {
		stride = (n + cfg.MaxPoints - 1) / cfg.MaxPoints
	}
	snap := Snapshot{
		Channel:   channel,
		Role:      role,
		Type:      b.Type.String(),
		Timestamp: time.Now(),
		Len:       n,
		Stride:    stride,
	}

	if b.Type.IsComplex() {
		values := b.Complex()
		snap.Real = make([]float64, 0, n/stride+1)
		snap.Imag = make([]float64, 0, n/stride+1)
		for i := 0; i < n; i += stride {
			snap.Real = append(snap.Real, snap.finite(real(values[i])))
			snap.Imag = append(snap.Imag, snap.finite(imag(values[i])))
		}
	} else {
		values := b.Reals()
		snap.Real = make([]float64, 0, n/stride+1)
		for i := 0; i < n; i += stride {
			snap.Real = append(snap.Real, snap.finite(values[i]))
		}
	}

	if x == nil && role == router.RoleTime && cfg.SampleRateHz > 0 {
		x = dsp.TimeAxis(n, cfg.SampleRateHz)
	}
	if len(x) == n {
		snap.X = make([]float64, 0, len(snap.Real))
		for i := 0; i < n; i += stride {
			snap.X = append(snap.X, snap.finite(x[i]))
		}
	}
	return snap
}

func (s *Snapshot) finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		s.NonFinite++
		return 0
	case math.IsInf(v, 1):
		s.NonFinite++
		return math.MaxFloat64
	case math.IsInf(v, -1):
		s.NonFinite++
		return -math.MaxFloat64
	}
	return v
}

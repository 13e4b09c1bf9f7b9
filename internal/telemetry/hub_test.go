package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/router"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub, err := NewHub(Config{SampleRateHz: 4, MaxPoints: 16, ClientBuffer: 2})
	require.NoError(t, err)
	return hub
}

func TestValidateConfig(t *testing.T) {
	cfg, err := validateConfig(Config{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	_, err = validateConfig(Config{MaxPoints: 4}, defaultConfig())
	assert.Error(t, err)
	_, err = validateConfig(Config{ClientBuffer: 5000}, defaultConfig())
	assert.Error(t, err)
	_, err = validateConfig(Config{SampleRateHz: -1}, defaultConfig())
	assert.Error(t, err)
}

func TestReportKeepsLatestAndDecimates(t *testing.T) {
	hub := newTestHub(t)
	values := make([]int16, 40)
	for i := range values {
		values[i] = int16(i)
	}
	require.NoError(t, hub.Sink("time", router.RoleTime).Consume(frame.Of(values)))

	snap, ok := hub.Latest("time")
	require.True(t, ok)
	assert.Equal(t, "int16", snap.Type)
	assert.Equal(t, 40, snap.Len)
	assert.Equal(t, 3, snap.Stride)
	assert.Len(t, snap.Real, 14)
	assert.Equal(t, 3.0, snap.Real[1])
	require.Len(t, snap.X, 14)
	assert.InDelta(t, 3*10.0/39, snap.X[1], 1e-12)
	assert.Nil(t, snap.Imag)

	hub.Report("iq", router.RoleRaw, frame.Of([]complex64{1 + 2i, 3 - 4i}))
	snap, ok = hub.Latest("iq")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 3}, snap.Real)
	assert.Equal(t, []float64{2, -4}, snap.Imag)
	assert.Nil(t, snap.X)

	assert.Equal(t, []string{"iq", "time"}, hub.Channels())
}

func TestReportSpectrumCarriesFrequencyAxis(t *testing.T) {
	hub := newTestHub(t)
	hub.ReportSpectrum("time.spectrum", []float64{-2, -1, 0, 1}, []float64{-30, -20, 0, -20})

	snap, ok := hub.Latest("time.spectrum")
	require.True(t, ok)
	assert.Equal(t, router.RoleFrequency, snap.Role)
	assert.Equal(t, "float64", snap.Type)
	assert.Equal(t, []float64{-2, -1, 0, 1}, snap.X)
	assert.Equal(t, []float64{-30, -20, 0, -20}, snap.Real)

	// An axis of the wrong length is dropped rather than misaligned.
	hub.ReportSpectrum("bad", []float64{0, 1}, []float64{1, 2, 3})
	snap, _ = hub.Latest("bad")
	assert.Nil(t, snap.X)
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	hub := newTestHub(t)
	updates, cancel := hub.Subscribe("freq")
	defer cancel()
	assert.Equal(t, 1, hub.Subscribers("freq"))

	for i := 0; i < 5; i++ {
		hub.Report("freq", router.RoleFrequency, frame.Of([]float64{float64(i)}))
	}
	first := <-updates
	second := <-updates
	assert.Equal(t, []float64{3}, first.Real)
	assert.Equal(t, []float64{4}, second.Real)
	assert.Less(t, first.Seq, second.Seq)

	cancel()
	cancel()
	_, open := <-updates
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers("freq"))
}

type staticStatus []router.ChannelStatus

func (s staticStatus) Channels() []router.ChannelStatus { return s }

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	status := staticStatus{{
		Descriptor: router.Descriptor{Name: "time", Address: "tcp://127.0.0.1:5555", Type: frame.Int16, Role: router.RoleTime},
		State:      router.StateReceiving,
		Received:   7,
	}}
	web := NewWebServer("", hub, status, metrics.New(), logging.New(logging.Error, logging.Text, &bytes.Buffer{}))
	srv := httptest.NewServer(web.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEndpoints(t *testing.T) {
	hub := newTestHub(t)
	hub.Report("time", router.RoleTime, frame.Of([]int16{1, 2, 3}))
	srv := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/config")
	require.NoError(t, err)
	var cfg Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	resp.Body.Close()
	assert.Equal(t, Config{SampleRateHz: 4, MaxPoints: 16, ClientBuffer: 2}, cfg)

	resp, err = http.Get(srv.URL + "/api/channels")
	require.NoError(t, err)
	var statuses []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	resp.Body.Close()
	require.Len(t, statuses, 1)
	assert.Equal(t, "time", statuses[0]["name"])
	assert.Equal(t, "int16", statuses[0]["type"])
	assert.Equal(t, "receiving", statuses[0]["state"])
	assert.Equal(t, 7.0, statuses[0]["received"])

	resp, err = http.Get(srv.URL + "/api/channels/time/latest")
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, []float64{1, 2, 3}, snap.Real)

	resp, err = http.Get(srv.URL + "/api/channels/nope/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, body.String(), "sdrstream_channels_active")
}

func TestLiveWebsocketStreamsSnapshots(t *testing.T) {
	hub := newTestHub(t)
	hub.Report("time", router.RoleTime, frame.Of([]int16{1}))
	srv := newTestServer(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live/time"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, []float64{1}, snap.Real)

	require.Eventually(t, func() bool { return hub.Subscribers("time") == 1 }, time.Second, time.Millisecond)
	hub.Report("time", router.RoleTime, frame.Of([]int16{2}))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, []float64{2}, snap.Real)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers("time") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	web := NewWebServer(ln.Addr().String(), newTestHub(t), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- web.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestLogSinkSummarizes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.New(logging.Info, logging.JSON, &buf), "time")
	require.NoError(t, sink.Consume(frame.Of([]float64{3, -4})))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "time", line["channel"])
	assert.Equal(t, -4.0, line["min"])
	assert.Equal(t, 3.0, line["max"])
	assert.InDelta(t, 3.5355, line["rms"], 1e-3)
	assert.Equal(t, "log/time", sink.Name())
}

func TestNonFiniteSamplesStayServable(t *testing.T) {
	hub := newTestHub(t)
	require.NoError(t, hub.Sink("raw", router.RoleRaw).Consume(frame.Of([]float64{1, math.NaN(), math.Inf(1), math.Inf(-1)})))
	hub.Report("iq", router.RoleRaw, frame.Of([]complex128{complex(math.NaN(), 2)}))
	srv := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/api/channels/raw/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, []float64{1, 0, math.MaxFloat64, -math.MaxFloat64}, snap.Real)
	assert.Equal(t, 3, snap.NonFinite)

	iq, ok := hub.Latest("iq")
	require.True(t, ok)
	assert.Equal(t, []float64{0}, iq.Real)
	assert.Equal(t, []float64{2}, iq.Imag)
	assert.Equal(t, 1, iq.NonFinite)
}

func TestWriteJSONReportsEncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"bad": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "encode response")
}

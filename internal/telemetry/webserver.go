package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/router"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// StatusSource reports the state of the running channels.
type StatusSource interface {
	Channels() []router.ChannelStatus
}

// WebServer exposes channel status, latest snapshots and live updates over
// HTTP and websockets.
type WebServer struct {
	srv      *http.Server
	hub      *Hub
	status   StatusSource
	metrics  *metrics.Metrics
	logger   logging.Logger
	upgrader websocket.Upgrader
	closing  chan struct{}
}

// NewWebServer builds the HTTP server. status and m may be nil.
func NewWebServer(addr string, hub *Hub, status StatusSource, m *metrics.Metrics, logger logging.Logger) *WebServer {
	w := &WebServer{
		hub:     hub,
		status:  status,
		metrics: m,
		logger:  logging.OrDefault(logger).With(logging.F("subsystem", "web")),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1 << 16,
		},
	}
	w.closing = make(chan struct{})
	w.srv = &http.Server{Addr: addr, Handler: w.routes(), ReadHeaderTimeout: 5 * time.Second}
	// Shutdown does not track hijacked connections; tell live clients to go.
	w.srv.RegisterOnShutdown(func() { close(w.closing) })
	return w
}

// Handler returns the HTTP handler, for tests and embedding.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

func (w *WebServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", w.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", w.handleConfig)
		r.Get("/channels", w.handleChannels)
		r.Get("/channels/{name}/latest", w.handleLatest)
		r.Get("/live/{name}", w.handleLive)
	})
	if reg := w.metrics.Registry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return r
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web shutdown", logging.Err(err))
		}
	}()

	w.logger.Info("web view listening", logging.F("addr", ln.Addr().String()))
	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// writeJSON encodes v before committing the status, so an encoding
// failure still reaches the client as a 500.
func writeJSON(rw http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(rw, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_, _ = rw.Write(append(body, '\n'))
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (w *WebServer) handleConfig(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, w.hub.ConfigSnapshot())
}

func (w *WebServer) handleChannels(rw http.ResponseWriter, _ *http.Request) {
	if w.status != nil {
		writeJSON(rw, http.StatusOK, w.status.Channels())
		return
	}
	writeJSON(rw, http.StatusOK, w.hub.Channels())
}

func (w *WebServer) handleLatest(rw http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap, ok := w.hub.Latest(name)
	if !ok {
		http.Error(rw, "no data for channel "+name, http.StatusNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}

func (w *WebServer) handleLive(rw http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debug("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	updates, cancel := w.hub.Subscribe(name)
	defer cancel()
	log := w.logger.With(logging.F("channel", name), logging.F("remote", r.RemoteAddr))
	log.Debug("live client connected")

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, ok := w.hub.Latest(name); ok {
		if err := writeSnapshot(conn, snap); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				log.Debug("live client write failed", logging.Err(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("live client disconnected")
			return
		case <-w.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}

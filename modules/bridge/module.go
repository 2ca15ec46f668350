// Package bridge exposes the signal bus over HTTP.
//
// Routes:
//
//	POST /signals/{name}  queue an emission; args come from query parameters
//	                      and an optional JSON object body
//	GET  /signals         signals with their subscriber counts
//	GET  /modules         module names, states and subscription counts
//	GET  /metrics         Prometheus exposition
//	GET  /healthz         liveness
//
// Requests arrive on server goroutines, so emissions are always queued with
// EmitDeferred and reach subscribers on the control goroutine at the start
// of the next tick.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ModuleName is the name the bridge registers under.
const ModuleName = "bridge"

// SenderHeader carries the optional sender of a posted emission.
const SenderHeader = "X-Signal-Sender"

// Module serves the HTTP bridge.
type Module struct {
	config   Config
	manager  *ctrlloop.ModuleManager
	gatherer prometheus.Gatherer

	mu       sync.Mutex
	host     ctrlloop.Host
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a bridge. A nil gatherer serves prometheus.DefaultGatherer.
func New(config Config, manager *ctrlloop.ModuleManager, gatherer prometheus.Gatherer) *Module {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Module{config: config.withDefaults(), manager: manager, gatherer: gatherer}
}

func (m *Module) Name() string { return ModuleName }

// Init binds the listener and starts serving.
func (m *Module) Init(_ context.Context, host ctrlloop.Host) error {
	if m.manager == nil {
		return ErrNilManager
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}

	m.mu.Lock()
	m.host = host
	m.listener = ln
	m.server = &http.Server{
		Handler:      m.Handler(),
		ReadTimeout:  m.config.ReadTimeout,
		WriteTimeout: m.config.WriteTimeout,
	}
	m.done = make(chan struct{})
	server, done := m.server, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		host.Logger().Info("Starting HTTP bridge", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			host.Logger().Error("HTTP bridge stopped", "error", err)
		}
	}()
	return nil
}

// Handler returns the bridge routes. It is usable without Init for tests,
// but POST /signals needs a host and answers 503 until Init has run.
func (m *Module) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.logRequests)

	r.Get("/healthz", m.handleHealth)
	r.Get("/signals", m.handleSignals)
	r.Post("/signals/{name}", m.handleEmit)
	r.Get("/modules", m.handleModules)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Addr returns the bound listen address.
func (m *Module) Addr() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return "", ErrServerNotStarted
	}
	return m.listener.Addr().String(), nil
}

// Shutdown stops accepting requests and waits for open ones to finish.
func (m *Module) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	server, done := m.server, m.done
	m.server, m.listener = nil, nil
	m.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP bridge: %w", err)
	}
	<-done
	return nil
}

func (m *Module) currentHost() ctrlloop.Host {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

func (m *Module) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if host := m.currentHost(); host != nil {
			host.Logger().Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "duration", time.Since(start))
		}
	})
}

type signalInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

type emitResponse struct {
	Signal  string `json:"signal"`
	Queued  bool   `json:"queued"`
	Pending int    `json:"pending"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (m *Module) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (m *Module) handleSignals(w http.ResponseWriter, _ *http.Request) {
	if m.manager == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNilManager)
		return
	}
	bus := m.manager.Bus()
	names := bus.Signals()
	infos := make([]signalInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, signalInfo{Name: name, Subscribers: bus.SubscriberCount(name)})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (m *Module) handleModules(w http.ResponseWriter, _ *http.Request) {
	if m.manager == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNilManager)
		return
	}
	writeJSON(w, http.StatusOK, m.manager.Modules())
}

func (m *Module) handleEmit(w http.ResponseWriter, r *http.Request) {
	host := m.currentHost()
	if host == nil {
		writeError(w, http.StatusServiceUnavailable, ErrServerNotStarted)
		return
	}

	name := chi.URLParam(r, "name")
	args, err := m.requestArgs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sender := ctrlloop.Null()
	if s := r.Header.Get(SenderHeader); s != "" {
		sender = ctrlloop.String(s)
	}

	if err := host.EmitDeferred(name, sender, args); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ctrlloop.ErrDeferredQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, emitResponse{
		Signal:  name,
		Queued:  true,
		Pending: m.manager.Bus().Pending(),
	})
}

// requestArgs merges query parameters with the JSON body. Body keys win.
// No parameters and no body yields nil args.
func (m *Module) requestArgs(r *http.Request) (ctrlloop.Args, error) {
	var args ctrlloop.Args
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if args == nil {
			args = ctrlloop.Args{}
		}
		args[key] = ctrlloop.ParseValue(values[len(values)-1])
	}

	if r.Body == nil {
		return args, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, m.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > m.config.MaxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", m.config.MaxBodyBytes)
	}
	if len(data) == 0 {
		return args, nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		return nil, errBodyNotObject
	}
	body, err := ctrlloop.ArgsOf(object)
	if err != nil {
		return nil, err
	}
	if args == nil {
		return body, nil
	}
	maps.Copy(args, body)
	return args, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

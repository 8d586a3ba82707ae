// Package statusapi exposes the registry over a small local HTTP surface so
// out-of-process callers (the desktop UI, scripts) can inspect and drive
// server lifecycles without linking the control plane. It carries no UI of
// its own: every response is the registry's plain status or result value.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/gerdsenai/optimac-control/pkg/registry"
)

// Options configure an API instance.
type Options struct {
	// Addr controls the listen address used by ListenAndServe. Defaults to
	// "127.0.0.1:8700".
	Addr string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// ShutdownTimeout bounds graceful shutdown when the context is cancelled.
	ShutdownTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8700"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return opts
}

// API serves registry status and lifecycle operations over HTTP.
type API struct {
	reg     *registry.Registry
	opts    Options
	handler http.Handler

	serverMu   sync.Mutex
	httpServer *http.Server
}

// New builds an API over the given registry. Pass nil options for defaults.
func New(reg *registry.Registry, opts *Options) *API {
	a := &API{reg: reg, opts: opts.withDefaults()}
	a.handler = cors.Default().Handler(a.routes())
	return a
}

// Handler exposes the HTTP handler, CORS included.
func (a *API) Handler() http.Handler { return a.handler }

// ListenAndServe runs the API until the context is cancelled or the server
// stops on its own.
func (a *API) ListenAndServe(ctx context.Context) error {
	a.serverMu.Lock()
	if a.httpServer != nil {
		addr := a.httpServer.Addr
		a.serverMu.Unlock()
		return fmt.Errorf("statusapi: server already running on %s", addr)
	}
	srv := &http.Server{Addr: a.opts.Addr, Handler: a.handler}
	a.httpServer = srv
	a.serverMu.Unlock()
	defer func() {
		a.serverMu.Lock()
		if a.httpServer == srv {
			a.httpServer = nil
		}
		a.serverMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", a.handleList)
	mux.HandleFunc("GET /servers/{name}", a.handleStatus)
	mux.HandleFunc("POST /servers/{name}/start", a.handleStart)
	mux.HandleFunc("POST /servers/{name}/stop", a.handleStop)
	mux.HandleFunc("POST /servers/{name}/restart", a.handleRestart)
	mux.HandleFunc("GET /servers/{name}/tools", a.handleTools)
	mux.HandleFunc("POST /servers/{name}/tools/call", a.handleToolCall)
	mux.HandleFunc("GET /servers/{name}/resources", a.handleResources)
	mux.HandleFunc("GET /servers/{name}/resources/read", a.handleResourceRead)
	return mux
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": a.reg.ListAll()})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.reg.GetStatus(r.PathValue("name"))
	if snap == nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if a.reg.GetStatus(name) == nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	ok := a.reg.Start(r.Context(), name)
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "status": a.reg.GetStatus(name)})
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !a.reg.Stop(name) {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": a.reg.GetStatus(name)})
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if a.reg.GetStatus(name) == nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	ok := a.reg.Restart(r.Context(), name)
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "status": a.reg.GetStatus(name)})
}

func (a *API) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := a.reg.ListTools(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (a *API) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"name\", \"arguments\"}")
		return
	}
	if a.reg.GetStatus(name) == nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	result := a.reg.ExecuteTool(r.Context(), name, req.Name, req.Arguments)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	resources, err := a.reg.ListResources(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (a *API) handleResourceRead(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri query parameter required")
		return
	}
	text, err := a.reg.ReadResource(r.Context(), r.PathValue("name"), uri)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contents": []map[string]string{{"type": "text", "text": text}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

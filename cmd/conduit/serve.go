package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/internal/health"
	"github.com/tidewater-ai/conduit/internal/logging"
	"github.com/tidewater-ai/conduit/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			addr := net.JoinHostPort(app.cfg.Server.Host, strconv.Itoa(app.cfg.Server.Port))
			server := &http.Server{
				Addr:              addr,
				Handler:           newHandler(app.router, app.health),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Logger.Info("gateway listening", "addr", addr, "version", version.Short())
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logging.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

// generator is the routing surface the HTTP handler needs.
type generator interface {
	Generate(ctx context.Context, req conduit.Request) (*conduit.Response, error)
}

// healthReader supplies the status endpoint.
type healthReader interface {
	SnapshotAll(ctx context.Context) ([]health.State, error)
}

func newHandler(gen generator, tracker healthReader) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)

	r.Post("/api/v1/generate", handleGenerate(gen))
	r.Get("/api/v1/status", handleStatus(tracker))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Short()})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func handleGenerate(gen generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conduit.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(conduit.NewRouteError(
				conduit.CodeInvalidRequest, fmt.Sprintf("decode request body: %v", err), err)))
			return
		}

		resp, err := gen.Generate(r.Context(), req)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStatus(tracker healthReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := tracker.SnapshotAll(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": states})
	}
}

// writeRouteError maps the routing error taxonomy onto HTTP statuses.
func writeRouteError(w http.ResponseWriter, err error) {
	re, ok := conduit.AsRouteError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch re.Code {
	case conduit.CodeInvalidRequest:
		status = http.StatusBadRequest
	case conduit.CodeAllProvidersFailed:
		status = http.StatusBadGateway
	case conduit.CodeNoAvailableProvider, conduit.CodeProviderNotConfigured:
		status = http.StatusServiceUnavailable
	case conduit.CodeDeadlineExceeded:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody(re))
}

func errorBody(re *conduit.RouteError) map[string]any {
	body := map[string]any{
		"error_kind": string(re.Code),
		"message":    re.Message,
	}
	if len(re.Attempts) > 0 {
		body["attempts"] = re.Attempts
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

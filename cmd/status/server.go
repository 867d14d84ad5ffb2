package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	middleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"

	v1 "github.com/prh-dash/dash-status/api/v1"
	"github.com/prh-dash/dash-status/internal/api"
	"github.com/prh-dash/dash-status/internal/metrics"
	"github.com/prh-dash/dash-status/internal/scheduler"
	"github.com/prh-dash/dash-status/web"
)

// runWebServer starts the HTTP server and the scheduled prober and blocks
// until ctx is cancelled or the listener fails.
func runWebServer(ctx context.Context, addr string) error {
	swagger, err := v1.GetSwagger()
	if err != nil {
		return fmt.Errorf("failed to load swagger spec: %w", err)
	}

	// Request paths are matched without a server prefix.
	swagger.Servers = nil

	metrics.RegisterMetrics()

	store, clientset, err := createRunStore(ctx)
	if err != nil {
		return err
	}
	r, cleanup, err := newRunner(store)
	if err != nil {
		return err
	}
	defer cleanup()

	server := api.NewServer(store, r)
	apiHandler := v1.HandlerFromMux(server, http.NewServeMux())
	router := createRouter(apiHandler, api.FetchHandler(r), clientset, swagger)

	s := &http.Server{
		Handler:      router,
		Addr:         addr,
		ReadTimeout:  viper.GetDuration("read_timeout"),
		WriteTimeout: viper.GetDuration("write_timeout"),
	}

	sched := scheduler.New(r.Scheduled, viper.GetDuration("schedule_interval"))
	if sched.Enabled() {
		log.Printf("Probing %d targets every %s", len(r.Targets()), viper.GetDuration("schedule_interval"))
	} else {
		log.Printf("Scheduled probing disabled")
	}
	sched.Start(ctx)
	defer sched.Stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on http://%s", addr)
		serveErr <- s.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("graceful_timeout"))
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Printf("Server stopped")
	return nil
}

// createRouter mounts the fetch trigger, health probes, metrics, docs and the
// validated runs API on one mux. clientset may be nil when the run store does
// not live in Kubernetes.
func createRouter(apiHandler, fetchHandler http.Handler, clientset kubernetes.Interface, swagger *openapi3.T) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", fetchHandler)
	// GET patterns also match HEAD; uptime checks must not start a browser.
	mux.HandleFunc("HEAD /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if clientset != nil {
			if _, err := clientset.Discovery().ServerVersion(); err != nil {
				log.Printf("Readiness check failed: %v", err)
				http.Error(w, "kubernetes api unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(web.SwaggerHTML)
	})

	mux.HandleFunc("GET /api/v1/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		data, err := swagger.MarshalJSON()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to render spec: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})

	// Use validation middleware to check all API requests against the OpenAPI schema.
	mux.Handle("/api/v1/", middleware.OapiRequestValidator(swagger)(apiHandler))

	return metrics.Middleware(mux)
}

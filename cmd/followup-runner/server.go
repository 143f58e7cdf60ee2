package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"followup-dispatcher/internal/common/logger"
	"followup-dispatcher/pkg/registry"
)

type healthServer struct {
	srv   *http.Server
	mux   *http.ServeMux
	ready atomic.Bool
	log   logger.Logger
}

func newHealthServer(addr string, log logger.Logger) *healthServer {
	h := &healthServer{log: log}

	mux := http.NewServeMux()
	h.mux = mux
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, "starting")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())

	h.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// publishActivities serves the job contracts this process implements.
func (h *healthServer) publishActivities(reg *registry.ActivityRegistry) error {
	body, err := reg.Marshal()
	if err != nil {
		return err
	}
	h.mux.HandleFunc("/activities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	return nil
}

func (h *healthServer) start() {
	go func() {
		h.log.Info("health/metrics server listening", map[string]interface{}{"addr": h.srv.Addr})
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("health/metrics server failed", map[string]interface{}{"error": err})
		}
	}()
}

func (h *healthServer) markReady() {
	h.ready.Store(true)
}

func (h *healthServer) shutdown() error {
	h.ready.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.srv.Shutdown(ctx)
}

// Package http is the operational surface any routingd instance
// exposes: /healthz for liveness, /readyz aggregating the IBUS
// transport, the audit DB pool and every named protocol instance, and
// /metrics for Prometheus.
package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// IBusStatus reports whether the IBUS consumer group has joined.
type IBusStatus interface {
	IsJoined() bool
}

// InstanceStatus reports operational readiness of one BGP/OSPF/LDP
// instance: whether its event loop is up and, where meaningful,
// whether it has at least one neighbor/adjacency/session established.
type InstanceStatus interface {
	Ready() bool
}

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	srv       *http.Server
	pool      *pgxpool.Pool
	dbChecker DBChecker
	ibus      IBusStatus
	instances map[string]InstanceStatus
	logger    *zap.Logger
}

func NewServer(addr string, pool *pgxpool.Pool, ibus IBusStatus, instances map[string]InstanceStatus, logger *zap.Logger) *Server {
	s := &Server{
		pool:      pool,
		ibus:      ibus,
		instances: instances,
		logger:    logger,
	}
	if pool != nil {
		s.dbChecker = pool
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["southbound_db"] = "error"
			allOK = false
		} else {
			checks["southbound_db"] = "ok"
		}
	} else {
		// No southbound DB configured at all is a valid deployment
		// (audit logging is optional); don't fail readiness over it.
		checks["southbound_db"] = "disabled"
	}

	if s.ibus == nil {
		// No IBUS brokers configured is a valid single-daemon
		// deployment; don't fail readiness over it.
		checks["ibus"] = "disabled"
	} else if s.ibus.IsJoined() {
		checks["ibus"] = "ok"
	} else {
		checks["ibus"] = "not_joined"
		allOK = false
	}

	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.instances[name].Ready() {
			checks["instance_"+name] = "ok"
		} else {
			checks["instance_"+name] = "not_ready"
			allOK = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

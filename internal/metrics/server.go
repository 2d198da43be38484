package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type neighborView struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewRouter serves the admin API for src:
//
//	GET  /metrics      Prometheus exposition
//	GET  /neighbors    current neighbor table
//	GET  /stats        query counters
//	POST /stats/reset  zero the counters
func NewRouter(src Source, m *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.With(m.Middleware("metrics")).Get("/metrics", m.Handler().ServeHTTP)

	r.With(m.Middleware("neighbors")).Get("/neighbors", func(w http.ResponseWriter, r *http.Request) {
		peers := src.Neighbors()
		out := make([]neighborView, 0, len(peers))
		for _, p := range peers {
			out = append(out, neighborView{Host: p.Host, Port: p.Port})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Route("/stats", func(sr chi.Router) {
		sr.Use(m.Middleware("stats"))
		sr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, src.Stats())
		})
		sr.Post("/reset", func(w http.ResponseWriter, r *http.Request) {
			src.ResetStats()
			writeJSON(w, http.StatusOK, src.Stats())
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the admin API on its own listener.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *logrus.Logger
}

func NewServer(addr string, src Source, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		http: &http.Server{
			Handler:           NewRouter(src, New(src)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: l,
		logger:   logger,
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until ctx is done, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(s.listener)
	}()
	s.logger.WithField("addr", s.Addr()).Info("Admin server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.logger.Info("Admin server stopped")
	return nil
}

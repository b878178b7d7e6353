// Package api serves run reports, live task status and event streams over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/observer"
)

// Store is the read side of the run archive
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListTasks(ctx context.Context, runID string) ([]*domain.AnalysisTask, error)
	GetTask(ctx context.Context, runID, taskID string) (*domain.AnalysisTask, error)
}

// Canceller stops a running task by ID
type Canceller interface {
	Cancel(taskID string) bool
}

// EventSource hands out event subscriptions
type EventSource interface {
	Subscribe() (<-chan domain.Event, func())
}

// Options configures a Server. Canceller, Events and Observer are optional;
// without them the server only reports archived runs.
type Options struct {
	Addr      string
	Store     Store
	Canceller Canceller
	Events    EventSource
	Observer  *observer.Observer
	Logger    *zap.Logger
}

// Server is the HTTP API server
type Server struct {
	store    Store
	cancel   Canceller
	events   EventSource
	observer *observer.Observer
	addr     string
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		store:    opts.Store,
		cancel:   opts.Canceller,
		events:   opts.Events,
		observer: opts.Observer,
		addr:     opts.Addr,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: opts.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/runs", s.listRunsHandler())
	s.mux.HandleFunc("GET /api/runs/{run}", s.getRunHandler())
	s.mux.HandleFunc("GET /api/runs/{run}/tasks/{analysis}/{ordinal}", s.getTaskHandler())
	s.mux.HandleFunc("POST /api/tasks/{analysis}/{ordinal}/cancel", s.cancelTaskHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
	s.mux.HandleFunc("GET /api/ws", s.wsHandler())
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web api listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

// writeJSONStatus sets the headers before the status line goes out.
func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}

package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/version"
	"github.com/sirupsen/logrus"
)

// Source is what the status endpoints report on.
type Source interface {
	Latest() *coordinator.Snapshot
	ConnectionState() coordinator.ConnectionState
}

type Server struct {
	source Source
	hub    *Hub
	now    func() time.Time
}

func New(source Source) *Server {
	return &Server{
		source: source,
		hub:    NewHub(),
		now:    time.Now,
	}
}

// Broadcast sends snap to all websocket clients.
func (s *Server) Broadcast(snap *coordinator.Snapshot) {
	s.hub.Broadcast(snap)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.snapshot)
	mux.HandleFunc("/api/connection", s.connection)
	mux.HandleFunc("/api/ws", s.hub.serve(s.source))
	return mux
}

// ListenAndServe serves the status endpoints until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, wg *sync.WaitGroup, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		logrus.Infof("status: listening on %s", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("status: error serving: %s", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if err != nil {
			logrus.Errorf("status: error shutting down: %s", err)
		}
	}()
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.source.Latest()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no data yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type connectionResponse struct {
	coordinator.ConnectionState
	LastSuccessAge *float64     `json:"lastSuccessAgeSeconds"`
	Version        version.Info `json:"version"`
}

func (s *Server) connection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cs := s.source.ConnectionState()
	resp := connectionResponse{
		ConnectionState: cs,
		Version:         version.Current,
	}
	if cs.LastSuccessful != nil {
		age := s.now().Sub(cs.LastSuccessfulAt).Seconds()
		resp.LastSuccessAge = &age
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logrus.Errorf("status: error encoding response: %s", err)
	}
}

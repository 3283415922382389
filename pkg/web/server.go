// Package web provides a read-only HTTP status endpoint and an SSE event
// stream for a supervised game server.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/umputun/foreman/pkg/gamelog"
	"github.com/umputun/foreman/pkg/launcher"
	"github.com/umputun/foreman/pkg/supervisor"
)

// replayerSize is the maximum number of events kept for replay to late-joining clients.
const replayerSize = 1000

// eventsTopic is the SSE topic used for all published events.
const eventsTopic = "events"

// allEventsReplayer wraps FiniteReplayer to replay ALL stored events when
// LastEventID is empty. the standard FiniteReplayer only replays events after
// a specific ID, which doesn't work for first-time connections.
//
// implementation note: FiniteReplayer assigns monotonically increasing integer
// IDs as strings starting at "1". by setting LastEventID to "0" when empty, we
// effectively request replay of all stored events.
type allEventsReplayer struct {
	inner *sse.FiniteReplayer
}

// Put delegates to the inner replayer.
func (r *allEventsReplayer) Put(message *sse.Message, topics []string) (*sse.Message, error) {
	return r.inner.Put(message, topics) //nolint:wrapcheck // pass through replayer errors as-is
}

// Replay replays events. if LastEventID is empty, replays from ID "0" (all events).
func (r *allEventsReplayer) Replay(subscription sse.Subscription) error {
	if subscription.LastEventID.String() == "" {
		subscription.LastEventID = sse.ID("0")
	}
	return r.inner.Replay(subscription) //nolint:wrapcheck // pass through replayer errors as-is
}

// StatsProvider reports resource usage of the supervised process.
type StatsProvider interface {
	Stats(ctx context.Context) (launcher.Stats, error)
}

// Config holds web server configuration.
type Config struct {
	Port     int // port to listen on, loopback only
	GamePort int // game server UDP port, shown in status
}

// Server exposes the supervised server's state over HTTP.
type Server struct {
	cfg   Config
	sup   *supervisor.Supervisor
	stats StatsProvider
	sse   *sse.Server
	srv   *http.Server

	started atomic.Int64 // unix nano of supervisor start, 0 until running
}

// StatusResponse is the JSON body of /api/status.
type StatusResponse struct {
	State      string          `json:"state"`
	Version    string          `json:"version,omitempty"`
	Port       int             `json:"port,omitempty"`
	UptimeSec  int64           `json:"uptime_sec,omitempty"`
	Stats      *launcher.Stats `json:"stats,omitempty"`
	StatsError string          `json:"stats_error,omitempty"`
}

// NewServer creates a web server wired to the supervisor's event bus.
// stats may be nil, in which case process stats are omitted from status.
func NewServer(cfg Config, sup *supervisor.Supervisor, stats StatsProvider) *Server {
	finiteReplayer, err := sse.NewFiniteReplayer(replayerSize, true)
	if err != nil {
		// FiniteReplayer only returns error for count < 2, which won't happen
		log.Printf("[WARN] failed to create replayer: %v", err)
		finiteReplayer = nil
	}

	var replayer sse.Replayer
	if finiteReplayer != nil {
		replayer = &allEventsReplayer{inner: finiteReplayer}
	}

	sseServer := &sse.Server{
		Provider: &sse.Joe{Replayer: replayer},
		OnSession: func(_ http.ResponseWriter, _ *http.Request) ([]string, bool) {
			return []string{eventsTopic}, true
		},
	}

	s := &Server{cfg: cfg, sup: sup, stats: stats, sse: sseServer}
	s.subscribe(sup.Bus())
	return s
}

// subscribe attaches SSE publishers to the supervisor's event bus.
func (s *Server) subscribe(bus *supervisor.Bus) {
	bus.Subscribe(supervisor.EventLog, func(v any) {
		rec, ok := v.(gamelog.Record)
		if !ok {
			return
		}
		s.publish("log", map[string]string{
			"source":   rec.Source,
			"category": string(rec.Category),
			"message":  rec.Message,
		})
	})

	bus.Subscribe(supervisor.EventState, func(v any) {
		st, ok := v.(supervisor.State)
		if !ok {
			return
		}
		if st == supervisor.StateRunning {
			s.started.Store(time.Now().UnixNano())
		}
		s.publish("state", map[string]string{"state": string(st)})
	})

	bus.Subscribe(supervisor.EventSave, func(v any) {
		path, ok := v.(string)
		if !ok {
			return
		}
		s.publish("save", map[string]string{"path": path})
	})
}

// publish encodes payload as JSON and sends it to all connected SSE clients.
// failures are logged, a broken dashboard must not disturb the supervised server.
func (s *Server) publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WARN] failed to encode %s event: %v", eventType, err)
		return
	}
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(string(data))
	if err := s.sse.Publish(msg, eventsTopic); err != nil {
		log.Printf("[WARN] failed to publish %s event: %v", eventType, err)
	}
}

// Start begins listening for HTTP requests.
// blocks until the server is stopped or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/events", s.sse)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http server: %w", err)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// handleStatus serves the current server state as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := s.status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode status: %v", err)
	}
}

// status assembles the current status snapshot.
func (s *Server) status(ctx context.Context) StatusResponse {
	resp := StatusResponse{
		State:   string(s.sup.State()),
		Version: s.sup.Version(),
		Port:    s.cfg.GamePort,
	}

	if started := s.started.Load(); started > 0 && s.sup.State() == supervisor.StateRunning {
		resp.UptimeSec = int64(time.Since(time.Unix(0, started)).Seconds())
	}

	if s.stats != nil {
		stats, err := s.stats.Stats(ctx)
		switch {
		case errors.Is(err, launcher.ErrNotRunning):
			// no stats while the process is down
		case err != nil:
			resp.StatsError = err.Error()
		default:
			resp.Stats = &stats
		}
	}
	return resp
}

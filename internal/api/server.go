// Package api exposes the controller/runtime-facing boundary of §6 as a
// small HTTP+WebSocket demo service: triggering stats pulls, accepting the
// controller's flow_removed/flow_stats callbacks, and streaming FwdBucket
// deliveries for interactive inspection. This is a harness around the core
// packages, not a full front-end — the real controller integration and
// discovered topology stay external collaborators.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/marcelodevops/pyretic/internal/bucket"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/logging"
)

// ServerConfig holds HTTP server timeouts, matching the teacher's
// DefaultServerConfig shape.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig returns conservative demo-server timeouts.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Server is the HTTP+WebSocket API described in spec.md §6. CountBuckets
// are tracked here rather than in bucket.Registry: that registry's Deliver
// path is scoped to buckets that receive raw packets (FwdBucket,
// PathBucket), while CountBucket is addressed only by ID for stats-pull and
// controller-callback routing.
type Server struct {
	mu           sync.RWMutex
	countBuckets map[string]*bucket.CountBucket

	hub    *eventHub
	logger *logging.Logger
}

// NewServer builds a Server with no buckets registered yet; call
// RegisterCountBucket for each bucket pulls/callbacks should route to.
func NewServer(logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{countBuckets: make(map[string]*bucket.CountBucket), hub: newEventHub(), logger: logger}
}

// RegisterCountBucket makes cb addressable by id through /buckets/{id}/pull,
// /flow/removed, and /flow/stats.
func (s *Server) RegisterCountBucket(id string, cb *bucket.CountBucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countBuckets[id] = cb
}

func (s *Server) countBucket(id string) (*bucket.CountBucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb, ok := s.countBuckets[id]
	return cb, ok
}

// Router builds the mux.Router serving this Server's endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/buckets/{id}/pull", s.handlePull).Methods(http.MethodPost)
	r.HandleFunc("/buckets/pull", s.handlePullAll).Methods(http.MethodPost)
	r.HandleFunc("/flow/removed", s.handleFlowRemoved).Methods(http.MethodPost)
	r.HandleFunc("/flow/stats", s.handleFlowStats).Methods(http.MethodPost)
	r.HandleFunc("/flow/existing_stats", s.handleExistingStats).Methods(http.MethodPost)
	r.HandleFunc("/events", s.handleEvents)
	return r
}

// ListenAndServe starts an http.Server on addr using cfg's timeouts.
func (s *Server) ListenAndServe(addr string, cfg ServerConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.logger.Info("api: listening", "addr", addr)
	return srv.ListenAndServe()
}

// Hub exposes the event broadcaster so callers can register a bucket's
// FwdBucket callback to forward deliveries onto connected WebSocket clients.
func (s *Server) Hub() *eventHub { return s.hub }

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cb, ok := s.countBucket(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bucket", nil)
		return
	}
	cb.PullStats()
	writeJSON(w, http.StatusAccepted, map[string]string{"bucket": id, "status": "pull_issued"})
}

// handlePullAll issues PullStats against every registered bucket
// concurrently, joining the results with errgroup so one bucket's
// runtime call can't stall the others.
func (s *Server) handlePullAll(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.countBuckets))
	cbs := make([]*bucket.CountBucket, 0, len(s.countBuckets))
	for id, cb := range s.countBuckets {
		ids = append(ids, id)
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()

	var g errgroup.Group
	for _, cb := range cbs {
		cb := cb
		g.Go(func() error {
			cb.PullStats()
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusAccepted, map[string]any{"buckets": ids, "status": "pull_issued"})
}

type flowRemovedRequest struct {
	Switch      string `json:"switch"`
	Match       string `json:"match"`
	Priority    int    `json:"priority"`
	Version     int    `json:"version"`
	PacketCount uint64 `json:"packet_count"`
	ByteCount   uint64 `json:"byte_count"`
	BucketID    string `json:"bucket_id"`
}

func (s *Server) handleFlowRemoved(w http.ResponseWriter, r *http.Request) {
	var req flowRemovedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err)
		return
	}
	cb, ok := s.countBucket(req.BucketID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bucket", nil)
		return
	}
	if err := cb.HandleFlowRemoved(req.Match, req.Priority, req.Version, req.PacketCount, req.ByteCount); err != nil {
		writeError(w, http.StatusConflict, "flow_removed rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type flowStatsEntry struct {
	Match       string `json:"match"`
	Priority    int    `json:"priority"`
	Version     int    `json:"version"`
	PacketCount uint64 `json:"packet_count"`
	ByteCount   uint64 `json:"byte_count"`
}

type flowStatsRequest struct {
	Switch   string           `json:"switch"`
	BucketID string           `json:"bucket_id"`
	Entries  []flowStatsEntry `json:"entries"`
}

func (s *Server) handleFlowStats(w http.ResponseWriter, r *http.Request) {
	var req flowStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err)
		return
	}
	cb, ok := s.countBucket(req.BucketID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bucket", nil)
		return
	}
	entries := make([]bucket.StatsEntry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = bucket.StatsEntry{
			MatchStr:    e.Match,
			Priority:    e.Priority,
			Version:     e.Version,
			PacketCount: e.PacketCount,
			ByteCount:   e.ByteCount,
		}
	}
	cb.HandleFlowStatsReply(req.Switch, entries)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExistingStats is the controller's reply to the bootstrap query a
// bucket issues for switch-side rules that predate it (spec.md §4.4 step
// 6, bucket.CountBucket.HandleExistingStatsReply): without this route,
// newBucket never clears and the bucket's bootstrap query re-fires on
// every reinstall instead of exactly once.
func (s *Server) handleExistingStats(w http.ResponseWriter, r *http.Request) {
	var req flowStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err)
		return
	}
	cb, ok := s.countBucket(req.BucketID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bucket", nil)
		return
	}
	entries := make([]bucket.StatsEntry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = bucket.StatsEntry{
			MatchStr:    e.Match,
			Priority:    e.Priority,
			Version:     e.Version,
			PacketCount: e.PacketCount,
			ByteCount:   e.ByteCount,
		}
	}
	cb.HandleExistingStatsReply(req.Switch, entries)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.serveWS(w, r, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := map[string]any{"error": message}
	if err != nil {
		resp["details"] = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// event is a FwdBucket delivery rendered for /events subscribers.
type event struct {
	BucketID string         `json:"bucket_id"`
	Fields   map[string]any `json:"fields"`
}

// Forwarder adapts a *bucket.FwdBucket's packet callback into a broadcast
// onto every connected WebSocket client, letting a path query's capture
// bucket stream matches for interactive inspection.
func (s *Server) Forwarder(bucketID string) func(pkt header.Packet) {
	return func(pkt header.Packet) {
		m, ok := pkt.(header.MapPacket)
		if !ok {
			return
		}
		s.hub.broadcast(event{BucketID: bucketID, Fields: m})
	}
}

// Package api serves the published collections, job status and metrics over
// HTTP. It is read-only.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/queue.report/internal/db"
	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/schedule"
	"github.com/banshee-data/queue.report/internal/version"
)

// Records per collection returned by last_hour: one hour of 5s headcount
// samples, or of per-minute queue-time records.
const (
	HeadcountsPerHour = 720
	QueueTimesPerHour = 60

	recentRunsPerJob = 10
)

var collectionRe = regexp.MustCompile(`^(pplno|qtd)_[a-z0-9_]+$`)

// RecordStore is the read side of the record store. *db.DB implements it.
type RecordStore interface {
	Collections(ctx context.Context) ([]string, error)
	LatestHeadcounts(ctx context.Context, collection string, limit int) ([]probe.HeadcountSample, error)
	LatestQueueTimes(ctx context.Context, collection string, limit int) ([]probe.QueueTimeRecord, error)
	RecentJobRuns(ctx context.Context, job string, limit int) ([]db.JobRun, error)
}

// StatusProvider reports the state of an in-process job.
type StatusProvider interface {
	Status() schedule.Status
}

type Server struct {
	store RecordStore
	jobs  []string
	live  []StatusProvider
}

// NewServer returns a server over store. jobs names the persisted job runs
// reported by /api/status; live adds jobs running in this process.
func NewServer(store RecordStore, jobs []string, live ...StatusProvider) *Server {
	return &Server{store: store, jobs: jobs, live: live}
}

// Routes returns the router for every endpoint.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	r.HandleFunc("/api/collections", s.listCollections).Methods(http.MethodGet)
	r.HandleFunc("/api/records/{collection}/latest", s.latestRecord).Methods(http.MethodGet)
	r.HandleFunc("/api/records/{collection}/last_hour", s.lastHour).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.showStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration, and counts the
// request by route template.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{w, http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		monitoring.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.statusCode)).Inc()
		log.Printf("[%d] %s %s %.2fms", rec.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Collections(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list collections: %v", err))
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

// recordsResponse wraps records newest first.
type recordsResponse struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
	Records    any    `json:"records"`
}

func (s *Server) latestRecord(w http.ResponseWriter, r *http.Request) {
	s.serveRecords(w, r, 1, 1)
}

func (s *Server) lastHour(w http.ResponseWriter, r *http.Request) {
	s.serveRecords(w, r, HeadcountsPerHour, QueueTimesPerHour)
}

func (s *Server) serveRecords(w http.ResponseWriter, r *http.Request, headcountLimit, queueLimit int) {
	coll := mux.Vars(r)["collection"]
	if !collectionRe.MatchString(coll) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid collection %q", coll))
		return
	}

	resp := recordsResponse{Collection: coll}
	if probe.IsHeadcountCollection(coll) {
		recs, err := s.store.LatestHeadcounts(r.Context(), coll, headcountLimit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read %s: %v", coll, err))
			return
		}
		if recs == nil {
			recs = []probe.HeadcountSample{}
		}
		resp.Count, resp.Records = len(recs), recs
	} else {
		recs, err := s.store.LatestQueueTimes(r.Context(), coll, queueLimit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read %s: %v", coll, err))
			return
		}
		if recs == nil {
			recs = []probe.QueueTimeRecord{}
		}
		resp.Count, resp.Records = len(recs), recs
	}
	if resp.Count == 0 {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no records in %s", coll))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Version    version.Info           `json:"version"`
	Jobs       []schedule.Status      `json:"jobs"`
	RecentRuns map[string][]db.JobRun `json:"recent_runs"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:    version.Current(),
		Jobs:       make([]schedule.Status, 0, len(s.live)),
		RecentRuns: make(map[string][]db.JobRun, len(s.jobs)),
	}
	for _, p := range s.live {
		resp.Jobs = append(resp.Jobs, p.Status())
	}
	for _, job := range s.jobs {
		runs, err := s.store.RecentJobRuns(r.Context(), job, recentRunsPerJob)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read runs of %s: %v", job, err))
			return
		}
		if runs == nil {
			runs = []db.JobRun{}
		}
		resp.RecentRuns[job] = runs
	}
	writeJSON(w, http.StatusOK, resp)
}

// Package server provides the HTTP server for the keypoint extraction service.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/vsl/internal/server/api"
	"github.com/ayusman/vsl/internal/server/middleware"
	"github.com/ayusman/vsl/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is reported by the info endpoint.
const Version = "1.0.0"

// Config holds the server configuration.
type Config struct {
	APIPrefix     string
	StaticDir     string
	Store         *store.Store
	Keypoints     KeypointService
	Fetcher       api.VideoFetcher
	UploadDir     string
	MaxUploadSize int64
	RateLimit     float64
	RateBurst     int
	WSReadTimeout time.Duration
	Logger        logrus.FieldLogger
}

// KeypointService covers both the batch handlers and the streaming session.
type KeypointService interface {
	api.KeypointService
	RealtimeService
}

// Server represents the HTTP server for the application.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	start   time.Time
	routes  []string
	stream  *KeypointStreamHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.APIPrefix == "" {
		config.APIPrefix = "/api/v1"
	}
	config.APIPrefix = "/" + strings.Trim(config.APIPrefix, "/")
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	s.handler = middleware.RequestID(middleware.Logging(config.Logger)(s.mux))
	return s
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
	s.routes = append(s.routes, pattern)
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	prefix := s.config.APIPrefix

	s.handle("GET /api/health", http.HandlerFunc(s.handleHealth))
	s.handle("GET "+prefix+"/info", http.HandlerFunc(s.handleInfo))

	if s.config.Keypoints != nil {
		kp := api.NewKeypointsHandler(api.KeypointsConfig{
			Service:       s.config.Keypoints,
			Store:         s.config.Store,
			Fetcher:       s.config.Fetcher,
			UploadDir:     s.config.UploadDir,
			MaxUploadSize: s.config.MaxUploadSize,
			Logger:        s.config.Logger,
		})
		limiter := middleware.NewRateLimiter(s.config.RateLimit, s.config.RateBurst, s.config.Logger)

		s.handle("POST "+prefix+"/vsl/keypoints/video", limiter.Limit(http.HandlerFunc(kp.ProcessVideo)))
		s.handle("POST "+prefix+"/vsl/keypoints/frame", http.HandlerFunc(kp.ProcessFrame))
		s.stream = NewKeypointStreamHandler(s.config.Keypoints, s.config.WSReadTimeout, s.config.Logger)
		s.handle("GET "+prefix+"/vsl/keypoints/ws", s.stream)
	}

	// Register job history routes if Store is configured
	if s.config.Store != nil {
		jobs := api.NewJobsHandler(s.config.Store)
		s.handle("GET "+prefix+"/vsl/keypoints/jobs", http.HandlerFunc(jobs.List))
		s.handle("GET "+prefix+"/vsl/keypoints/jobs/{id}", http.HandlerFunc(jobs.Get))
		s.handle("DELETE "+prefix+"/vsl/keypoints/jobs/{id}", http.HandlerFunc(jobs.Delete))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// Shutdown closes live keypoint streams. http.Server.Shutdown does not
// wait for hijacked websocket connections, so call this after it.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleInfo describes the service and its endpoints.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      "VSL Keypoint Service",
		"version":   Version,
		"endpoints": s.routes,
	})
}

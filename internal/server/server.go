// Package server provides the HTTP server for facelab: the composited overlay
// stream, the detection websockets and the control API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App
	Logger    *zap.SugaredLogger
}

// Server represents the HTTP server for the facelab application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *zap.SugaredLogger

	detections *Hub
	clouds     *Hub
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		backend := api.NewBackendHandler(a, s.logger.Named("api"))
		timing := api.NewTimingHandler(a, s.logger.Named("api"))
		params := api.NewParamsHandler(a, s.logger.Named("api"))
		s.mux.Handle("/api/backend", backend)
		s.mux.Handle("/api/timing", timing)
		s.mux.Handle("/api/timings", timing)
		s.mux.Handle("/api/params/", params)

		s.detections = NewHub(s.logger.Named("detections"))
		s.clouds = NewHub(s.logger.Named("pointcloud"))
		s.mux.Handle("/api/detections", s.detections)
		s.mux.Handle("/api/pointcloud", s.clouds)
		a.OnDetected(s.publishDetections)
		a.OnPointCloud(s.publishPointCloud)

		if a.Camera() != nil {
			s.mux.Handle("/api/stream", NewStreamHandler(a.Camera(), a.Overlay, a.Size(), s.logger.Named("stream")))
		}
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if a := s.config.App; a != nil {
		st := a.Status()
		response["backend"] = st.Kind
		response["state"] = st.State
		response["cycles"] = st.Cycles
		if st.Error != "" {
			response["error"] = st.Error
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// DetectionMessage is the payload broadcast on /api/detections.
type DetectionMessage struct {
	Type       detector.Kind      `json:"type"`
	Detections detector.Detection `json:"detections"`
	Timestamp  int64              `json:"timestamp"`
}

// PointCloudMessage is the payload broadcast on /api/pointcloud.
type PointCloudMessage struct {
	Points    [][3]float64 `json:"points"`
	Timestamp int64        `json:"timestamp"`
}

func (s *Server) publishDetections(kind detector.Kind, det detector.Detection) {
	if s.detections.Len() == 0 {
		return
	}
	s.detections.Broadcast(DetectionMessage{
		Type:       kind,
		Detections: det,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (s *Server) publishPointCloud(points []r3.Vector) {
	if s.clouds.Len() == 0 {
		return
	}
	msg := PointCloudMessage{
		Points:    make([][3]float64, len(points)),
		Timestamp: time.Now().UnixMilli(),
	}
	for i, p := range points {
		msg.Points[i] = [3]float64{p.X, p.Y, p.Z}
	}
	s.clouds.Broadcast(msg)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.detections.CloseAll()
	s.clouds.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/metrics"
	"github.com/audiolibrelab/wavcapture/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxUploadSize bounds the multipart body accepted by /api/convert
const maxUploadSize = 64 << 20

// Options configures the control server
type Options struct {
	Port     string
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server exposes the capture service over HTTP for a local UI
type Server struct {
	service  service.Service
	port     string
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	server   *http.Server
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message string `json:"message"`
}

// DevicesResponse represents the JSON response for devices endpoint
type DevicesResponse struct {
	Devices  []audio.Device `json:"devices"`
	Selected string         `json:"selected"`
}

// ConfigResponse contains the resolved configuration for the UI
type ConfigResponse struct {
	Profile       string `json:"profile"`
	Device        string `json:"device,omitempty"`
	Source        string `json:"source"`
	Backend       string `json:"backend"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	Codec         string `json:"codec"`
	OutputDir     string `json:"output_dir"`
	KeepRaw       bool   `json:"keep_raw"`
	MeterMs       int    `json:"meter_interval_ms"`
	Language      string `json:"language,omitempty"`
	Model         string `json:"model"`
	StreamingMode string `json:"streaming_mode"`
}

// ResultResponse wraps a written file for stop and convert
type ResultResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  *service.Result `json:"result"`
}

// New creates a new control server around svc
func New(svc service.Service, opts Options) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.Metrics == nil {
		reg := prometheus.NewRegistry()
		opts.Metrics = metrics.NewMetrics(reg)
		opts.Gatherer = reg
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		service:  svc,
		port:     opts.Port,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
	}
	s.server = &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.withMetrics("/", s.handleIndex))
	mux.HandleFunc("/api/status", s.withMetrics("/api/status", s.handleStatus))
	mux.HandleFunc("/api/devices", s.withMetrics("/api/devices", s.handleDevices))
	mux.HandleFunc("/api/config", s.withMetrics("/api/config", s.handleConfig))
	mux.HandleFunc("/api/config/select", s.withMetrics("/api/config/select", s.handleSelectProfile))
	mux.HandleFunc("/api/record/start", s.withMetrics("/api/record/start", s.handleStartRecording))
	mux.HandleFunc("/api/record/stop", s.withMetrics("/api/record/stop", s.handleStopRecording))
	mux.HandleFunc("/api/record/cancel", s.withMetrics("/api/record/cancel", s.handleCancelRecording))
	mux.HandleFunc("/api/convert", s.withMetrics("/api/convert", s.handleConvert))
	mux.HandleFunc("/api/files/download/", s.withMetrics("/api/files/download/{name}", s.handleFileDownload))

	// Hijacked connections cannot pass through the metrics wrapper
	mux.HandleFunc("/ws/levels", s.handleLevels)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start starts the web server and blocks until it stops
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting WavCapture control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and cancels any active recording
func (s *Server) Shutdown(ctx context.Context) error {
	s.service.CancelRecording()
	return s.server.Shutdown(ctx)
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)
		if ww.statusCode >= 500 {
			s.metrics.RecordHTTPError(r.Method, endpoint, "server_error")
		} else if ww.statusCode >= 400 {
			s.metrics.RecordHTTPError(r.Method, endpoint, "client_error")
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// handleIndex serves a minimal page listing the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>WavCapture</title>
</head>
<body>
    <h1>WavCapture</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>GET /api/status - Recording status</li>
        <li>GET /api/devices - Capture devices</li>
        <li>GET /api/config - Resolved configuration</li>
        <li>POST /api/config/select - Switch profile (profile=name)</li>
        <li>POST /api/record/start - Start recording (device=id)</li>
        <li>POST /api/record/stop - Stop and write WAV (name=optional)</li>
        <li>POST /api/record/cancel - Discard recording</li>
        <li>POST /api/convert - Normalize an uploaded file (multipart field "file")</li>
        <li>GET /api/files/download/{name} - Download a written file</li>
        <li>GET /ws/levels - Live input levels</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// handleStatus returns the current recording status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.GetStatus()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  status,
		Message: generateStatusMessage(status),
	})
}

// handleDevices lists the capture devices of the active backend
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	devices, err := s.service.ListDevices()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to list devices: %v", err),
			"operation", "list_devices")
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, DevicesResponse{
		Devices:  devices,
		Selected: s.service.GetConfig().DeviceSource(),
	})
}

// handleConfig returns the resolved configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.service.GetConfig()
	writeJSON(w, http.StatusOK, ConfigResponse{
		Profile:       cfg.Profile,
		Device:        cfg.Device.ID,
		Source:        cfg.DeviceSource(),
		Backend:       cfg.BackendName(),
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		Codec:         cfg.Audio.Codec,
		OutputDir:     cfg.Output.Directory,
		KeepRaw:       cfg.Output.KeepRaw,
		MeterMs:       cfg.Meter.IntervalMs,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
		StreamingMode: cfg.Transcription.StreamingMode,
	})
}

// handleSelectProfile switches the active profile
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	profile := r.FormValue("profile")
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name is required")
		return
	}

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("Failed to select profile: %v", err),
			"profile", profile)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile '%s' selected", profile),
		"profile": profile,
	})
}

// handleStartRecording acquires the device and starts capture
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	device := r.FormValue("device")
	if err := s.service.StartRecording(r.Context(), device); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording",
			"device", device)
		return
	}

	status := s.service.GetStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": generateStatusMessage(status),
		"state":   status.State,
	})
}

// handleStopRecording stops capture and writes the normalized file
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := s.service.StopRecording(r.Context(), r.FormValue("name"))
	if errors.Is(err, audio.ErrEmptyCapture) {
		slog.Info("Stop produced no audio")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	writeJSON(w, http.StatusOK, ResultResponse{
		Success: true,
		Message: "Recording stopped",
		Result:  result,
	})
}

// handleCancelRecording discards the current recording
func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	s.service.CancelRecording()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording cancelled",
	})
}

// handleConvert normalizes an uploaded audio file
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse multipart form", "error", err)
		return
	}

	file, handler, err := r.FormFile("file")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to read uploaded file", "error", err)
		return
	}

	name := handler.Filename
	if override := r.FormValue("name"); override != "" {
		name = override
	}

	result, err := s.service.Convert(r.Context(), name, data)
	if err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to convert %s: %v", name, err),
			"operation", "convert",
			"file", name)
		return
	}

	writeJSON(w, http.StatusOK, ResultResponse{
		Success: true,
		Message: fmt.Sprintf("Converted %s", name),
		Result:  result,
	})
}

// handleFileDownload serves a WAV file or metadata sidecar from the output directory
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	var contentType string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		contentType = audio.ContentTypeWAV
	case ".json":
		contentType = "application/json"
	default:
		http.Error(w, "File type not supported", http.StatusForbidden)
		return
	}

	filePath := filepath.Join(s.service.GetConfig().Output.Directory, filename)
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// requireMethod sends a JSON 405 unless r uses method
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

// statusForError maps service errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrUnsupportedAudioFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, audio.ErrEmptyCapture):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audio.ErrCaptureCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func generateStatusMessage(status service.Status) string {
	switch status.State {
	case audio.StateIdle:
		if status.LastError != "" {
			return status.LastError
		}
		return "Ready to record"
	case audio.StateArmed:
		return "Acquiring input device..."
	case audio.StateRecording:
		return fmt.Sprintf("Recording %s", status.Elapsed)
	case audio.StateStopped:
		return "Finalizing recording..."
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= 500 {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

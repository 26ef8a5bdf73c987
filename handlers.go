package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aicamera/circle-detection-service/capture"
	"github.com/aicamera/circle-detection-service/detections"
	"github.com/aicamera/circle-detection-service/models"
	"github.com/aicamera/circle-detection-service/monitor"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type AppState struct {
	Mode           string
	ModelPath      string
	MaxUploadBytes int64
	Pool           *DetectorPool
	Metrics        *monitor.Metrics
	Snapshot       capture.Source
	Log            *zap.Logger
}

type DetectionResponse struct {
	RequestID string          `json:"request_id"`
	Count     int             `json:"count"`
	Circles   []models.Circle `json:"circles"`
	Message   string          `json:"message"`
}

type ErrorResponse struct {
	RequestID string          `json:"request_id,omitempty"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Details   string          `json:"details,omitempty"`
	Circles   []models.Circle `json:"circles"`
}

// detectFailure carries the transport mapping of a failed detection.
type detectFailure struct {
	status int
	code   string
	err    error
}

func (f *detectFailure) Error() string {
	return f.err.Error()
}

func (f *detectFailure) Unwrap() error {
	return f.err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 14,
	// Overlay clients connect from the operator's machine.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *AppState) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/detect/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
}

func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: uuid.NewString()}

	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}
	imgBytes, err := readImagePayload(r, s.MaxUploadBytes)
	if err != nil {
		s.observe("/detect", "invalid_request")
		s.sendErrorResponse(w, timings.RequestID, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	img, err := detections.DecodeImage(imgBytes)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		s.observe("/detect", "invalid_image")
		s.sendErrorResponse(w, timings.RequestID, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	s.respond(r.Context(), w, "/detect", img, timings, startTotal)
}

func (s *AppState) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: uuid.NewString()}

	if s.Snapshot == nil {
		s.observe("/detect/snapshot", "no_source")
		s.sendErrorResponse(w, timings.RequestID, "no_source", capture.ErrNoSource.Error(), http.StatusNotFound)
		return
	}

	decodeStart := time.Now()
	img, err := s.Snapshot.Frame(r.Context())
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		s.observe("/detect/snapshot", "capture_error")
		s.sendErrorResponse(w, timings.RequestID, "capture_error", err.Error(), http.StatusBadGateway)
		return
	}

	s.respond(r.Context(), w, "/detect/snapshot", img, timings, startTotal)
}

func (s *AppState) respond(ctx context.Context, w http.ResponseWriter, route string, img image.Image, timings *models.ProcessingTimings, startTotal time.Time) {
	circles, err := s.detect(ctx, img, timings)
	timings.Total = time.Since(startTotal)
	s.logTimings(timings)

	if err != nil {
		var failure *detectFailure
		if !errors.As(err, &failure) {
			failure = &detectFailure{status: http.StatusInternalServerError, code: "processing_error", err: err}
		}
		s.observe(route, failure.code)
		s.writeJSON(w, failure.status, newErrorResponse(timings.RequestID, failure.code, failure.err.Error(), circles))
		return
	}

	s.observe(route, "ok")
	s.writeJSON(w, http.StatusOK, newDetectionResponse(timings.RequestID, circles))
}

// detect runs one frame on a pooled detector. A detector that panics is
// discarded instead of returned to the pool.
func (s *AppState) detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (circles []models.Circle, err error) {
	d, err := s.Pool.Acquire(ctx)
	if err != nil {
		return []models.Circle{}, &detectFailure{status: http.StatusServiceUnavailable, code: "session_error", err: err}
	}
	s.updatePoolGauge()

	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("detector panic recovered", zap.String("request_id", timings.RequestID), zap.Any("panic", r))
			s.Pool.Discard(d)
			s.updatePoolGauge()
			circles = []models.Circle{}
			err = &detectFailure{
				status: http.StatusInternalServerError,
				code:   "processing_error",
				err:    fmt.Errorf("detector panic: %v", r),
			}
		}
	}()

	circles, err = d.Detect(img, timings)
	s.Pool.Release(d)
	s.updatePoolGauge()

	if err != nil {
		if errors.Is(err, detections.ErrEncoding) {
			return circles, &detectFailure{status: http.StatusBadRequest, code: "invalid_image", err: err}
		}
		return circles, &detectFailure{status: http.StatusInternalServerError, code: "processing_error", err: err}
	}
	if s.Metrics != nil {
		s.Metrics.ObserveCircles(circles)
	}
	return circles, nil
}

// handleStream serves the overlay client: every binary message is an encoded
// frame, every text message a base64 frame, and every frame gets one JSON
// reply.
func (s *AppState) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if s.MaxUploadBytes > 0 {
		conn.SetReadLimit(s.MaxUploadBytes)
	}

	connID := uuid.NewString()
	s.Log.Info("stream client connected", zap.String("conn_id", connID), zap.String("remote", r.RemoteAddr))
	defer s.Log.Info("stream client disconnected", zap.String("conn_id", connID))

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Debug("stream read ended", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}

		reply, _ := s.encodeReply(s.streamFrame(r.Context(), msgType, payload))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			s.Log.Warn("stream write failed", zap.String("conn_id", connID), zap.Error(err))
			return
		}
	}
}

func (s *AppState) streamFrame(ctx context.Context, msgType int, payload []byte) any {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: uuid.NewString()}

	if msgType == websocket.TextMessage {
		decoded, err := decodeBase64Image(string(payload))
		if err != nil {
			s.observe("/ws", "invalid_request")
			return newErrorResponse(timings.RequestID, "invalid_request", err.Error(), nil)
		}
		payload = decoded
	}

	decodeStart := time.Now()
	img, err := detections.DecodeImage(payload)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		s.observe("/ws", "invalid_image")
		return newErrorResponse(timings.RequestID, "invalid_image", "Failed to decode image", nil)
	}

	circles, err := s.detect(ctx, img, timings)
	timings.Total = time.Since(startTotal)
	s.logTimings(timings)
	if err != nil {
		code := "processing_error"
		var failure *detectFailure
		if errors.As(err, &failure) {
			code = failure.code
		}
		s.observe("/ws", code)
		return newErrorResponse(timings.RequestID, code, err.Error(), circles)
	}

	s.observe("/ws", "ok")
	return newDetectionResponse(timings.RequestID, circles)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"mode":         s.Mode,
		"model_path":   s.ModelPath,
		"pool_size":    s.Pool.Size(),
		"cpu_features": detections.CPUFeatures(),
	})
}

func (s *AppState) handleStats(w http.ResponseWriter, _ *http.Request) {
	metrics := s.Pool.GetMetrics()
	errs := s.Pool.LastErrors()
	lastErrors := make([]string, 0, len(errs))
	for _, err := range errs {
		lastErrors = append(lastErrors, err.Error())
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool_size":        s.Pool.Size(),
		"detectors_in_use": metrics.InUse,
		"total_acquired":   metrics.TotalAcquired,
		"total_released":   metrics.TotalReleased,
		"total_discarded":  metrics.TotalDiscarded,
		"acquire_failures": metrics.AcquireFailures,
		"wait_time_ms":     metrics.WaitTime.Milliseconds(),
		"last_errors":      lastErrors,
	})
}

func (s *AppState) logTimings(t *models.ProcessingTimings) {
	if s.Metrics != nil {
		s.Metrics.ObserveTimings(t)
	}
	s.Log.Debug("processing times",
		zap.String("request_id", t.RequestID),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("letterbox", t.Letterbox),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("suppression", t.Suppression),
		zap.Duration("remap", t.Remap),
		zap.Duration("total", t.Total))
}

func (s *AppState) observe(route, outcome string) {
	if s.Metrics != nil {
		s.Metrics.ObserveRequest(route, outcome)
	}
}

func (s *AppState) updatePoolGauge() {
	if s.Metrics != nil {
		s.Metrics.SetPoolInUse(s.Pool.GetMetrics().InUse)
	}
}

func newDetectionResponse(requestID string, circles []models.Circle) DetectionResponse {
	return DetectionResponse{
		RequestID: requestID,
		Count:     len(circles),
		Circles:   circles,
		Message:   getDetectionMessage(circles),
	}
}

// readImagePayload accepts raw bytes, multipart/form-data with a "file" part,
// or JSON {"image": "<base64 or data URL>"}.
func readImagePayload(r *http.Request, maxBytes int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return handleJSONRequest(r)
	case "multipart/form-data":
		return handleMultipartRequest(r, maxBytes)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	return decodeBase64Image(req.Image)
}

func handleMultipartRequest(r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

// decodeBase64Image also accepts data URLs such as "data:image/png;base64,...".
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, errors.New("missing image data")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

// encodeReply marshals v, replacing it with a processing_error body when it
// cannot be encoded.
func (s *AppState) encodeReply(v any) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err == nil {
		return data, true
	}
	s.Log.Error("failed to encode response", zap.Error(err))
	data, _ = json.Marshal(newErrorResponse("", "processing_error", "failed to encode response", nil))
	return data, false
}

func (s *AppState) writeJSON(w http.ResponseWriter, status int, v any) {
	data, ok := s.encodeReply(v)
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

func (s *AppState) sendErrorResponse(w http.ResponseWriter, requestID, code, message string, status int) {
	s.writeJSON(w, status, newErrorResponse(requestID, code, message, nil))
}

// newErrorResponse always carries a circles array so clients can clear their
// overlay without special-casing failures.
func newErrorResponse(requestID, code, message string, circles []models.Circle) ErrorResponse {
	if circles == nil {
		circles = []models.Circle{}
	}
	return ErrorResponse{
		RequestID: requestID,
		Code:      code,
		Message:   message,
		Circles:   circles,
	}
}

package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Tutortoise/layout-detection-service/boundary"
	"github.com/Tutortoise/layout-detection-service/models"
)

const maxUploadBytes = 32 << 20

type AppState struct {
	Detector      *boundary.Detector
	ConfThreshold float32
	Logger        *zap.Logger
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type detectJSONRequest struct {
	Image    string `json:"image"`
	Pixels   string `json:"pixels"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
}

func newRouter(state *AppState) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/detect", handleDetect(state)).Methods(http.MethodPost)
	r.HandleFunc("/version", state.handleVersion).Methods(http.MethodGet)
	state.addMonitoringRoutes(r)

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conf := state.ConfThreshold
		if v := r.URL.Query().Get("conf"); v != "" {
			parsed, err := strconv.ParseFloat(v, 32)
			if err != nil || math.IsNaN(parsed) || parsed < 0 || parsed > 1 {
				sendErrorResponse(w, CodeInvalidConf, "conf must be a number in [0,1]", http.StatusBadRequest)
				return
			}
			conf = float32(parsed)
		}

		req, err := readEnvelope(r)
		if err != nil {
			sendErrorResponse(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		req.ConfThreshold = conf

		task := state.Detector.Submit(req)
		buf, err := task.Wait(r.Context())
		if err != nil {
			state.Logger.Warn("detection abandoned", zap.String("task", task.ID), zap.Error(err))
			writeResult(w, models.NewFailure(err), http.StatusServiceUnavailable)
			return
		}
		data, err := buf.Bytes()
		if relErr := buf.Release(); relErr != nil {
			state.Logger.Error("release result buffer", zap.String("task", task.ID), zap.Error(relErr))
		}
		if err != nil {
			writeResult(w, models.NewFailure(err), http.StatusInternalServerError)
			return
		}

		result, err := models.Decode(data)
		status := http.StatusOK
		switch {
		case err != nil:
			status = http.StatusInternalServerError
		case result.IsError() && result.Err.Code == models.CodeImageLoadFailed:
			status = http.StatusUnprocessableEntity
		case result.IsError():
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}
}

// readEnvelope accepts a JSON body, a multipart "file" field, or raw bytes.
func readEnvelope(r *http.Request) (models.RequestEnvelope, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		return handleJSONRequest(r)
	case "multipart/form-data":
		data, err := handleMultipartRequest(r)
		if err != nil {
			return models.RequestEnvelope{}, err
		}
		return models.EncodedRequest(data), nil
	default:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			return models.RequestEnvelope{}, err
		}
		if len(data) == 0 {
			return models.RequestEnvelope{}, errors.New(MsgNoImage)
		}
		return models.EncodedRequest(data), nil
	}
}

func handleJSONRequest(r *http.Request) (models.RequestEnvelope, error) {
	var req detectJSONRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		return models.RequestEnvelope{}, errors.Wrap(err, "decode JSON body")
	}

	switch {
	case req.Pixels != "":
		pix, err := base64.StdEncoding.DecodeString(req.Pixels)
		if err != nil {
			return models.RequestEnvelope{}, errors.Wrap(err, "decode pixels")
		}
		return models.PixelRequest(pix, req.Width, req.Height, req.Channels), nil
	case req.Image != "":
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return models.RequestEnvelope{}, errors.Wrap(err, "decode image")
		}
		return models.EncodedRequest(data), nil
	}
	return models.RequestEnvelope{}, errors.New(MsgNoImage)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func (s *AppState) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"version": s.Detector.Version()})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"state":    s.Detector.State().String(),
		"boundary": s.Detector.Metrics(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.Detector.State()
	if st.Kind != boundary.Ready {
		http.Error(w, st.String(), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func writeResult(w http.ResponseWriter, result models.DetectionResult, status int) {
	data, err := models.Encode(result)
	if err != nil {
		sendErrorResponse(w, "encode_error", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}

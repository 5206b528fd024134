package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/vsl/internal/keypoints"
	"github.com/ayusman/vsl/internal/server/middleware"
	"github.com/ayusman/vsl/internal/store"
)

// AllowedVideoExtensions lists the containers accepted for batch extraction.
var AllowedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// KeypointService is the extraction backend used by the handlers.
type KeypointService interface {
	ProcessVideo(ctx context.Context, path string, opts keypoints.BatchOptions) *keypoints.BatchReport
	DetectRealtime(payload string) *keypoints.RealtimeResponse
}

// VideoFetcher downloads a video by object key into dir.
type VideoFetcher interface {
	Enabled() bool
	Fetch(ctx context.Context, key, dir string) (string, error)
}

// KeypointsConfig configures KeypointsHandler.
type KeypointsConfig struct {
	Service       KeypointService
	Store         *store.Store
	Fetcher       VideoFetcher
	UploadDir     string
	MaxUploadSize int64
	Logger        logrus.FieldLogger
}

// KeypointsHandler serves the batch and single-frame extraction endpoints.
type KeypointsHandler struct {
	service   KeypointService
	store     *store.Store
	fetcher   VideoFetcher
	uploadDir string
	maxUpload int64
	validate  *validator.Validate
	logger    logrus.FieldLogger
}

// NewKeypointsHandler creates a KeypointsHandler.
func NewKeypointsHandler(cfg KeypointsConfig) *KeypointsHandler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 100 << 20
	}
	return &KeypointsHandler{
		service:   cfg.Service,
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		uploadDir: cfg.UploadDir,
		maxUpload: cfg.MaxUploadSize,
		validate:  validator.New(),
		logger:    cfg.Logger,
	}
}

type batchRequest struct {
	SampleRate int    `validate:"min=1"`
	MaxFrames  int    `validate:"min=0"`
	ObjectKey  string `validate:"omitempty,max=1024"`
}

type batchResponse struct {
	*keypoints.BatchReport
	JobID string `json:"job_id,omitempty"`
}

type frameRequest struct {
	Frame string `json:"frame" validate:"required"`
}

// ProcessVideo handles POST .../vsl/keypoints/video.
//
// The video comes from a multipart "file" field or, when object storage is
// configured, from an "object_key" form value. sample_rate defaults to 5 and
// max_frames to 0 (no cap). A failed extraction still answers 200 with
// success=false.
func (h *KeypointsHandler) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithField("request_id", middleware.RequestIDFrom(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req, err := h.parseBatchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, videoName, source, err := h.resolveVideo(r, req)
	if err != nil {
		var status statusError
		if errors.As(err, &status) {
			writeError(w, status.code, status.msg)
			return
		}
		log.WithError(err).Error("Failed to prepare video")
		writeError(w, http.StatusInternalServerError, "Failed to prepare video")
		return
	}
	defer os.Remove(path)

	// The batch runs to completion even if the client goes away
	opts := keypoints.BatchOptions{SampleRate: req.SampleRate, MaxFrames: req.MaxFrames}
	report := h.service.ProcessVideo(context.WithoutCancel(r.Context()), path, opts)

	resp := batchResponse{BatchReport: report}
	if h.store != nil {
		jobID, err := h.saveJob(videoName, source, opts, report)
		if err != nil {
			log.WithError(err).Error("Failed to store keypoint job")
		} else {
			resp.JobID = jobID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ProcessFrame handles POST .../vsl/keypoints/frame with {"frame": "<base64>"}.
func (h *KeypointsHandler) ProcessFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxUpload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "frame is required")
		return
	}

	writeJSON(w, http.StatusOK, h.service.DetectRealtime(req.Frame))
}

func (h *KeypointsHandler) parseBatchRequest(r *http.Request) (batchRequest, error) {
	req := batchRequest{SampleRate: keypoints.DefaultSampleRate}

	if v := strings.TrimSpace(r.FormValue("sample_rate")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("sample_rate must be an integer")
		}
		req.SampleRate = n
	}
	if v := strings.TrimSpace(r.FormValue("max_frames")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("max_frames must be an integer")
		}
		req.MaxFrames = n
	}
	req.ObjectKey = strings.TrimSpace(r.FormValue("object_key"))

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "SampleRate":
				return req, fmt.Errorf("sample_rate must be at least 1")
			case "MaxFrames":
				return req, fmt.Errorf("max_frames must not be negative")
			}
		}
		return req, fmt.Errorf("invalid request: %v", err)
	}
	return req, nil
}

type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string { return e.msg }

// resolveVideo stores the uploaded file, or fetches the object, and returns
// its local path, display name and source.
func (h *KeypointsHandler) resolveVideo(r *http.Request, req batchRequest) (string, string, store.JobSource, error) {
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		if !allowedVideo(header.Filename) {
			return "", "", "", statusError{http.StatusBadRequest, invalidExtensionMessage()}
		}
		if header.Size > h.maxUpload {
			return "", "", "", statusError{http.StatusRequestEntityTooLarge, "File too large"}
		}
		path, err := h.saveUpload(file, header)
		return path, header.Filename, store.SourceUpload, err

	case (errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart)) && req.ObjectKey != "":
		if h.fetcher == nil || !h.fetcher.Enabled() {
			return "", "", "", statusError{http.StatusBadRequest, "Object storage is not configured"}
		}
		if !allowedVideo(req.ObjectKey) {
			return "", "", "", statusError{http.StatusBadRequest, invalidExtensionMessage()}
		}
		path, err := h.fetcher.Fetch(r.Context(), req.ObjectKey, h.uploadDir)
		if err != nil {
			return "", "", "", statusError{http.StatusBadGateway, "Failed to fetch video from object storage"}
		}
		return path, req.ObjectKey, store.SourceS3, nil

	default:
		return "", "", "", statusError{http.StatusBadRequest, "A video file or object_key is required"}
	}
}

func (h *KeypointsHandler) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(h.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(header.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	_, err = io.Copy(dst, file)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

func (h *KeypointsHandler) saveJob(videoName string, source store.JobSource, opts keypoints.BatchOptions, report *keypoints.BatchReport) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	job := &store.Job{
		ID:              uuid.NewString(),
		VideoName:       filepath.Base(videoName),
		Source:          source,
		SampleRate:      opts.SampleRate,
		MaxFrames:       opts.MaxFrames,
		Success:         report.Success,
		Error:           report.Error,
		FramesProcessed: report.TotalFramesProcessed,
		DetectionRate:   report.DetectionRate,
		Report:          data,
	}
	if err := h.store.Jobs().Create(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func allowedVideo(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedVideoExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func invalidExtensionMessage() string {
	return "Invalid file type. Allowed: " + strings.Join(AllowedVideoExtensions, ", ")
}

// Package app wires the keypoint extraction service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/vsl/internal/capture"
	"github.com/ayusman/vsl/internal/config"
	"github.com/ayusman/vsl/internal/detector"
	"github.com/ayusman/vsl/internal/extractor"
	"github.com/ayusman/vsl/internal/keypoints"
	"github.com/ayusman/vsl/internal/objstore"
	"github.com/ayusman/vsl/internal/server"
	"github.com/ayusman/vsl/internal/store"
)

// Config holds configuration options for the application.
type Config struct {
	Settings config.Config
	Logger   *logrus.Logger

	// Factory builds landmark detectors. When nil the MediaPipe sidecar is
	// used, falling back to a mock detector if its script is missing.
	Factory detector.Factory
	// Opener opens batch videos; capture.OpenVideoFile when nil.
	Opener capture.Opener
}

// App owns every long-lived resource of the service.
type App struct {
	settings  config.Config
	logger    *logrus.Logger
	store     *store.Store
	extractor *extractor.Extractor
	service   *keypoints.Service
	fetcher   *objstore.S3Source
	server    *server.Server

	mu      sync.Mutex
	httpSrv *http.Server
	closed  bool
}

// New creates a new App instance with the given configuration.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	settings := cfg.Settings

	if err := os.MkdirAll(settings.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	st, err := store.New(settings.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	factory := cfg.Factory
	if factory == nil {
		factory = mediaPipeFactory(settings, logger)
	}

	detCfg := detector.Config{
		MaxHands:        settings.MaxHands,
		MinConfidence:   settings.MinDetectionConfidence,
		MinTrackingConf: settings.MinTrackingConfidence,
	}
	ext, err := extractor.New(factory, detCfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	fetcher, err := objstore.New(objstore.Config{
		Endpoint:  settings.S3.Endpoint,
		Region:    settings.S3.Region,
		Bucket:    settings.S3.Bucket,
		AccessKey: settings.S3.AccessKey,
		SecretKey: settings.S3.SecretKey,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	if fetcher.Enabled() {
		logger.WithField("bucket", settings.S3.Bucket).Info("Object storage enabled")
	}

	svc := keypoints.NewService(ext, cfg.Opener, logger)

	srv := server.New(server.Config{
		APIPrefix:     settings.APIPrefix,
		StaticDir:     settings.StaticDir,
		Store:         st,
		Keypoints:     svc,
		Fetcher:       fetcher,
		UploadDir:     settings.UploadDir,
		MaxUploadSize: settings.MaxUploadSize,
		RateLimit:     settings.BatchRateLimit,
		RateBurst:     settings.BatchRateBurst,
		WSReadTimeout: settings.WSReadTimeout,
		Logger:        logger,
	})

	return &App{
		settings:  settings,
		logger:    logger,
		store:     st,
		extractor: ext,
		service:   svc,
		fetcher:   fetcher,
		server:    srv,
	}, nil
}

// mediaPipeFactory tries MediaPipe first and falls back to the mock detector.
func mediaPipeFactory(settings config.Config, logger *logrus.Logger) detector.Factory {
	factory, err := detector.NewMediaPipeFactory(detector.MediaPipeOptions{
		Script: settings.MediaPipeScript,
		Python: settings.MediaPipePython,
		Logger: logger,
	})
	if err == nil {
		logger.Info("Using MediaPipe landmark detection")
		return factory
	}

	logger.WithError(err).Warn("MediaPipe not available, using mock detector")
	return detector.MockFactory(detector.NewMockDetector())
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Service returns the keypoint service.
func (a *App) Service() *keypoints.Service {
	return a.service
}

// Store returns the job store.
func (a *App) Store() *store.Store {
	return a.store
}

// Start serves HTTP on addr and blocks until Shutdown is called.
func (a *App) Start(addr string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("app is shut down")
	}
	if a.httpSrv != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := a.httpSrv
	a.mu.Unlock()

	a.logger.WithField("addr", addr).Info("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, closes live keypoint streams, then
// releases detectors and closes the store.
// Calling it more than once is a no-op.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	srv := a.httpSrv
	a.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close keypoint streams: %w", err))
	}
	if err := a.extractor.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release detectors: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	a.logger.Info("Application stopped")
	return errors.Join(errs...)
}

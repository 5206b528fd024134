// Package config loads application settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Env       string `validate:"required"`
	Port      int    `validate:"min=1,max=65535"`
	APIPrefix string `validate:"required,startswith=/"`

	LogLevel string
	LogDir   string

	DataDir   string `validate:"required"`
	DBPath    string `validate:"required"`
	StaticDir string
	UploadDir string `validate:"required"`

	MaxUploadSize int64 `validate:"min=1"`

	MinDetectionConfidence float64 `validate:"gte=0,lte=1"`
	MinTrackingConfidence  float64 `validate:"gte=0,lte=1"`
	MaxHands               int     `validate:"min=1,max=2"`

	MediaPipeScript string
	MediaPipePython string

	BatchRateLimit float64 `validate:"gte=0"`
	BatchRateBurst int     `validate:"min=1"`

	WSReadTimeout time.Duration `validate:"min=1s"`

	S3 S3Config
}

// S3Config locates the optional bucket batch videos can be fetched from.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Load reads an optional .env file from the working directory, then the
// environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	home, _ := os.UserHomeDir()
	dataDir := getString("DATA_DIR", filepath.Join(home, ".vsl"))

	cfg := Config{
		Env:       getString("APP_ENV", "development"),
		APIPrefix: getString("API_PREFIX", "/api/v1"),
		LogLevel:  getString("LOG_LEVEL", "info"),
		LogDir:    getString("LOG_DIR", filepath.Join(dataDir, "logs")),
		DataDir:   dataDir,
		DBPath:    getString("DB_PATH", filepath.Join(dataDir, "data.db")),
		StaticDir: getString("STATIC_DIR", ""),
		UploadDir: getString("UPLOAD_DIR", filepath.Join(dataDir, "uploads")),

		MediaPipeScript: getString("MEDIAPIPE_SCRIPT", ""),
		MediaPipePython: getString("MEDIAPIPE_PYTHON", ""),

		S3: S3Config{
			Endpoint:  getString("S3_ENDPOINT", ""),
			Region:    getString("S3_REGION", "us-east-1"),
			Bucket:    getString("S3_BUCKET", ""),
			AccessKey: getString("S3_ACCESS_KEY", ""),
			SecretKey: getString("S3_SECRET_KEY", ""),
		},
	}

	var errs []error
	cfg.Port = getInt("APP_PORT", 8000, &errs)
	cfg.MaxUploadSize = int64(getInt("MAX_UPLOAD_SIZE", 100<<20, &errs))
	cfg.MinDetectionConfidence = getFloat("DETECTOR_MIN_DETECTION_CONFIDENCE", 0.5, &errs)
	cfg.MinTrackingConfidence = getFloat("DETECTOR_MIN_TRACKING_CONFIDENCE", 0.5, &errs)
	cfg.MaxHands = getInt("DETECTOR_MAX_HANDS", 2, &errs)
	cfg.BatchRateLimit = getFloat("BATCH_RATE_LIMIT", 1, &errs)
	cfg.BatchRateBurst = getInt("BATCH_RATE_BURST", 3, &errs)
	cfg.WSReadTimeout = getDuration("WS_READ_TIMEOUT", 60*time.Second, &errs)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

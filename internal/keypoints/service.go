package keypoints

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/vsl/internal/capture"
	"github.com/ayusman/vsl/internal/extractor"
	"github.com/ayusman/vsl/internal/framecodec"
)

// HandExtractor finds hands in a BGR frame.
type HandExtractor interface {
	ExtractHandLandmarks(frame *gocv.Mat) (*extractor.HandResult, error)
}

// ErrInvalidOptions is returned for BatchOptions that fail validation.
var ErrInvalidOptions = errors.New("invalid batch options")

// BatchOptions controls ProcessVideo.
type BatchOptions struct {
	SampleRate int `json:"sample_rate" validate:"min=1"`
	MaxFrames  int `json:"max_frames" validate:"min=0"`
}

// DefaultBatchOptions samples every fifth frame with no cap.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{SampleRate: DefaultSampleRate}
}

// Service runs the batch and realtime keypoint paths over one extractor.
type Service struct {
	extractor HandExtractor
	open      capture.Opener
	logger    logrus.FieldLogger
	validate  *validator.Validate
	now       func() time.Time
}

// NewService creates a Service. A nil opener reads video files from disk.
func NewService(ext HandExtractor, open capture.Opener, logger logrus.FieldLogger) *Service {
	if open == nil {
		open = capture.OpenVideoFile
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		extractor: ext,
		open:      open,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// ProcessVideo samples the video at path and summarises hand detections.
// Frames are processed one at a time. Any failure, including ctx being
// cancelled between frames, discards partial progress and returns a
// failure report.
func (s *Service) ProcessVideo(ctx context.Context, path string, opts BatchOptions) *BatchReport {
	start := s.now()
	log := s.logger.WithFields(logrus.Fields{
		"video":       path,
		"sample_rate": opts.SampleRate,
		"max_frames":  opts.MaxFrames,
	})
	log.Info("Batch keypoint extraction started")

	report, err := s.processVideo(ctx, path, opts)
	elapsed := s.now().Sub(start).Seconds()
	if err != nil {
		log.WithError(err).Warn("Batch keypoint extraction failed")
		return &BatchReport{
			Error:          err.Error(),
			SampleFrames:   []FrameDetection{},
			ProcessingTime: round(elapsed, coordPlaces),
		}
	}

	report.ProcessingTime = round(elapsed, coordPlaces)
	log.WithFields(logrus.Fields{
		"frames":         report.TotalFramesProcessed,
		"detected":       report.HandsDetectedFrames,
		"detection_rate": report.DetectionRate,
		"elapsed":        report.ProcessingTime,
	}).Info("Batch keypoint extraction finished")

	return report
}

func (s *Service) processVideo(ctx context.Context, path string, opts BatchOptions) (*BatchReport, error) {
	if err := s.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	sampler, err := capture.OpenSampler(s.open, path, capture.SampleOptions{
		SampleRate: opts.SampleRate,
		MaxFrames:  opts.MaxFrames,
	})
	if err != nil {
		return nil, err
	}
	defer sampler.Close()

	info := capture.Describe(sampler.Source())
	agg := newAggregator(info.FPS)

	for index, frame := range sampler.Frames() {
		if err = ctx.Err(); err != nil {
			break
		}

		var result *extractor.HandResult
		result, err = s.extractor.ExtractHandLandmarks(frame)
		if err != nil {
			err = fmt.Errorf("frame %d: %w", index, err)
			break
		}
		agg.add(index, result)
	}
	if err != nil {
		return nil, err
	}
	if err := sampler.Err(); err != nil {
		return nil, err
	}

	report := agg.report()
	report.VideoDuration = round(info.Duration, statPlaces)
	report.FramesVisited = sampler.Stats().Visited
	report.VideoInfo = &info

	return report, nil
}

// DetectRealtime decodes one base64 frame and reports every hand with all
// of its keypoints. It never panics; failures come back as a response.
func (s *Service) DetectRealtime(payload string) *RealtimeResponse {
	return s.detectRealtime(func() (gocv.Mat, error) {
		return framecodec.DecodeFrame(payload)
	})
}

// DetectRealtimeBytes is DetectRealtime for raw JPEG or PNG bytes.
func (s *Service) DetectRealtimeBytes(data []byte) *RealtimeResponse {
	return s.detectRealtime(func() (gocv.Mat, error) {
		return framecodec.DecodeImage(data)
	})
}

func (s *Service) detectRealtime(decode func() (gocv.Mat, error)) (resp *RealtimeResponse) {
	start := s.now()
	resp = &RealtimeResponse{Hands: []HandDetection{}}

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Realtime frame handling panicked")
			resp = &RealtimeResponse{
				Hands:     []HandDetection{},
				Error:     "internal error processing frame",
				ErrorKind: ErrorKindInternal,
			}
		}
		end := s.now()
		resp.Timestamp = float64(end.UnixNano()) / 1e9
		resp.ProcessingTime = round(end.Sub(start).Seconds(), coordPlaces)
	}()

	frame, err := decode()
	defer frame.Close()
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = classify(err)
		return resp
	}

	result, err := s.extractor.ExtractHandLandmarks(&frame)
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = classify(err)
		return resp
	}

	resp.Success = true
	if result.Success {
		for i, points := range result.Landmarks {
			resp.Hands = append(resp.Hands, formatHand(points, result.Handedness[i], 0))
		}
	}
	resp.HandsDetected = len(resp.Hands)

	return resp
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, framecodec.ErrBase64Decode):
		return ErrorKindBase64
	case errors.Is(err, framecodec.ErrImageDecode):
		return ErrorKindImage
	case errors.Is(err, extractor.ErrExtraction):
		return ErrorKindExtraction
	default:
		return ErrorKindInternal
	}
}

// ProcessVideoHandKeypoints runs the batch path with the given stride and cap.
// A maxFrames of zero means no cap.
func ProcessVideoHandKeypoints(ctx context.Context, svc *Service, path string, sampleRate, maxFrames int) *BatchReport {
	return svc.ProcessVideo(ctx, path, BatchOptions{SampleRate: sampleRate, MaxFrames: maxFrames})
}

// DetectHandKeypointsRealtime runs the realtime path on one encoded frame.
func DetectHandKeypointsRealtime(svc *Service, payload string) *RealtimeResponse {
	return svc.DetectRealtime(payload)
}

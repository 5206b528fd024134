// Package extractor wraps landmark detectors behind lazily constructed,
// lock-guarded handles shared by every caller in the process.
package extractor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/vsl/internal/detector"
)

// ErrExtraction is matched by every *ExtractionError.
var ErrExtraction = errors.New("extraction failed")

// ExtractionError reports a detector failure on an otherwise valid image.
type ExtractionError struct {
	Kind detector.Kind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExtraction) match any ExtractionError.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// HandResult is the outcome of hand extraction. Success is false when no
// hands were found, in which case Landmarks and Handedness are nil.
type HandResult struct {
	Success    bool                     `json:"success"`
	Landmarks  [][]detector.Landmark    `json:"landmarks"`
	Handedness []detector.Handedness    `json:"handedness"`
	Hands      []detector.HandLandmarks `json:"-"`
}

// PoseResult is the outcome of pose extraction.
type PoseResult struct {
	Success   bool                `json:"success"`
	Landmarks []detector.Landmark `json:"landmarks"`
}

// FaceResult is the outcome of face mesh extraction.
type FaceResult struct {
	Success   bool                `json:"success"`
	Landmarks []detector.Landmark `json:"landmarks"`
}

// HolisticResult combines pose, face and both hands from a single pass.
type HolisticResult struct {
	Success   bool                `json:"success"`
	Pose      []detector.Landmark `json:"pose_landmarks"`
	Face      []detector.Landmark `json:"face_landmarks"`
	LeftHand  []detector.Landmark `json:"left_hand_landmarks"`
	RightHand []detector.Landmark `json:"right_hand_landmarks"`
}

// handle is one lazily built detector and the lock serialising its use.
// A released handle has left the map and must not build a detector.
type handle struct {
	mu       sync.Mutex
	det      detector.Detector
	released bool
}

// Extractor owns one detector per kind, built on first use.
type Extractor struct {
	factory detector.Factory
	config  detector.Config
	logger  logrus.FieldLogger

	mu      sync.Mutex
	handles map[detector.Kind]*handle
}

// New creates an extractor. No detector is constructed until the first extraction.
func New(factory detector.Factory, config detector.Config, logger logrus.FieldLogger) (*Extractor, error) {
	if factory == nil {
		return nil, errors.New("detector factory is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{
		factory: factory,
		config:  config,
		logger:  logger,
		handles: make(map[detector.Kind]*handle),
	}, nil
}

// Config returns the detector configuration.
func (e *Extractor) Config() detector.Config {
	return e.config
}

func (e *Extractor) handle(kind detector.Kind) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[kind]
	if !ok {
		h = &handle{}
		e.handles[kind] = h
	}
	return h
}

// lockedHandle returns the current handle for kind with its lock held.
// A handle swapped out by Release while we waited for it is skipped.
func (e *Extractor) lockedHandle(kind detector.Kind) *handle {
	for {
		h := e.handle(kind)
		h.mu.Lock()
		if !h.released {
			return h
		}
		h.mu.Unlock()
	}
}

// detect runs the detector for kind, constructing it on first use. Calls
// for the same kind are serialised since detectors carry tracking state.
func (e *Extractor) detect(kind detector.Kind, frame *gocv.Mat) (*detector.Result, error) {
	if frame == nil || frame.Empty() {
		return nil, &ExtractionError{Kind: kind, Err: errors.New("empty image")}
	}

	h := e.lockedHandle(kind)
	defer h.mu.Unlock()

	if h.det == nil {
		det, err := e.factory(kind, e.config)
		if err != nil {
			return nil, &ExtractionError{Kind: kind, Err: fmt.Errorf("create detector: %w", err)}
		}
		h.det = det
		e.logger.WithField("kind", kind).Info("Landmark detector initialized")
	}

	result, err := h.det.Detect(frame)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Err: err}
	}
	if result == nil {
		result = &detector.Result{}
	}
	return result, nil
}

// ExtractHandLandmarks detects hands in a BGR image.
func (e *Extractor) ExtractHandLandmarks(frame *gocv.Mat) (*HandResult, error) {
	result, err := e.detect(detector.KindHands, frame)
	if err != nil {
		return nil, err
	}

	hands := result.Hands
	if len(hands) > e.config.MaxHands {
		hands = hands[:e.config.MaxHands]
	}
	if len(hands) == 0 {
		return &HandResult{Success: false}, nil
	}

	out := &HandResult{
		Success:    true,
		Landmarks:  make([][]detector.Landmark, len(hands)),
		Handedness: make([]detector.Handedness, len(hands)),
		Hands:      hands,
	}
	for i := range hands {
		out.Landmarks[i] = hands[i].Points[:]
		out.Handedness[i] = hands[i].Handedness
	}
	return out, nil
}

// ExtractPoseLandmarks detects body pose landmarks.
func (e *Extractor) ExtractPoseLandmarks(frame *gocv.Mat) (*PoseResult, error) {
	result, err := e.detect(detector.KindPose, frame)
	if err != nil {
		return nil, err
	}
	if len(result.Pose) == 0 {
		return &PoseResult{}, nil
	}
	return &PoseResult{Success: true, Landmarks: result.Pose}, nil
}

// ExtractFaceLandmarks detects face mesh landmarks.
func (e *Extractor) ExtractFaceLandmarks(frame *gocv.Mat) (*FaceResult, error) {
	result, err := e.detect(detector.KindFace, frame)
	if err != nil {
		return nil, err
	}
	if len(result.Face) == 0 {
		return &FaceResult{}, nil
	}
	return &FaceResult{Success: true, Landmarks: result.Face}, nil
}

// ExtractHolisticLandmarks detects pose, face and hands in one pass.
// Success is true when anything at all was found.
func (e *Extractor) ExtractHolisticLandmarks(frame *gocv.Mat) (*HolisticResult, error) {
	result, err := e.detect(detector.KindHolistic, frame)
	if err != nil {
		return nil, err
	}
	out := &HolisticResult{
		Pose:      result.Pose,
		Face:      result.Face,
		LeftHand:  result.LeftHand,
		RightHand: result.RightHand,
	}
	out.Success = len(out.Pose) > 0 || len(out.Face) > 0 || len(out.LeftHand) > 0 || len(out.RightHand) > 0
	return out, nil
}

// Active returns the kinds whose detectors are currently constructed.
func (e *Extractor) Active() []detector.Kind {
	e.mu.Lock()
	handles := make(map[detector.Kind]*handle, len(e.handles))
	for k, h := range e.handles {
		handles[k] = h
	}
	e.mu.Unlock()

	var kinds []detector.Kind
	for k, h := range handles {
		h.mu.Lock()
		if h.det != nil {
			kinds = append(kinds, k)
		}
		h.mu.Unlock()
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Release closes every constructed detector. It is safe to call repeatedly;
// a later extraction builds a fresh detector.
func (e *Extractor) Release() error {
	e.mu.Lock()
	handles := e.handles
	e.handles = make(map[detector.Kind]*handle)
	e.mu.Unlock()

	var errs []error
	for kind, h := range handles {
		h.mu.Lock()
		h.released = true
		if h.det != nil {
			if err := h.det.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s detector: %w", kind, err))
			}
			h.det = nil
			e.logger.WithField("kind", kind).Info("Landmark detector released")
		}
		h.mu.Unlock()
	}
	return errors.Join(errs...)
}

package detector

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Kind selects which landmark model a detector runs.
type Kind string

const (
	KindHands    Kind = "hands"
	KindPose     Kind = "pose"
	KindFace     Kind = "face"
	KindHolistic Kind = "holistic"
)

// Kinds lists every supported detector kind.
var Kinds = []Kind{KindHands, KindPose, KindFace, KindHolistic}

// Valid reports whether k is a known detector kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Detector defines the interface for landmark detection implementations.
// A Detector keeps temporal tracking state between calls and is not safe
// for concurrent use.
type Detector interface {
	// Detect analyzes a BGR video frame and returns the detected landmarks.
	// A frame with nothing in it yields an empty Result, not an error.
	Detect(frame *gocv.Mat) (*Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Factory constructs a detector of the given kind.
type Factory func(kind Kind, config Config) (Detector, error)

// Config holds configuration options for landmark detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}

// Validate checks that thresholds are within [0,1] and MaxHands is positive.
func (c Config) Validate() error {
	if c.MaxHands < 1 {
		return fmt.Errorf("max hands must be at least 1, got %d", c.MaxHands)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min detection confidence must be in [0,1], got %v", c.MinConfidence)
	}
	if c.MinTrackingConf < 0 || c.MinTrackingConf > 1 {
		return fmt.Errorf("min tracking confidence must be in [0,1], got %v", c.MinTrackingConf)
	}
	return nil
}

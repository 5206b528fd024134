// Package keypoints turns landmark detections into batch video reports and
// per-frame realtime responses.
package keypoints

import (
	"math"

	"github.com/ayusman/vsl/internal/capture"
	"github.com/ayusman/vsl/internal/detector"
)

const (
	// DefaultSampleRate is the frame stride used when a caller gives none.
	DefaultSampleRate = 5
	// MaxSampleFrames bounds BatchReport.SampleFrames.
	MaxSampleFrames = 10
	// SampleKeypoints is how many leading keypoints each sample hand keeps.
	SampleKeypoints = 5

	coordPlaces = 4
	statPlaces  = 2
)

// HandDetection is one hand in one frame.
type HandDetection struct {
	HandType  detector.Handedness `json:"hand_type"`
	Keypoints []detector.Landmark `json:"keypoints"`
}

// FrameDetection records what was found in one sampled frame.
type FrameDetection struct {
	FrameNumber   int             `json:"frame_number"`
	Timestamp     float64         `json:"timestamp"`
	HandsDetected int             `json:"hands_detected"`
	Hands         []HandDetection `json:"hands"`
}

// BatchReport summarises a whole video. On failure Success is false, Error
// is set and every counter is zero.
type BatchReport struct {
	Success              bool               `json:"success"`
	Error                string             `json:"error,omitempty"`
	TotalFramesProcessed int                `json:"total_frames_processed"`
	HandsDetectedFrames  int                `json:"hands_detected_frames"`
	DetectionRate        float64            `json:"detection_rate"`
	SampleFrames         []FrameDetection   `json:"sample_frames"`
	LeftHandFrames       int                `json:"left_hand_frames"`
	RightHandFrames      int                `json:"right_hand_frames"`
	BothHandsFrames      int                `json:"both_hands_frames"`
	AvgHandsPerFrame     float64            `json:"avg_hands_per_frame"`
	VideoFPS             float64            `json:"video_fps"`
	VideoDuration        float64            `json:"video_duration_seconds"`
	ProcessingTime       float64            `json:"processing_time"`
	FramesVisited        int                `json:"frames_visited"`
	VideoInfo            *capture.VideoInfo `json:"video_info,omitempty"`
}

// ErrorKind classifies a realtime failure.
type ErrorKind string

const (
	ErrorKindBase64     ErrorKind = "base64_decode"
	ErrorKindImage      ErrorKind = "image_decode"
	ErrorKindExtraction ErrorKind = "extraction"
	ErrorKindInternal   ErrorKind = "internal"
)

// RealtimeResponse answers one streamed frame. It is always well formed,
// even when the frame could not be processed.
type RealtimeResponse struct {
	Success        bool            `json:"success"`
	HandsDetected  int             `json:"hands_detected"`
	Hands          []HandDetection `json:"hands"`
	Timestamp      float64         `json:"timestamp"`
	ProcessingTime float64         `json:"processing_time"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      ErrorKind       `json:"error_kind,omitempty"`
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// formatHand copies up to limit keypoints of hand with coordinates rounded.
// A limit of zero keeps all of them.
func formatHand(points []detector.Landmark, handedness detector.Handedness, limit int) HandDetection {
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	out := HandDetection{
		HandType:  handedness,
		Keypoints: make([]detector.Landmark, len(points)),
	}
	for i, p := range points {
		out.Keypoints[i] = detector.Landmark{
			X:          round(p.X, coordPlaces),
			Y:          round(p.Y, coordPlaces),
			Z:          round(p.Z, coordPlaces),
			Visibility: round(p.Visibility, coordPlaces),
		}
	}
	return out
}

package keypoints

import (
	"github.com/ayusman/vsl/internal/detector"
	"github.com/ayusman/vsl/internal/extractor"
)

// aggregator accumulates per-frame detections for one video.
type aggregator struct {
	fps float64

	processed  int
	detected   int
	totalHands int
	left       int
	right      int
	both       int
	sample     []FrameDetection
}

func newAggregator(fps float64) *aggregator {
	return &aggregator{fps: fps, sample: make([]FrameDetection, 0, MaxSampleFrames)}
}

// add records the extraction result for one sampled frame.
func (a *aggregator) add(frameIndex int, result *extractor.HandResult) {
	a.processed++

	record := FrameDetection{
		FrameNumber: frameIndex,
		Hands:       []HandDetection{},
	}
	if a.fps > 0 {
		record.Timestamp = round(float64(frameIndex)/a.fps, coordPlaces)
	}

	if result != nil && result.Success {
		record.HandsDetected = len(result.Landmarks)
		for i, points := range result.Landmarks {
			record.Hands = append(record.Hands, formatHand(points, result.Handedness[i], SampleKeypoints))
		}
	}

	if record.HandsDetected > 0 {
		a.detected++
		a.totalHands += record.HandsDetected
		a.classify(record.Hands)
	}

	// First frames only; later frames never displace earlier ones
	if len(a.sample) < MaxSampleFrames {
		a.sample = append(a.sample, record)
	}
}

// classify counts a frame as left-only, right-only or both. Frames whose
// hands are all Unknown count toward none of the three.
func (a *aggregator) classify(hands []HandDetection) {
	var hasLeft, hasRight bool
	for _, h := range hands {
		switch h.HandType {
		case detector.Left:
			hasLeft = true
		case detector.Right:
			hasRight = true
		}
	}

	switch {
	case hasLeft && hasRight:
		a.both++
	case hasLeft:
		a.left++
	case hasRight:
		a.right++
	}
}

// report builds the summary. Video metadata and timing are filled in by the caller.
func (a *aggregator) report() *BatchReport {
	r := &BatchReport{
		Success:              true,
		TotalFramesProcessed: a.processed,
		HandsDetectedFrames:  a.detected,
		SampleFrames:         a.sample,
		LeftHandFrames:       a.left,
		RightHandFrames:      a.right,
		BothHandsFrames:      a.both,
		VideoFPS:             a.fps,
	}
	if a.processed > 0 {
		r.DetectionRate = round(float64(a.detected)/float64(a.processed)*100, statPlaces)
		r.AvgHandsPerFrame = round(float64(a.totalHands)/float64(a.processed), statPlaces)
	}
	return r
}

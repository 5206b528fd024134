// Package detector provides landmark detection interfaces and types for the keypoint pipeline.
package detector

import "strings"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// DefaultVisibility is used when a detector has no confidence channel for a point.
const DefaultVisibility = 1.0

// Landmark is a single detected point. X and Y are normalized to [0,1] of the
// image width and height; Z is a relative depth on the detector's own scale.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Handedness classifies a detected hand.
type Handedness string

const (
	Left    Handedness = "Left"
	Right   Handedness = "Right"
	Unknown Handedness = "Unknown"
)

// ParseHandedness maps a detector label to a Handedness. Labels other than
// left/right (in any case) resolve to Unknown.
func ParseHandedness(label string) Handedness {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "left":
		return Left
	case "right":
		return Right
	default:
		return Unknown
	}
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
// Point order is fixed: wrist, then thumb, index, middle, ring and pinky.
type HandLandmarks struct {
	Points     [NumLandmarks]Landmark `json:"points"`
	Handedness Handedness             `json:"handedness"`
	Score      float64                `json:"score"`
}

// Result holds everything a detector found in one frame. Only the fields
// relevant to the detector's Kind are populated.
type Result struct {
	Hands     []HandLandmarks `json:"hands,omitempty"`
	Pose      []Landmark      `json:"pose,omitempty"`
	Face      []Landmark      `json:"face,omitempty"`
	LeftHand  []Landmark      `json:"left_hand,omitempty"`
	RightHand []Landmark      `json:"right_hand,omitempty"`
}

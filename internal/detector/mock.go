package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	result *Result
	script []*Result
	err    error
	calls  int
	closed int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// MockFactory returns a Factory that always yields det, regardless of kind.
func MockFactory(det Detector) Factory {
	return func(Kind, Config) (Detector, error) {
		return det, nil
	}
}

// SetResult sets the result that will be returned by Detect.
func (m *MockDetector) SetResult(result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
}

// SetScript makes Detect return results in order, one per call, wrapping
// around at the end. A nil entry means nothing detected.
func (m *MockDetector) SetScript(results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = results
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.SetResult(&Result{Hands: hands})
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed returns how many times Close has been invoked.
func (m *MockDetector) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Detect returns the pre-configured result or error.
func (m *MockDetector) Detect(frame *gocv.Mat) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	result := m.result
	if len(m.script) > 0 {
		result = m.script[(m.calls-1)%len(m.script)]
	}
	if result == nil {
		return &Result{}, nil
	}
	// Copy so callers cannot mutate the configured result
	out := *result
	out.Hands = append([]HandLandmarks(nil), result.Hands...)
	return &out, nil
}

// Close counts the call; the mock holds no resources.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// OpenPalmLandmarks returns a preset hand with all fingers extended.
func OpenPalmLandmarks(handedness Handedness) HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: handedness,
		Score:      0.95,
	}

	pts := [NumLandmarks][3]float64{
		Wrist: {0.5, 0.8, 0.0},

		ThumbCMC: {0.55, 0.75, 0.02},
		ThumbMCP: {0.62, 0.70, 0.03},
		ThumbIP:  {0.68, 0.65, 0.03},
		ThumbTip: {0.73, 0.60, 0.03},

		IndexMCP: {0.55, 0.68, 0.0},
		IndexPIP: {0.57, 0.55, 0.0},
		IndexDIP: {0.58, 0.45, 0.0},
		IndexTip: {0.58, 0.35, 0.0},

		MiddleMCP: {0.50, 0.66, 0.0},
		MiddlePIP: {0.50, 0.52, 0.0},
		MiddleDIP: {0.50, 0.40, 0.0},
		MiddleTip: {0.50, 0.28, 0.0},

		RingMCP: {0.45, 0.68, 0.0},
		RingPIP: {0.43, 0.55, 0.0},
		RingDIP: {0.42, 0.45, 0.0},
		RingTip: {0.42, 0.35, 0.0},

		PinkyMCP: {0.40, 0.70, 0.0},
		PinkyPIP: {0.37, 0.60, 0.0},
		PinkyDIP: {0.35, 0.50, 0.0},
		PinkyTip: {0.34, 0.42, 0.0},
	}
	for i, p := range pts {
		landmarks.Points[i] = Landmark{X: p[0], Y: p[1], Z: p[2], Visibility: DefaultVisibility}
	}

	return landmarks
}

// GridLandmarks returns a hand whose point i sits at (i*0.01, i*0.02, -i*0.001).
// Useful when a test needs to tell points apart by index.
func GridLandmarks(handedness Handedness) HandLandmarks {
	landmarks := HandLandmarks{Handedness: handedness, Score: 0.9}
	for i := range landmarks.Points {
		landmarks.Points[i] = Landmark{
			X:          float64(i) * 0.01,
			Y:          float64(i) * 0.02,
			Z:          -float64(i) * 0.001,
			Visibility: DefaultVisibility,
		}
	}
	return landmarks
}

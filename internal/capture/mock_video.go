package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockVideo plays back a fixed number of synthetic frames for testing.
// Every frame is a copy of one template, stamped with its index in the
// first byte so tests can tell frames apart.
type MockVideo struct {
	count    int
	fps      float64
	width    int
	height   int
	template gocv.Mat
	index    int
	reads    int
	closed   int
	mu       sync.Mutex
}

// NewMockVideo creates a video of count w×h frames at the given fps.
func NewMockVideo(count int, fps float64, w, h int) *MockVideo {
	return &MockVideo{
		count:    count,
		fps:      fps,
		width:    w,
		height:   h,
		template: gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3),
	}
}

func (v *MockVideo) Read(dst *gocv.Mat) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.reads++
	if v.closed > 0 || v.index >= v.count {
		return false
	}

	v.template.CopyTo(dst)
	dst.SetUCharAt(0, 0, uint8(v.index%256))
	v.index++
	return true
}

func (v *MockVideo) FPS() float64    { return v.fps }
func (v *MockVideo) FrameCount() int { return v.count }
func (v *MockVideo) Width() int      { return v.width }
func (v *MockVideo) Height() int     { return v.height }

// Close counts the call and frees the template on the first one.
func (v *MockVideo) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed++
	if v.closed == 1 {
		v.template.Close()
	}
	return nil
}

// Closed returns how many times Close has been called.
func (v *MockVideo) Closed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Reads returns how many times Read has been called.
func (v *MockVideo) Reads() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reads
}

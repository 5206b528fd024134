// Package capture provides video file access and frame sampling using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ErrVideoOpen is matched by every *VideoOpenError.
var ErrVideoOpen = errors.New("video open error")

// VideoOpenError is returned when a video is missing, corrupt or unreadable.
type VideoOpenError struct {
	Path string
	Err  error
}

func (e *VideoOpenError) Error() string {
	return fmt.Sprintf("could not open video file %s: %v", e.Path, e.Err)
}

func (e *VideoOpenError) Unwrap() error { return e.Err }

func (e *VideoOpenError) Is(target error) bool { return target == ErrVideoOpen }

// VideoSource is a sequential reader over decoded video frames.
type VideoSource interface {
	// Read decodes the next frame into dst. It returns false once the
	// video is exhausted or unreadable.
	Read(dst *gocv.Mat) bool
	FPS() float64
	FrameCount() int
	Width() int
	Height() int
	Close() error
}

// Opener opens a video by path.
type Opener func(path string) (VideoSource, error)

// videoFile reads frames from a container on disk.
type videoFile struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	closed  bool
}

// OpenVideoFile opens a video container for reading.
func OpenVideoFile(path string) (VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &VideoOpenError{Path: path, Err: err}
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &VideoOpenError{Path: path, Err: err}
	}

	if !capture.IsOpened() {
		capture.Close()
		return nil, &VideoOpenError{Path: path, Err: errors.New("no decoder accepted the file")}
	}

	return &videoFile{path: path, capture: capture}, nil
}

func (v *videoFile) Read(dst *gocv.Mat) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	return v.capture.Read(dst)
}

func (v *videoFile) prop(p gocv.VideoCaptureProperties) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0
	}
	return v.capture.Get(p)
}

func (v *videoFile) FPS() float64    { return v.prop(gocv.VideoCaptureFPS) }
func (v *videoFile) FrameCount() int { return int(v.prop(gocv.VideoCaptureFrameCount)) }
func (v *videoFile) Width() int      { return int(v.prop(gocv.VideoCaptureFrameWidth)) }
func (v *videoFile) Height() int     { return int(v.prop(gocv.VideoCaptureFrameHeight)) }

// Close releases the capture handle. Subsequent calls are no-ops.
func (v *videoFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	return v.capture.Close()
}

// VideoInfo describes a video container.
type VideoInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
}

// Describe reads the metadata of an open source.
func Describe(src VideoSource) VideoInfo {
	info := VideoInfo{
		Width:      src.Width(),
		Height:     src.Height(),
		FPS:        src.FPS(),
		FrameCount: src.FrameCount(),
	}
	if info.FPS > 0 {
		info.Duration = float64(info.FrameCount) / info.FPS
	}
	return info
}

// Info opens the video at path, reads its metadata and closes it.
func Info(path string) (VideoInfo, error) {
	src, err := OpenVideoFile(path)
	if err != nil {
		return VideoInfo{}, err
	}
	defer src.Close()

	return Describe(src), nil
}

package keypoints

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/vsl/internal/capture"
	"github.com/ayusman/vsl/internal/detector"
	"github.com/ayusman/vsl/internal/extractor"
	"github.com/ayusman/vsl/testdata"
)

type fixture struct {
	svc    *Service
	mock   *detector.MockDetector
	videos []*capture.MockVideo
}

// newFixture builds a service whose opener returns a fresh frames-long mock
// video at fps for every path.
func newFixture(t *testing.T, frames int, fps float64) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	mock := detector.NewMockDetector()
	ext, err := extractor.New(detector.MockFactory(mock), detector.DefaultConfig(), logger)
	require.NoError(t, err)

	f := &fixture{mock: mock}
	var mu sync.Mutex
	open := func(path string) (capture.VideoSource, error) {
		if strings.Contains(path, "missing") {
			return nil, &capture.VideoOpenError{Path: path, Err: errors.New("no such file")}
		}
		v := capture.NewMockVideo(frames, fps, 32, 24)
		mu.Lock()
		f.videos = append(f.videos, v)
		mu.Unlock()
		return v, nil
	}
	f.svc = NewService(ext, open, logger)
	return f
}

func hands(labels ...detector.Handedness) *detector.Result {
	r := &detector.Result{}
	for _, l := range labels {
		r.Hands = append(r.Hands, detector.GridLandmarks(l))
	}
	return r
}

func assertInvariants(t *testing.T, r *BatchReport) {
	t.Helper()
	assert.LessOrEqual(t, r.HandsDetectedFrames, r.TotalFramesProcessed)
	assert.LessOrEqual(t, r.LeftHandFrames+r.RightHandFrames+r.BothHandsFrames, r.TotalFramesProcessed)
	assert.GreaterOrEqual(t, r.DetectionRate, 0.0)
	assert.LessOrEqual(t, r.DetectionRate, 100.0)
	assert.LessOrEqual(t, len(r.SampleFrames), MaxSampleFrames)
}

func TestProcessVideo_NoHands(t *testing.T) {
	f := newFixture(t, 100, 25)

	r := f.svc.ProcessVideo(context.Background(), "clip.mp4", BatchOptions{SampleRate: 10})

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 10, r.TotalFramesProcessed)
	assert.Equal(t, 0, r.HandsDetectedFrames)
	assert.Equal(t, 0.0, r.DetectionRate)
	assert.Equal(t, 0, r.LeftHandFrames)
	assert.Equal(t, 0, r.RightHandFrames)
	assert.Equal(t, 0, r.BothHandsFrames)
	assert.Equal(t, 0.0, r.AvgHandsPerFrame)
	assert.Equal(t, 100, r.FramesVisited)
	assert.Equal(t, 25.0, r.VideoFPS)
	assert.Equal(t, 4.0, r.VideoDuration)
	assert.Equal(t, 10, f.mock.Calls())

	require.Len(t, r.SampleFrames, 10)
	for i, frame := range r.SampleFrames {
		assert.Equal(t, i*10, frame.FrameNumber)
		assert.InDelta(t, float64(i*10)/25, frame.Timestamp, 1e-9)
		assert.Equal(t, 0, frame.HandsDetected)
		assert.NotNil(t, frame.Hands)
	}
	require.NotNil(t, r.VideoInfo)
	assert.Equal(t, 32, r.VideoInfo.Width)

	assertInvariants(t, r)
	assert.Equal(t, 1, f.videos[0].Closed())
}

func TestProcessVideo_AllLeft(t *testing.T) {
	f := newFixture(t, 20, 30)
	f.mock.SetResult(hands(detector.Left))

	r := f.svc.ProcessVideo(context.Background(), "clip.mp4", BatchOptions{SampleRate: 1})

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 20, r.TotalFramesProcessed)
	assert.Equal(t, 20, r.LeftHandFrames)
	assert.Equal(t, 0, r.RightHandFrames)
	assert.Equal(t, 0, r.BothHandsFrames)
	assert.Equal(t, 100.0, r.DetectionRate)
	assert.Equal(t, 1.0, r.AvgHandsPerFrame)
	assertInvariants(t, r)
}

func TestProcessVideo_SampleFramesKeepFirstTenAndFiveKeypoints(t *testing.T) {
	f := newFixture(t, 30, 30)
	f.mock.SetResult(hands(detector.Left, detector.Right))

	r := f.svc.ProcessVideo(context.Background(), "clip.mp4", BatchOptions{SampleRate: 2})

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 15, r.TotalFramesProcessed)
	assert.Equal(t, 15, r.BothHandsFrames)
	assert.Equal(t, 2.0, r.AvgHandsPerFrame)

	require.Len(t, r.SampleFrames, MaxSampleFrames)
	assert.Equal(t, 0, r.SampleFrames[0].FrameNumber)
	assert.Equal(t, 18, r.SampleFrames[9].FrameNumber)

	frame := r.SampleFrames[3]
	assert.Equal(t, 2, frame.HandsDetected)
	require.Len(t, frame.Hands, 2)
	assert.Equal(t, detector.Left, frame.Hands[0].HandType)
	assert.Equal(t, detector.Right, frame.Hands[1].HandType)
	require.Len(t, frame.Hands[0].Keypoints, SampleKeypoints)
	// Point order survives truncation
	assert.InDelta(t, 0.04, frame.Hands[0].Keypoints[4].X, 1e-9)
}

func TestProcessVideo_UnknownHandednessAsymmetry(t *testing.T) {
	f := newFixture(t, 4, 30)
	f.mock.SetScript(
		hands(detector.Left),
		hands(detector.Unknown, detector.Unknown),
		hands(detector.Right, detector.Unknown),
		nil,
	)

	r := f.svc.ProcessVideo(context.Background(), "clip.mp4", BatchOptions{SampleRate: 1})

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 4, r.TotalFramesProcessed)
	assert.Equal(t, 3, r.HandsDetectedFrames)
	assert.Equal(t, 1, r.LeftHandFrames)
	assert.Equal(t, 1, r.RightHandFrames)
	// Two unlabeled hands are not counted as both
	assert.Equal(t, 0, r.BothHandsFrames)
	assert.Equal(t, 75.0, r.DetectionRate)
	assert.Equal(t, 1.25, r.AvgHandsPerFrame)

	classified := r.LeftHandFrames + r.RightHandFrames + r.BothHandsFrames
	assert.Less(t, classified, r.HandsDetectedFrames)
	assertInvariants(t, r)
}

func TestProcessVideo_MaxFrames(t *testing.T) {
	f := newFixture(t, 100, 30)
	f.mock.SetResult(hands(detector.Right))

	r := ProcessVideoHandKeypoints(context.Background(), f.svc, "clip.mp4", 5, 4)

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 4, r.TotalFramesProcessed)
	assert.Equal(t, 4, r.RightHandFrames)
	assert.Equal(t, 16, r.FramesVisited)
	assert.Equal(t, 4, f.mock.Calls())
}

func TestProcessVideo_ZeroFPS(t *testing.T) {
	f := newFixture(t, 10, 0)

	r := f.svc.ProcessVideo(context.Background(), "clip.mp4", BatchOptions{SampleRate: 3})

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 0.0, r.VideoDuration)
	for _, frame := range r.SampleFrames {
		assert.Equal(t, 0.0, frame.Timestamp)
	}
}

func TestProcessVideo_EmptyVideo(t *testing.T) {
	f := newFixture(t, 0, 30)

	r := f.svc.ProcessVideo(context.Background(), "clip.mp4", DefaultBatchOptions())

	require.True(t, r.Success, r.Error)
	assert.Equal(t, 0, r.TotalFramesProcessed)
	assert.Equal(t, 0.0, r.DetectionRate)
	assert.Equal(t, 0.0, r.AvgHandsPerFrame)
	assert.NotNil(t, r.SampleFrames)
}

func TestProcessVideo_Failures(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		f := newFixture(t, 10, 30)

		r := f.svc.ProcessVideo(context.Background(), "missing.mp4", DefaultBatchOptions())

		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "could not open video")
		assert.Equal(t, 0, r.TotalFramesProcessed)
		assert.Empty(t, r.SampleFrames)
	})

	t.Run("invalid options are rejected before opening", func(t *testing.T) {
		for _, opts := range []BatchOptions{{SampleRate: 0}, {SampleRate: -2}, {SampleRate: 5, MaxFrames: -1}} {
			f := newFixture(t, 10, 30)

			r := f.svc.ProcessVideo(context.Background(), "clip.mp4", opts)

			assert.False(t, r.Success)
			assert.Contains(t, r.Error, ErrInvalidOptions.Error())
			assert.Empty(t, f.videos, "%+v", opts)
		}
	})

	t.Run("extraction error discards progress", func(t *testing.T) {
		f := newFixture(t, 50, 30)
		f.mock.SetResult(hands(detector.Left))
		ext := &failingAfter{inner: f.svc.extractor, after: 3}
		f.svc.extractor = ext

		r := f.svc.ProcessVideo(context.Background(), "clip.mp4", BatchOptions{SampleRate: 1})

		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "frame 3")
		assert.Equal(t, 0, r.TotalFramesProcessed)
		assert.Equal(t, 0, r.HandsDetectedFrames)
		assert.Equal(t, 0, r.LeftHandFrames)
		assert.Empty(t, r.SampleFrames)
		assert.Equal(t, 1, f.videos[0].Closed())
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newFixture(t, 50, 30)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := f.svc.ProcessVideo(ctx, "clip.mp4", BatchOptions{SampleRate: 1})

		assert.False(t, r.Success)
		assert.Contains(t, r.Error, context.Canceled.Error())
		assert.Equal(t, 0, f.mock.Calls())
		assert.Equal(t, 1, f.videos[0].Closed())
	})
}

// failingAfter delegates to inner for the first after calls, then fails.
type failingAfter struct {
	inner HandExtractor
	after int
	calls int
}

func (f *failingAfter) ExtractHandLandmarks(frame *gocv.Mat) (*extractor.HandResult, error) {
	f.calls++
	if f.calls > f.after {
		return nil, &extractor.ExtractionError{Kind: detector.KindHands, Err: errors.New("inference crashed")}
	}
	return f.inner.ExtractHandLandmarks(frame)
}

func TestDetectRealtime(t *testing.T) {
	t.Run("formats every keypoint rounded", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		hand := detector.GridLandmarks(detector.Right)
		hand.Points[3].X = 0.123456789
		f.mock.SetHands([]detector.HandLandmarks{hand, detector.GridLandmarks(detector.Left)})

		payload, err := testdata.GradientBase64(16, 16, true)
		require.NoError(t, err)

		resp := DetectHandKeypointsRealtime(f.svc, payload)

		require.True(t, resp.Success, resp.Error)
		assert.Equal(t, 2, resp.HandsDetected)
		require.Len(t, resp.Hands, 2)
		assert.Equal(t, detector.Right, resp.Hands[0].HandType)
		assert.Len(t, resp.Hands[0].Keypoints, detector.NumLandmarks)
		assert.Equal(t, 0.1235, resp.Hands[0].Keypoints[3].X)
		assert.Greater(t, resp.Timestamp, 0.0)
		assert.GreaterOrEqual(t, resp.ProcessingTime, 0.0)
		assert.Empty(t, resp.ErrorKind)
	})

	t.Run("no hands is success with zero detections", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		payload, err := testdata.GradientBase64(16, 16, false)
		require.NoError(t, err)

		resp := f.svc.DetectRealtime(payload)

		assert.True(t, resp.Success)
		assert.Equal(t, 0, resp.HandsDetected)
		assert.NotNil(t, resp.Hands)
	})

	t.Run("malformed base64", func(t *testing.T) {
		f := newFixture(t, 0, 0)

		resp := f.svc.DetectRealtime("%%%definitely not base64%%%")

		assert.False(t, resp.Success)
		assert.Equal(t, ErrorKindBase64, resp.ErrorKind)
		assert.Contains(t, resp.Error, "base64")
		assert.Equal(t, 0, resp.HandsDetected)
		assert.Equal(t, 0, f.mock.Calls())
	})

	t.Run("not an image", func(t *testing.T) {
		f := newFixture(t, 0, 0)

		resp := f.svc.DetectRealtime(base64.StdEncoding.EncodeToString([]byte("hello")))

		assert.False(t, resp.Success)
		assert.Equal(t, ErrorKindImage, resp.ErrorKind)
	})

	t.Run("extraction failure", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		f.mock.SetError(errors.New("model exploded"))
		payload, err := testdata.GradientBase64(16, 16, false)
		require.NoError(t, err)

		resp := f.svc.DetectRealtime(payload)

		assert.False(t, resp.Success)
		assert.Equal(t, ErrorKindExtraction, resp.ErrorKind)
		assert.Contains(t, resp.Error, "model exploded")
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		f.svc.extractor = panicking{}
		payload, err := testdata.GradientBase64(16, 16, false)
		require.NoError(t, err)

		resp := f.svc.DetectRealtime(payload)

		assert.False(t, resp.Success)
		assert.Equal(t, ErrorKindInternal, resp.ErrorKind)
	})

	t.Run("recovers after a bad frame", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		f.mock.SetHands([]detector.HandLandmarks{detector.GridLandmarks(detector.Left)})
		good, err := testdata.GradientBase64(16, 16, false)
		require.NoError(t, err)

		assert.False(t, f.svc.DetectRealtime("###").Success)
		assert.True(t, f.svc.DetectRealtime(good).Success)
	})
}

type panicking struct{}

func (panicking) ExtractHandLandmarks(*gocv.Mat) (*extractor.HandResult, error) {
	panic("boom")
}

func TestDetectRealtimeBytes(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.mock.SetHands([]detector.HandLandmarks{detector.GridLandmarks(detector.Left)})

	payload, err := testdata.GradientBase64(16, 16, false)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)

	resp := f.svc.DetectRealtimeBytes(raw)
	assert.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, resp.HandsDetected)

	resp = f.svc.DetectRealtimeBytes(nil)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrorKindImage, resp.ErrorKind)
}

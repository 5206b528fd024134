package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func collect(t *testing.T, s *Sampler) []int {
	t.Helper()
	var indices []int
	for index, frame := range s.Frames() {
		if frame.Empty() {
			t.Fatalf("frame %d is empty", index)
		}
		indices = append(indices, index)
	}
	return indices
}

func TestSampler_Stride(t *testing.T) {
	tests := []struct {
		name        string
		frames      int
		opts        SampleOptions
		wantIndices []int
		wantVisited int
	}{
		{
			name:        "every frame",
			frames:      4,
			opts:        SampleOptions{SampleRate: 1},
			wantIndices: []int{0, 1, 2, 3},
			wantVisited: 4,
		},
		{
			name:        "100 frames at rate 10",
			frames:      100,
			opts:        SampleOptions{SampleRate: 10},
			wantIndices: []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90},
			wantVisited: 100,
		},
		{
			name:        "rate larger than video",
			frames:      3,
			opts:        SampleOptions{SampleRate: 5},
			wantIndices: []int{0},
			wantVisited: 3,
		},
		{
			name:        "capped by max frames",
			frames:      50,
			opts:        SampleOptions{SampleRate: 5, MaxFrames: 3},
			wantIndices: []int{0, 5, 10},
			wantVisited: 11,
		},
		{
			name:        "cap larger than video",
			frames:      12,
			opts:        SampleOptions{SampleRate: 4, MaxFrames: 100},
			wantIndices: []int{0, 4, 8},
			wantVisited: 12,
		},
		{
			name:        "empty video",
			frames:      0,
			opts:        SampleOptions{SampleRate: 2},
			wantIndices: nil,
			wantVisited: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := NewMockVideo(tt.frames, 30, 8, 8)
			s, err := NewSampler(video, tt.opts)
			if err != nil {
				t.Fatalf("NewSampler() error = %v", err)
			}

			got := collect(t, s)

			if len(got) != len(tt.wantIndices) {
				t.Fatalf("indices = %v, want %v", got, tt.wantIndices)
			}
			for i := range got {
				if got[i] != tt.wantIndices[i] {
					t.Errorf("indices[%d] = %d, want %d", i, got[i], tt.wantIndices[i])
				}
				if got[i]%tt.opts.SampleRate != 0 {
					t.Errorf("index %d is not a multiple of %d", got[i], tt.opts.SampleRate)
				}
			}

			stats := s.Stats()
			if stats.Visited != tt.wantVisited {
				t.Errorf("Visited = %d, want %d", stats.Visited, tt.wantVisited)
			}
			if stats.Sampled != len(tt.wantIndices) {
				t.Errorf("Sampled = %d, want %d", stats.Sampled, len(tt.wantIndices))
			}
			if video.Closed() != 1 {
				t.Errorf("Closed() = %d, want 1", video.Closed())
			}
		})
	}
}

func TestSampler_YieldsDistinctFrames(t *testing.T) {
	video := NewMockVideo(6, 30, 4, 4)
	s, err := NewSampler(video, SampleOptions{SampleRate: 2})
	if err != nil {
		t.Fatalf("NewSampler() error = %v", err)
	}

	for index, frame := range s.Frames() {
		if got := int(frame.GetUCharAt(0, 0)); got != index {
			t.Errorf("frame %d carries stamp %d", index, got)
		}
	}
}

func TestSampler_CloseOnceOnEarlyBreak(t *testing.T) {
	video := NewMockVideo(100, 30, 4, 4)
	s, err := NewSampler(video, SampleOptions{SampleRate: 1})
	if err != nil {
		t.Fatalf("NewSampler() error = %v", err)
	}

	for index := range s.Frames() {
		if index == 2 {
			break
		}
	}

	if video.Closed() != 1 {
		t.Errorf("Closed() after break = %d, want 1", video.Closed())
	}

	// Explicit close after the loop must not reach the source again
	s.Close()
	s.Close()
	if video.Closed() != 1 {
		t.Errorf("Closed() after extra Close = %d, want 1", video.Closed())
	}
	if video.Reads() != 3 {
		t.Errorf("Reads() = %d, want 3", video.Reads())
	}
}

func TestSampler_CloseOnceOnPanic(t *testing.T) {
	video := NewMockVideo(10, 30, 4, 4)
	s, err := NewSampler(video, SampleOptions{SampleRate: 1})
	if err != nil {
		t.Fatalf("NewSampler() error = %v", err)
	}

	func() {
		defer func() { recover() }()
		for range s.Frames() {
			panic("detector blew up")
		}
	}()

	if video.Closed() != 1 {
		t.Errorf("Closed() = %d, want 1", video.Closed())
	}
}

func TestSampler_NotRestartable(t *testing.T) {
	video := NewMockVideo(5, 30, 4, 4)
	s, err := NewSampler(video, SampleOptions{SampleRate: 1})
	if err != nil {
		t.Fatalf("NewSampler() error = %v", err)
	}

	if got := collect(t, s); len(got) != 5 {
		t.Fatalf("first pass yielded %d frames, want 5", len(got))
	}
	if got := collect(t, s); len(got) != 0 {
		t.Errorf("second pass yielded %d frames, want 0", len(got))
	}
	if !errors.Is(s.Err(), ErrSamplerConsumed) {
		t.Errorf("Err() = %v, want ErrSamplerConsumed", s.Err())
	}
}

func TestSampleOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    SampleOptions
		wantErr bool
	}{
		{"valid", SampleOptions{SampleRate: 5}, false},
		{"valid with cap", SampleOptions{SampleRate: 1, MaxFrames: 10}, false},
		{"zero rate", SampleOptions{SampleRate: 0}, true},
		{"negative rate", SampleOptions{SampleRate: -3}, true},
		{"negative cap", SampleOptions{SampleRate: 1, MaxFrames: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSampler_InvalidOptionsClosesSource(t *testing.T) {
	video := NewMockVideo(5, 30, 4, 4)
	if _, err := NewSampler(video, SampleOptions{}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if video.Closed() != 1 {
		t.Errorf("Closed() = %d, want 1", video.Closed())
	}
}

func TestOpenSampler(t *testing.T) {
	t.Run("uses opener", func(t *testing.T) {
		video := NewMockVideo(3, 30, 4, 4)
		var opened string
		open := func(path string) (VideoSource, error) {
			opened = path
			return video, nil
		}

		s, err := OpenSampler(open, "clip.mp4", SampleOptions{SampleRate: 1})
		if err != nil {
			t.Fatalf("OpenSampler() error = %v", err)
		}
		if opened != "clip.mp4" {
			t.Errorf("opened %q, want clip.mp4", opened)
		}
		if got := collect(t, s); len(got) != 3 {
			t.Errorf("yielded %d frames, want 3", len(got))
		}
	})

	t.Run("invalid options skip opening", func(t *testing.T) {
		open := func(string) (VideoSource, error) {
			t.Fatal("opener should not be called")
			return nil, nil
		}
		if _, err := OpenSampler(open, "clip.mp4", SampleOptions{SampleRate: 0}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("open error propagates", func(t *testing.T) {
		_, err := OpenSampler(nil, "/nonexistent/clip.mp4", SampleOptions{SampleRate: 1})
		if !errors.Is(err, ErrVideoOpen) {
			t.Errorf("error = %v, want ErrVideoOpen", err)
		}
	})
}

var _ VideoSource = (*MockVideo)(nil)

func TestMockVideo_ReadAfterClose(t *testing.T) {
	video := NewMockVideo(3, 30, 4, 4)
	video.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	if video.Read(&frame) {
		t.Error("Read() after Close returned true")
	}
}

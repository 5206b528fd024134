package capture

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"gocv.io/x/gocv"
)

// ErrSamplerConsumed is reported by Err when Frames is ranged over a second time.
var ErrSamplerConsumed = errors.New("sampler already consumed")

// SampleOptions controls which frames a Sampler yields.
type SampleOptions struct {
	// SampleRate yields every SampleRate-th frame, starting at frame 0.
	SampleRate int
	// MaxFrames caps the number of yielded frames. Zero means no cap.
	MaxFrames int
}

// Validate rejects a stride below one and a negative cap.
func (o SampleOptions) Validate() error {
	if o.SampleRate < 1 {
		return fmt.Errorf("sample rate must be at least 1, got %d", o.SampleRate)
	}
	if o.MaxFrames < 0 {
		return fmt.Errorf("max frames must not be negative, got %d", o.MaxFrames)
	}
	return nil
}

// Stats counts the frames a Sampler has decoded and yielded.
type Stats struct {
	Visited int `json:"frames_visited"`
	Sampled int `json:"frames_sampled"`
}

// Sampler walks a video once, yielding frames at a fixed stride.
type Sampler struct {
	src  VideoSource
	opts SampleOptions

	mu       sync.Mutex
	stats    Stats
	started  bool
	err      error
	once     sync.Once
	closeErr error
}

// NewSampler wraps an open source. The sampler owns src from here on and
// closes it when iteration ends or Close is called.
func NewSampler(src VideoSource, opts SampleOptions) (*Sampler, error) {
	if err := opts.Validate(); err != nil {
		src.Close()
		return nil, err
	}
	return &Sampler{src: src, opts: opts}, nil
}

// OpenSampler opens path with open and wraps it in a Sampler.
func OpenSampler(open Opener, path string, opts SampleOptions) (*Sampler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = OpenVideoFile
	}
	src, err := open(path)
	if err != nil {
		return nil, err
	}
	return &Sampler{src: src, opts: opts}, nil
}

// Source returns the underlying video.
func (s *Sampler) Source() VideoSource {
	return s.src
}

// Frames yields (frame index, frame) for every index divisible by the sample
// rate, until the video ends or MaxFrames frames have been yielded. The Mat
// is reused between steps; Clone it to keep it. The sequence can be ranged
// over once; the video is closed when the loop ends, however it ends.
func (s *Sampler) Frames() iter.Seq2[int, *gocv.Mat] {
	return func(yield func(int, *gocv.Mat) bool) {
		s.mu.Lock()
		if s.started {
			s.err = ErrSamplerConsumed
			s.mu.Unlock()
			return
		}
		s.started = true
		s.mu.Unlock()

		defer s.Close()

		frame := gocv.NewMat()
		defer frame.Close()

		for index := 0; ; index++ {
			if !s.src.Read(&frame) || frame.Empty() {
				return
			}

			s.mu.Lock()
			s.stats.Visited++
			s.mu.Unlock()

			if index%s.opts.SampleRate != 0 {
				continue
			}

			s.mu.Lock()
			s.stats.Sampled++
			sampled := s.stats.Sampled
			s.mu.Unlock()

			if !yield(index, &frame) {
				return
			}
			if s.opts.MaxFrames > 0 && sampled >= s.opts.MaxFrames {
				return
			}
		}
	}
}

// Stats returns the counters so far.
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Err reports misuse of the sampler, such as ranging over it twice.
func (s *Sampler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the video. Only the first call reaches the source.
func (s *Sampler) Close() error {
	s.once.Do(func() {
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}

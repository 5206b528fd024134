package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrScriptNotFound is returned when the MediaPipe sidecar script cannot be located.
var ErrScriptNotFound = errors.New("mediapipe_service.py not found")

// DefaultIdleTimeout is how long an unused sidecar process stays alive.
const DefaultIdleTimeout = 30 * time.Second

// MediaPipeOptions locates and tunes the Python sidecar.
type MediaPipeOptions struct {
	// Script is the path to mediapipe_service.py. Searched for when empty.
	Script string
	// Python is the interpreter. A virtualenv interpreter or python3 when empty.
	Python string
	// IdleTimeout stops the sidecar after this long without frames.
	IdleTimeout time.Duration
	Logger      logrus.FieldLogger
}

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
//
// Protocol: each frame is written to stdin as a 4-byte big-endian length
// followed by JPEG bytes; the sidecar answers with one JSON object per line.
type MediaPipeDetector struct {
	kind      Kind
	config    Config
	opts      MediaPipeOptions
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewMediaPipeFactory returns a Factory producing MediaPipe detectors.
// It fails up front when the sidecar script cannot be found.
func NewMediaPipeFactory(opts MediaPipeOptions) (Factory, error) {
	script := opts.Script
	if script == "" {
		script = findMediaPipeScript()
	}
	if script == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptNotFound, err)
	}
	opts.Script = script

	return func(kind Kind, config Config) (Detector, error) {
		return NewMediaPipeDetector(kind, config, opts)
	}, nil
}

// NewMediaPipeDetector creates a new MediaPipe detector of the given kind.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(kind Kind, config Config, opts MediaPipeOptions) (*MediaPipeDetector, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown detector kind %q", kind)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if opts.Script == "" {
		opts.Script = findMediaPipeScript()
	}
	if opts.Script == "" {
		return nil, ErrScriptNotFound
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &MediaPipeDetector{
		kind:   kind,
		config: config,
		opts:   opts,
	}, nil
}

// Kind returns the model this detector runs.
func (d *MediaPipeDetector) Kind() Kind {
	return d.kind
}

// Detect analyzes a frame and returns detected landmarks.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) (*Result, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write data: %w", err)
	}

	// Read JSON response
	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	result, err := parseResponse([]byte(line))
	if err != nil {
		return nil, err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return result, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) args() []string {
	return []string{
		d.opts.Script,
		"--mode", string(d.kind),
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	}
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	pythonPath := d.opts.Python
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	d.cmd = exec.Command(pythonPath, d.args()...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Sidecar diagnostics go straight to our stderr
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	d.opts.Logger.WithFields(logrus.Fields{
		"kind": d.kind,
		"pid":  d.cmd.Process.Pid,
	}).Info("MediaPipe sidecar started")

	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	d.opts.Logger.WithField("kind", d.kind).Info("MediaPipe sidecar stopped")

	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.opts.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findMediaPipeScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/mediapipe_service.py",
		"../scripts/mediapipe_service.py",
		filepath.Join(execDir, "scripts/mediapipe_service.py"),
		filepath.Join(os.Getenv("HOME"), ".vsl/scripts/mediapipe_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".vsl/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonResponse is one line written by the sidecar.
type jsonResponse struct {
	Hands     []jsonHand  `json:"hands"`
	Pose      []jsonPoint `json:"pose"`
	Face      []jsonPoint `json:"face"`
	LeftHand  []jsonPoint `json:"left_hand"`
	RightHand []jsonPoint `json:"right_hand"`
	Error     string      `json:"error"`
}

type jsonHand struct {
	Points     []jsonPoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type jsonPoint struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	Visibility *float64 `json:"visibility"`
}

func (p jsonPoint) toLandmark() Landmark {
	lm := Landmark{X: p.X, Y: p.Y, Z: p.Z, Visibility: DefaultVisibility}
	if p.Visibility != nil {
		lm.Visibility = *p.Visibility
	}
	return lm
}

func (h jsonHand) toHandLandmarks() (HandLandmarks, error) {
	if len(h.Points) != NumLandmarks {
		return HandLandmarks{}, fmt.Errorf("hand has %d points, want %d", len(h.Points), NumLandmarks)
	}

	lm := HandLandmarks{
		Handedness: ParseHandedness(h.Handedness),
		Score:      h.Score,
	}
	for i := range h.Points {
		lm.Points[i] = h.Points[i].toLandmark()
	}
	return lm, nil
}

func toLandmarks(points []jsonPoint) []Landmark {
	if len(points) == 0 {
		return nil
	}
	out := make([]Landmark, len(points))
	for i, p := range points {
		out[i] = p.toLandmark()
	}
	return out
}

// parseResponse converts a sidecar response line into a Result.
func parseResponse(line []byte) (*Result, error) {
	var response jsonResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("mediapipe: %s", response.Error)
	}

	result := &Result{
		Pose:      toLandmarks(response.Pose),
		Face:      toLandmarks(response.Face),
		LeftHand:  toLandmarks(response.LeftHand),
		RightHand: toLandmarks(response.RightHand),
	}
	for _, h := range response.Hands {
		hand, err := h.toHandLandmarks()
		if err != nil {
			return nil, err
		}
		result.Hands = append(result.Hands, hand)
	}

	return result, nil
}

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/vsl/internal/keypoints"
	"github.com/ayusman/vsl/internal/server/middleware"
)

const (
	// DefaultReadTimeout closes a session that sends nothing for this long.
	DefaultReadTimeout = 60 * time.Second

	writeTimeout   = 10 * time.Second
	maxMessageSize = 16 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients are served from other origins during development
	},
}

// RealtimeService answers one frame at a time.
type RealtimeService interface {
	DetectRealtime(payload string) *keypoints.RealtimeResponse
	DetectRealtimeBytes(data []byte) *keypoints.RealtimeResponse
}

// KeypointStreamHandler runs one realtime keypoint session per websocket.
// Text messages carry base64 frames, binary messages raw image bytes; each
// is answered with one JSON response, in order.
type KeypointStreamHandler struct {
	service     RealtimeService
	readTimeout time.Duration
	logger      logrus.FieldLogger

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	sessions sync.WaitGroup
	closed   bool
}

// NewKeypointStreamHandler creates a KeypointStreamHandler.
func NewKeypointStreamHandler(svc RealtimeService, readTimeout time.Duration, logger logrus.FieldLogger) *KeypointStreamHandler {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KeypointStreamHandler{
		service:     svc,
		readTimeout: readTimeout,
		logger:      logger,
		conns:       make(map[*websocket.Conn]struct{}),
	}
}

// track registers a live session. It fails once Shutdown has started.
func (h *KeypointStreamHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.sessions.Add(1)
	return true
}

func (h *KeypointStreamHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.sessions.Done()
}

// Shutdown refuses new sessions, closes the live ones and waits for their
// loops to return, or for ctx to end.
func (h *KeypointStreamHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the connection and loops until the client disconnects.
func (h *KeypointStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFrom(r.Context()),
		"ip":         middleware.ClientIP(r),
	})

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	if !h.track(conn) {
		return
	}
	defer h.untrack(conn)

	log.Info("Keypoint stream client connected")
	frames := 0
	defer func() {
		log.WithField("frames", frames).Info("Keypoint stream client disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
			log.WithError(err).Warn("Failed to set read deadline")
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.WithError(err).Warn("Keypoint stream closed unexpectedly")
			}
			return
		}

		var resp *keypoints.RealtimeResponse
		switch messageType {
		case websocket.TextMessage:
			resp = h.service.DetectRealtime(string(message))
		case websocket.BinaryMessage:
			resp = h.service.DetectRealtimeBytes(message)
		default:
			continue
		}
		frames++

		if !resp.Success {
			log.WithFields(logrus.Fields{
				"error":      resp.Error,
				"error_kind": resp.ErrorKind,
			}).Debug("Frame failed")
		}

		data, err := json.Marshal(resp)
		if err != nil {
			log.WithError(err).Error("Failed to encode frame response")
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).Warn("Failed to write frame response")
			return
		}
	}
}

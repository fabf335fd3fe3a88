package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/wesm/dashai/internal/logging"
)

const sseWriteTimeout = 3 * time.Second

// SSEStream manages a Server-Sent Events connection. Frames carry
// only a data line; the event kind lives in the JSON "type" field.
type SSEStream struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewSSEStream initializes an SSE connection by setting the
// required headers and flushing them to the client. Returns an
// error if the ResponseWriter does not support streaming.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSEStream{w: w, f: f}, nil
}

// Send writes one data frame. It returns false when the write
// fails.
func (s *SSEStream) Send(data []byte) bool {
	// A stalled client must not block the handler forever.
	rc := http.NewResponseController(s.w)
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		logging.Debug().Err(err).Msg("SSE write error")
		return false
	}
	s.f.Flush()
	return true
}

// SendJSON writes v as a JSON data frame.
// Logs and skips the frame if marshaling fails.
func (s *SSEStream) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("SSE marshal error")
		return false
	}
	return s.Send(data)
}

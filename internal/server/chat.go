package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/wesm/dashai/internal/agent"
	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/metrics"
	"github.com/wesm/dashai/internal/relay"
)

// maxChatBody bounds the POST /chat request body.
const maxChatBody = 1 << 20

// AG-UI event types emitted on the chat stream.
const (
	eventRunStarted  = "RUN_STARTED"
	eventRaw         = "RAW"
	eventRunError    = "RUN_ERROR"
	eventRunFinished = "RUN_FINISHED"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

// streamEvent is one frame on the chat stream.
type streamEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"threadId"`
	RunID    string     `json:"runId"`
	Event    *toolFrame `json:"event,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// toolFrame is the payload of a RAW frame.
type toolFrame struct {
	Seq    int64  `json:"seq"`
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// runOutcome labels an agent run for metrics.
func runOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, agent.ErrAgentUnavailable),
		errors.Is(err, agent.ErrCircuitOpen):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// unavailable reports whether err means the agent cannot take
// runs right now, with the message to show.
func unavailable(err error) (string, bool) {
	switch {
	case errors.Is(err, agent.ErrAgentUnavailable):
		return agent.ErrAgentUnavailable.Error(), true
	case errors.Is(err, agent.ErrCircuitOpen):
		return agent.ErrCircuitOpen.Error(), true
	}
	return "", false
}

// newRun allocates a correlation pair and tags ctx with it.
func newRun(ctx context.Context) (context.Context, string, string) {
	threadID, runID := uuid.NewString(), uuid.NewString()
	return logging.ContextWithRun(ctx, threadID, runID), threadID, runID
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			"Field 'message' is required.")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest,
			"Field 'message' is required.")
		return
	}

	ctx, threadID, runID := newRun(r.Context())
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Agent.Timeout)
	defer cancel()
	log := logging.Ctx(ctx)

	start := time.Now()
	res, err := s.agent.Run(ctx, agent.Task{
		Input: req.Message, ThreadID: threadID, RunID: runID,
	}, nil)
	metrics.RecordAgentRun("chat", runOutcome(err), time.Since(start))

	if err != nil {
		if msg, ok := unavailable(err); ok {
			log.Warn().Err(err).Msg("chat rejected")
			writeError(w, http.StatusServiceUnavailable, msg)
			return
		}
		if errors.Is(r.Context().Err(), context.Canceled) {
			log.Debug().Msg("chat client went away")
			return
		}
		log.Error().Err(err).Msg("chat agent run failed")
		writeError(w, http.StatusInternalServerError,
			"Internal Server Error")
		return
	}
	if res.Results == nil {
		res.Results = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatStream(
	w http.ResponseWriter, r *http.Request,
) {
	message := strings.TrimSpace(r.URL.Query().Get("user_message"))
	if message == "" {
		writeError(w, http.StatusBadRequest,
			"Field 'user_message' is required.")
		return
	}

	ctx, threadID, runID := newRun(r.Context())
	log := logging.Ctx(ctx)

	session := s.hub.Open(threadID, runID)
	defer session.Close()

	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			"streaming not supported")
		return
	}

	frame := func(typ string) streamEvent {
		return streamEvent{Type: typ, ThreadID: threadID, RunID: runID}
	}
	if !stream.SendJSON(frame(eventRunStarted)) {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Agent.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		start := time.Now()
		_, err := s.agent.Run(runCtx, agent.Task{
			Input: message, ThreadID: threadID, RunID: runID,
		}, func(ev agent.ToolEvent) {
			s.hub.Publish(relay.Event{
				Tool:     ev.Tool,
				Output:   ev.Output,
				ThreadID: threadID,
				RunID:    runID,
			})
		})
		metrics.RecordAgentRun("stream", runOutcome(err), time.Since(start))
		done <- err
		session.Close()
	}()

	for {
		ev, ok, err := session.Next(r.Context())
		if err != nil {
			log.Debug().Err(err).Msg("chat stream client went away")
			return
		}
		if !ok {
			break
		}
		f := frame(eventRaw)
		f.Event = &toolFrame{Seq: ev.Seq, Tool: ev.Tool, Output: ev.Output}
		if !stream.SendJSON(f) {
			return
		}
	}

	if err := <-done; err != nil {
		log.Error().Err(err).Msg("chat stream agent run failed")
		f := frame(eventRunError)
		f.Message = streamErrorMessage(err)
		if !stream.SendJSON(f) {
			return
		}
	}
	stream.SendJSON(frame(eventRunFinished))
}

// streamErrorMessage is the client-facing text of a failed run.
func streamErrorMessage(err error) string {
	if msg, ok := unavailable(err); ok {
		return msg
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "agent timed out"
	default:
		return "agent run failed"
	}
}

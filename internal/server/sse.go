package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docsage/docsage/pkg/models"
)

// sseFrame is the JSON payload of one `data:` line. Exactly one of the
// fields is set per frame.
type sseFrame struct {
	Text string `json:"text,omitempty"`

	ToolCallStarted   *toolCallFrame `json:"tool_call_started,omitempty"`
	ToolCallCompleted *toolCallFrame `json:"tool_call_completed,omitempty"`

	TurnBoundary bool `json:"turn_boundary,omitempty"`

	Error string           `json:"error,omitempty"`
	Kind  models.ErrorKind `json:"kind,omitempty"`

	Done bool `json:"done,omitempty"`
}

type toolCallFrame struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsError bool   `json:"is_error,omitempty"`
}

// sseSink writes orchestrator events as server-sent events. Each frame is
// flushed immediately so token deltas reach the client as they arrive. Any
// write failure is reported back to the orchestrator, which treats it as a
// departed client.
type sseSink struct {
	w           http.ResponseWriter
	rc          *http.ResponseController
	idleTimeout time.Duration
	wrote       bool
}

func newSSESink(w http.ResponseWriter, idleTimeout time.Duration) *sseSink {
	return &sseSink{
		w:           w,
		rc:          http.NewResponseController(w),
		idleTimeout: idleTimeout,
	}
}

func (s *sseSink) send(frame sseFrame) error {
	if !s.wrote {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if s.idleTimeout > 0 {
		// Deadline errors are non-fatal on transports that do not support
		// per-write deadlines.
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.idleTimeout))
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSink) Text(delta string) error {
	return s.send(sseFrame{Text: delta})
}

func (s *sseSink) ToolCallStarted(id, name string) error {
	return s.send(sseFrame{ToolCallStarted: &toolCallFrame{ID: id, Name: name}})
}

func (s *sseSink) ToolCallCompleted(id, name string, isError bool) error {
	return s.send(sseFrame{ToolCallCompleted: &toolCallFrame{ID: id, Name: name, IsError: isError}})
}

func (s *sseSink) TurnBoundary() error {
	return s.send(sseFrame{TurnBoundary: true})
}

func (s *sseSink) Error(kind models.ErrorKind, message string) error {
	return s.send(sseFrame{Error: message, Kind: kind})
}

func (s *sseSink) Done(resp *models.LLMResponse) error {
	return s.send(sseFrame{Done: true})
}

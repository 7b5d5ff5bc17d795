// Package sink writes stream records to an io.Writer as JSON lines.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/streamctl/internal/stream"
)

var ErrClosed = errors.New("sink: closed")

// JSONLines emits one line per record. With Envelope set each line wraps the
// payload with its session id and receive time; otherwise the payload is
// written byte for byte.
type JSONLines struct {
	mu       sync.Mutex
	w        io.Writer
	envelope bool
	written  int64
	closed   bool
}

type envelope struct {
	SessionID  string          `json:"session_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

func NewJSONLines(w io.Writer, withEnvelope bool) *JSONLines {
	return &JSONLines{w: w, envelope: withEnvelope}
}

func (s *JSONLines) Emit(ctx context.Context, rec stream.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := s.encode(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("sink: write: %w", err)
	}
	s.written++
	return nil
}

func (s *JSONLines) encode(rec stream.Record) ([]byte, error) {
	if !s.envelope {
		line := make([]byte, 0, len(rec.Raw)+1)
		line = append(line, rec.Raw...)
		return append(line, '\n'), nil
	}
	line, err := json.Marshal(envelope{
		SessionID:  rec.SessionID,
		ReceivedAt: rec.ReceivedAt.UTC(),
		Data:       rec.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: encode: %w", err)
	}
	return append(line, '\n'), nil
}

// Written reports how many records reached the writer.
func (s *JSONLines) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close stops further writes. The writer belongs to the caller and is left
// open.
func (s *JSONLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

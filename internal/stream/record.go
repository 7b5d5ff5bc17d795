package stream

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one payload delivered by the stream, byte-identical to the
// received JSON.
type Record struct {
	SessionID  string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// Sink receives records synchronously, in arrival order.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
}

type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Emit(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

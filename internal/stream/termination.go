package stream

import (
	"errors"
	"fmt"
	"time"
)

// Reason tags why a session ended.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonTimeout covers the idle-read timer and socket timeouts.
	ReasonTimeout
	// ReasonIssueSignal is the server announcing it will drop the session.
	ReasonIssueSignal
	// ReasonTransport is any other dial, status or read failure, clean EOF
	// included.
	ReasonTransport
	// ReasonAborted is cancellation by the owner.
	ReasonAborted
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonIssueSignal:
		return "issue_signal"
	case ReasonTransport:
		return "transport"
	case ReasonAborted:
		return "aborted"
	default:
		return "none"
	}
}

var (
	errIdleTimeout = errors.New("stream: idle timeout")
	errIssueSignal = errors.New("stream: connection issue signalled")
	errAborted     = errors.New("stream: session aborted")
	errEnded       = errors.New("stream: session ended")
)

// Termination is the terminal event of one session.
type Termination struct {
	Reason     Reason
	StatusCode int
	Err        error
	At         time.Time
}

func (t Termination) String() string {
	switch {
	case t.StatusCode != 0 && t.Err != nil:
		return fmt.Sprintf("%s status=%d err=%v", t.Reason, t.StatusCode, t.Err)
	case t.Err != nil:
		return fmt.Sprintf("%s err=%v", t.Reason, t.Err)
	default:
		return t.Reason.String()
	}
}

package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind is the classification of one received chunk.
type Kind int

const (
	KindHeartbeat Kind = iota
	KindRecord
	KindIssueSignal
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindRecord:
		return "record"
	case KindIssueSignal:
		return "issue_signal"
	default:
		return "unknown"
	}
}

// Classify sorts a chunk. Anything that is not valid JSON is a heartbeat:
// keep-alive bytes and malformed payloads are deliberately the same thing.
// A JSON object whose issueField is truthy is an issue signal; every other
// JSON value is a record.
func Classify(chunk []byte, issueField string) Kind {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return KindHeartbeat
	}
	if trimmed[0] != '{' {
		return KindRecord
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return KindHeartbeat
	}
	if v, ok := obj[issueField]; ok && truthy(v) {
		return KindIssueSignal
	}
	return KindRecord
}

// truthy follows JavaScript truthiness for a JSON value.
func truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch v[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return false
		}
		return s != ""
	default:
		f, err := strconv.ParseFloat(string(v), 64)
		return err == nil && f != 0
	}
}

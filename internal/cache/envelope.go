package cache

import (
	"bytes"

	"github.com/goccy/go-json"
)

// FailureMeta is the typed error metadata recorded in a negative envelope.
type FailureMeta struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Envelope is the two-variant record stored in Redis. A success carries an
// opaque JSON value; a failure carries typed error metadata. Unknown fields
// are ignored on read for forward compatibility.
type Envelope struct {
	Success bool            `json:"s"`
	Value   json.RawMessage `json:"v,omitempty"`
	Err     *FailureMeta    `json:"e,omitempty"`
}

// encodeSuccess wraps a raw JSON value in a success envelope.
func encodeSuccess(value []byte) ([]byte, error) {
	return json.Marshal(Envelope{Success: true, Value: value})
}

// encodeFailure wraps error metadata in a failure envelope.
func encodeFailure(meta FailureMeta) ([]byte, error) {
	return json.Marshal(Envelope{Success: false, Err: &meta})
}

// decodeEnvelope parses envelope bytes. A parse failure returns a non-nil
// error and the caller treats the entry as a miss. Structural corruption
// (success without value, failure without type) is reported through the
// envelope itself; see Envelope.missingValue and Envelope.discardable.
func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// missingValue reports a success envelope with no usable value. JSON null
// counts as missing.
func (e *Envelope) missingValue() bool {
	if !e.Success {
		return false
	}
	return len(e.Value) == 0 || bytes.Equal(e.Value, []byte("null"))
}

// discardable reports a failure envelope with no error type; such entries
// are dropped as misses rather than replayed.
func (e *Envelope) discardable() bool {
	return !e.Success && (e.Err == nil || e.Err.Type == "")
}

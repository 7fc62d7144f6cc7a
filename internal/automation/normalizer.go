package automation

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// requiredFields lists the fields each event type must carry.
var requiredFields = map[EventType][]string{
	EventMessageReceived:   {"content"},
	EventSentimentDetected: {"sentiment"},
	EventKeywordFound:      {"content"},
	EventCustomerCreated:   nil,
}

// Normalizer turns raw occurrences into Events stamped with ingestion time.
// A redelivered occurrence keeps the ingestion time of its first intake.
type Normalizer struct {
	mu    sync.Mutex
	seq   uint64
	last  time.Time
	now   func() time.Time
	newID func() string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// WithClock replaces the ingestion clock. Used by tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize validates raw and returns the uniform event record.
func (n *Normalizer) Normalize(raw RawOccurrence) (Event, error) {
	typ := EventType(strings.TrimSpace(raw.Type))
	if !typ.Valid() {
		return Event{}, &MalformedEventError{Type: raw.Type, Reason: "unknown event type"}
	}
	subject := strings.TrimSpace(raw.SubjectID)
	if subject == "" {
		return Event{}, &MalformedEventError{Type: raw.Type, Field: "subject_id", Reason: "is required"}
	}

	fields := make(map[string]interface{}, len(raw.Fields))
	for k, v := range raw.Fields {
		if v == nil {
			continue
		}
		scalar, ok := toScalar(v)
		if !ok {
			return Event{}, &MalformedEventError{Type: raw.Type, Field: k, Reason: "is not a scalar"}
		}
		fields[k] = scalar
	}
	for _, f := range requiredFields[typ] {
		v, ok := fields[f]
		if !ok {
			return Event{}, &MalformedEventError{Type: raw.Type, Field: f, Reason: "is required"}
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return Event{}, &MalformedEventError{Type: raw.Type, Field: f, Reason: "is empty"}
		}
	}

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = n.newID()
	}

	n.mu.Lock()
	n.seq++
	seq := n.seq
	ts := raw.IngestedAt
	if ts.IsZero() {
		ts = n.now()
		// keep ingestion time monotonic even if the wall clock steps back
		if ts.Before(n.last) {
			ts = n.last
		}
		n.last = ts
	}
	n.mu.Unlock()

	return Event{
		ID:         id,
		Type:       typ,
		SubjectID:  subject,
		OccurredAt: ts,
		SourceTime: raw.OccurredAt,
		Sequence:   seq,
		Fields:     fields,
	}, nil
}

// toScalar coerces v to string, bool or float64.
func toScalar(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case string, bool, float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String(), true
		}
		return f, true
	default:
		return nil, false
	}
}

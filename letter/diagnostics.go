package letter

import (
	"maps"
	"math"
	"strconv"
	"time"
)

// Diagnostic keys written by the [Enricher].
const (
	DiagAttempts        = "attempts"
	DiagLastTriedAt     = "last_tried_at"
	DiagCauseKind       = "cause_kind"
	DiagProcessingGroup = "processing_group"
	DiagFirstFailedAt   = "first_failed_at"
)

// Diagnostics is the free-form context attached to a letter. Values must
// survive a JSON or msgpack round trip, so numbers may come back as any
// numeric type; use the typed accessors.
type Diagnostics map[string]any

// Clone returns a shallow copy of d. Values are treated as immutable.
func (d Diagnostics) Clone() Diagnostics {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Attempts returns the number of failed redelivery attempts.
func (d Diagnostics) Attempts() int {
	switch v := d[DiagAttempts].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint:
		return int(min(v, math.MaxInt32))
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(min(v, math.MaxInt32))
	case float32:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// LastTriedAt returns the time of the most recent redelivery attempt, or
// the zero time if none happened.
func (d Diagnostics) LastTriedAt() time.Time {
	return d.timeAt(DiagLastTriedAt)
}

// ProcessingGroup returns the processing group the letter was parked by.
func (d Diagnostics) ProcessingGroup() string {
	s, _ := d[DiagProcessingGroup].(string)
	return s
}

func (d Diagnostics) timeAt(key string) time.Time {
	switch v := d[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

package assoc

import (
	"errors"
	"fmt"

	"github.com/banshee-data/tracefeatures/internal/trace"
)

var (
	// ErrConsistency is matched by every ConsistencyError.
	ErrConsistency = errors.New("row bookkeeping is inconsistent")
	// ErrOutOfRange is matched by every RangeError.
	ErrOutOfRange = errors.New("index out of range")
)

// ConsistencyError means labels, traces and rows disagree. It always
// points at a bug upstream of the index and is never tolerated.
type ConsistencyError struct {
	Row    int // -1 when not tied to a row
	Reason string
}

func (e *ConsistencyError) Error() string {
	if e.Row < 0 {
		return "reverse association: " + e.Reason
	}
	return fmt.Sprintf("reverse association: row %d: %s", e.Row, e.Reason)
}

// Is lets errors.Is(err, ErrConsistency) match.
func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// RangeError reports a requested row outside the index, or a resolved
// sample outside the bounds of the record supplied for its trace.
type RangeError struct {
	Trace trace.TraceID // empty for row indices
	Index int
	Len   int
}

func (e *RangeError) Error() string {
	if e.Trace == "" {
		return fmt.Sprintf("row %d out of range [0, %d)", e.Index, e.Len)
	}
	return fmt.Sprintf("trace %q: sample %d out of range [0, %d)", e.Trace, e.Index, e.Len)
}

// Is lets errors.Is(err, ErrOutOfRange) match.
func (e *RangeError) Is(target error) bool { return target == ErrOutOfRange }

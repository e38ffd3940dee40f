package security

import "errors"

var (
	// ErrEmptyInput is returned when analysis is requested for empty text.
	// It is the only caller-visible analysis error; everything else is
	// recovered internally via the keyword fallback.
	ErrEmptyInput = errors.New("input text is empty")

	// ErrDetectorUnavailable signals that a configured classifier could not
	// be reached or was never loaded. Fusion substitutes the keyword
	// fallback for the affected source instead of surfacing it.
	ErrDetectorUnavailable = errors.New("detector unavailable")
)

// SourceResult is the outcome of invoking one SignalSource: either a signal
// or an error, never both. Fusion branches on Err explicitly rather than
// relying on panics or sentinel labels.
type SourceResult struct {
	Signal ThreatSignal
	Err    error
}

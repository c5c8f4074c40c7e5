package pipeline

import "github.com/rotisserie/eris"

// ErrTimeout is returned when the run deadline expires before the
// validation stage begins. Nothing is persisted.
var ErrTimeout = eris.New("pipeline: deadline exceeded")

// ErrInconsistent is returned when a stage hands the validator a malformed
// candidate. The run aborts and nothing is persisted.
var ErrInconsistent = eris.New("pipeline: internal inconsistency")

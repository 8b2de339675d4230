package transcription

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of one transcription job.
type State int

const (
	// StateReceived - request accepted, upload not yet staged.
	StateReceived State = iota
	// StateStaged - upload written to a temporary file.
	StateStaged
	// StateProbed - duration known, or degraded to zero.
	StateProbed
	// StateTranscribing - recognizer running, estimator ticking.
	StateTranscribing
	// StateFinalizing - recognizer returned, terminal 100 broadcast.
	StateFinalizing
	// StatePersisted - record written. Terminal.
	StatePersisted
	// StateFailed - any step failed. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateStaged:
		return "STAGED"
	case StateProbed:
		return "PROBED"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateFinalizing:
		return "FINALIZING"
	case StatePersisted:
		return "PERSISTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for PERSISTED and FAILED.
func (s State) IsTerminal() bool {
	return s == StatePersisted || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrJobFinished       = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Job tracks one request through the pipeline. Thread-safe.
//
// State transitions:
//
//	RECEIVED → STAGED → PROBED → TRANSCRIBING → FINALIZING → PERSISTED
//	    │         │        │           │              │
//	    └─────────┴────────┴───────────┴──────────────┴──→ FAILED
//
// Each forward step must go to the immediate successor.
type Job struct {
	mu        sync.RWMutex
	id        string
	fileName  string
	state     State
	startedAt time.Time
	err       error
}

// NewJob creates a job in RECEIVED state.
func NewJob(id, fileName string, now time.Time) *Job {
	return &Job{
		id:        id,
		fileName:  fileName,
		state:     StateReceived,
		startedAt: now,
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// FileName returns the uploaded file name.
func (j *Job) FileName() string { return j.fileName }

// StartedAt returns when the job was received.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Err returns the failure cause, if the job failed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Advance moves the job to next, which must directly follow the current
// state.
func (j *Job) Advance(next State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return ErrJobFinished
	}
	if next == StateFailed || next != j.state+1 {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, j.state, next)
	}
	j.state = next
	return nil
}

// Fail moves the job to FAILED and records err. Returns false if the job had
// already reached a terminal state.
func (j *Job) Fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = StateFailed
	j.err = err
	return true
}

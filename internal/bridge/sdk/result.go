package sdk

import (
	"fmt"

	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
)

// Result is the accumulator for one streaming command. It is mutated
// incrementally by the read loop and finalized exactly once when the
// process exits or is interrupted.
type Result struct {
	Success     bool
	Interrupted bool
	Error       string
	ErrorCode   string
	FinalResult string
	Messages    []*Event
	// MessageCount is fixed to len(Messages) at finalization time
	MessageCount int
	ExitCode     int

	determined bool
	// sendErrLatched prevents a generic exit-code error from clobbering
	// a more specific error already captured during line classification
	sendErrLatched bool
}

// NewResult creates an undetermined Result.
func NewResult() *Result {
	return &Result{ExitCode: -1}
}

// AppendMessage records one transcript-affecting protocol event.
func (r *Result) AppendMessage(ev *Event) {
	r.Messages = append(r.Messages, ev)
}

// AppendText accumulates final assistant text.
func (r *Result) AppendText(text string) {
	r.FinalResult += text
}

// LatchError records a send-error reported by the protocol stream. The
// first latched error wins; finalization will not overwrite it.
func (r *Result) LatchError(msg string) {
	if r.sendErrLatched {
		return
	}
	r.sendErrLatched = true
	r.Error = msg
}

// HasLatchedError reports whether a send-error was latched.
func (r *Result) HasLatchedError() bool {
	return r.sendErrLatched
}

// Determined reports whether the result has been finalized.
func (r *Result) Determined() bool {
	return r.determined
}

// Fail finalizes the result as a failure with a structured code. Used
// for pre-spawn errors where no process ran.
func (r *Result) Fail(code, msg string) *Result {
	if r.determined {
		return r
	}
	r.determined = true
	r.Success = false
	r.ErrorCode = code
	if !r.sendErrLatched {
		r.Error = msg
	}
	r.MessageCount = len(r.Messages)
	return r
}

// Finalize resolves the result from the process exit. Interrupt wins
// over everything; a latched send-error is preserved and only surfaced
// as failure when the exit code is nonzero.
func (r *Result) Finalize(exitCode int, interrupted bool, lastDiagnostic string) *Result {
	if r.determined {
		return r
	}
	r.determined = true
	r.ExitCode = exitCode

	switch {
	case interrupted:
		r.Success = false
		r.Interrupted = true
		r.ErrorCode = apperrors.ErrCodeInterrupted
		r.Error = "User interrupted"

	case !r.sendErrLatched:
		r.Success = exitCode == 0
		if !r.Success {
			msg := fmt.Sprintf("bridge process exited with code: %d", exitCode)
			if lastDiagnostic != "" {
				msg += ": " + lastDiagnostic
			}
			r.Error = msg
		}

	default:
		// Send-error already recorded; surface failure only on nonzero exit
		r.Success = exitCode == 0
	}

	r.MessageCount = len(r.Messages)
	return r
}

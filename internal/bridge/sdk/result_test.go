package sdk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
)

func TestFinalizeSuccessOnZeroExit(t *testing.T) {
	r := NewResult()
	r.AppendMessage(&Event{Type: "assistant"})
	r.AppendMessage(&Event{Type: "result"})
	r.Finalize(0, false, "")

	assert.True(t, r.Success)
	assert.True(t, r.Determined())
	assert.Empty(t, r.Error)
	assert.Equal(t, 2, r.MessageCount)
}

func TestFinalizeFailureOnNonzeroExit(t *testing.T) {
	r := NewResult()
	r.Finalize(1, false, "")

	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "exited with code: 1")
}

func TestFinalizeAppendsLastDiagnostic(t *testing.T) {
	r := NewResult()
	r.Finalize(2, false, "module not found")

	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "exited with code: 2")
	assert.Contains(t, r.Error, "module not found")
}

func TestFinalizeInterruptWinsOverExitCode(t *testing.T) {
	for _, exitCode := range []int{0, 1, 137} {
		r := NewResult()
		r.Finalize(exitCode, true, "some diagnostic")

		assert.False(t, r.Success)
		assert.True(t, r.Interrupted)
		assert.Equal(t, "User interrupted", r.Error)
		assert.Equal(t, apperrors.ErrCodeInterrupted, r.ErrorCode)
	}
}

func TestLatchedErrorNotClobbered(t *testing.T) {
	r := NewResult()
	r.LatchError("specific send failure")
	r.LatchError("later error loses")
	r.Finalize(1, false, "generic diagnostic")

	assert.False(t, r.Success)
	// The latched error survives; no generic exit message overwrites it
	assert.Equal(t, "specific send failure", r.Error)
}

func TestLatchedErrorWithZeroExit(t *testing.T) {
	r := NewResult()
	r.LatchError("send failed mid-stream")
	r.Finalize(0, false, "")

	// Latched error only surfaces as failure on nonzero exit
	assert.True(t, r.Success)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	r := NewResult()
	r.Finalize(0, false, "")
	assert.True(t, r.Success)

	// A second finalization is a no-op
	r.Finalize(1, true, "ignored")
	assert.True(t, r.Success)
	assert.False(t, r.Interrupted)
}

func TestMessageCountFixedAtFinalization(t *testing.T) {
	r := NewResult()
	for i := 0; i < 5; i++ {
		r.AppendMessage(&Event{Type: "assistant"})
	}
	r.Finalize(0, false, "")
	assert.Equal(t, 5, r.MessageCount)
	assert.Equal(t, len(r.Messages), r.MessageCount)
}

func TestFailPreSpawn(t *testing.T) {
	r := NewResult()
	r.Fail(apperrors.ErrCodeBridgeNotReady, "bridge script not found")

	assert.True(t, r.Determined())
	assert.False(t, r.Success)
	assert.Equal(t, apperrors.ErrCodeBridgeNotReady, r.ErrorCode)
	assert.Equal(t, "bridge script not found", r.Error)
}

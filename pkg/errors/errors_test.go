package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("expected nil for nil error")
	}

	base := New("boom")
	wrapped := Wrap(base, "download failed")
	assert.Equal(t, "download failed: boom", wrapped.Error())
	assert.True(t, Is(wrapped, base))
}

func TestTimeoutErrorUnwrapsCause(t *testing.T) {
	err := Wrap(&TimeoutError{Command: "sleep", Elapsed: time.Second, Stdout: "partial", Cause: context.DeadlineExceeded}, "stage")

	var te *TimeoutError
	require.True(t, As(err, &te))
	assert.Equal(t, "partial", te.Stdout)
	assert.True(t, Is(err, context.DeadlineExceeded))
	assert.False(t, Is(err, context.Canceled))
}

func TestFatalErrorMessage(t *testing.T) {
	err := &FatalError{
		Stage: "provision",
		Cause: &CommandError{Command: "powershell.exe", ExitCode: 1, Stderr: "denied"},
		Notes: []string{"DNS servers were changed and must be restored manually."},
	}

	msg := err.Error()
	assert.Contains(t, msg, FatalMessage)
	assert.Contains(t, msg, "Failed stage: provision")
	assert.Contains(t, msg, "denied")
	assert.Contains(t, msg, "restored manually")

	var ce *CommandError
	assert.True(t, As(fmt.Errorf("outer: %w", err), &ce))
}

func TestPrecondition(t *testing.T) {
	assert.NoError(t, Precondition("privilege", nil))

	err := Precondition("privilege", New("not elevated"))
	var pe *PreconditionError
	require.True(t, As(err, &pe))
	assert.Equal(t, "privilege", pe.Check)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(New("x")))
	assert.Equal(t, 1, ExitCode(&FatalError{}))
}

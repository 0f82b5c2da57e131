package continuation

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/retry"
)

// ResumeFunc runs the stage sequence for a resumed token
type ResumeFunc func(ctx context.Context, tok Token) error

// Resumer is the post-restart entry logic
type Resumer struct {
	Trigger  host.BootTrigger
	TaskName string
	Elevated func() (bool, error)

	Attempts int
	Delay    time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Resume loads the token at path and runs install with bounded retries.
// The resume task and token are removed once the attempt concludes.
func (r *Resumer) Resume(ctx context.Context, path string, install ResumeFunc) error {
	if r.Elevated != nil {
		ok, err := r.Elevated()
		if err != nil {
			return errors.Precondition("elevated", err)
		}
		if !ok {
			return errors.Precondition("elevated", errors.New("resume must run with elevated privileges"))
		}
	}

	store := NewTokenStore(path)
	defer r.cleanup(ctx, store)

	tok, err := store.Load()
	if err != nil {
		return errors.Precondition("continuation_token", err)
	}
	slog.Info("resume_started", "device_name", tok.DeviceName, "token", path)

	policy := retry.Policy{
		MaxAttempts: r.Attempts,
		BaseDelay:   r.Delay,
		Multiplier:  1,
		Sleep:       r.Sleep,
		Retryable: func(err error) bool {
			var pe *errors.PreconditionError
			return retry.DefaultRetryable(err) && !errors.As(err, &pe)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Error("resume_attempt_failed", "attempt", attempt, "max_attempts", r.Attempts, "retry_in", delay, "error", err)
		},
	}

	_, err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		slog.Info("resume_attempt", "attempt", attempt, "max_attempts", r.Attempts)
		return struct{}{}, install(ctx, *tok)
	})
	if err != nil {
		slog.Error("resume_exhausted", "attempts", r.Attempts, "error", err)
		return err
	}

	slog.Info("resume_completed", "device_name", tok.DeviceName)
	return nil
}

func (r *Resumer) cleanup(ctx context.Context, store *TokenStore) {
	ctx = context.WithoutCancel(ctx)
	if err := r.Trigger.Delete(ctx, r.TaskName); err != nil {
		slog.Error("resume_task_cleanup_failed", "task", r.TaskName, "error", err)
	}
	if err := store.Delete(); err != nil {
		slog.Error("continuation_token_cleanup_failed", "path", store.Path, "error", err)
	}
}

package application

import (
	"context"
	"fmt"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
	"github.com/kovacsmedia/SchoolLive-backend/internal/observability/metrics"
)

const (
	noteSuperseded  = "Superseded: another command was already in-flight"
	noteMaxRetries  = "Timeout: max retries reached"
	timeoutNoteFmt  = "Timeout: ACK not received (timeoutMs=%d)"
	pollResultSent  = "sent"
	pollResultRetry = "retry"
	pollResultWait  = "wait"
	pollResultEmpty = "empty"
)

// Poll is the per-device dispatch step, invoked on every device poll. It
// reconciles stray in-flight state, then either holds (returns nil while an
// ack is still awaited), resends a timed-out command, fails it out after the
// retry cap, or promotes the oldest QUEUED command to SENT.
//
// Safe under concurrent invocation: promotion and retry both use conditional
// state-transition updates, so overlapping polls cannot double-dispatch.
func (s *Service) Poll(ctx context.Context, tenantID, deviceID string) (*commands.Command, error) {
	now := s.clock.Now().UTC()

	if err := s.reconcile(ctx, tenantID, deviceID); err != nil {
		return nil, err
	}

	inFlight, err := s.repo.OldestSent(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if inFlight != nil {
		timeout := s.policy.Backoff().Wait(inFlight.RetryCount)

		// A missing send time is treated as infinitely old.
		if !inFlight.SentAt.IsZero() && now.Sub(inFlight.SentAt) < timeout {
			metrics.IncPoll(pollResultWait)
			return nil, nil
		}

		if inFlight.RetryCount < inFlight.MaxRetries {
			note := fmt.Sprintf(timeoutNoteFmt, timeout.Milliseconds())
			applied, err := s.repo.RetryIfSent(ctx, tenantID, inFlight.ID, now, note)
			if err != nil {
				return nil, err
			}
			if !applied {
				// An ack finalized it between read and write.
				metrics.IncPoll(pollResultEmpty)
				return nil, nil
			}
			metrics.IncPoll(pollResultRetry)
			return s.repo.GetForDevice(ctx, tenantID, deviceID, inFlight.ID)
		}

		applied, err := s.repo.FailIfSent(ctx, tenantID, inFlight.ID, now, noteMaxRetries)
		if err != nil {
			return nil, err
		}
		if applied {
			if s.logger != nil {
				s.logger.Printf("command %s failed: retries exhausted (device=%s)", inFlight.ID, deviceID)
			}
			metrics.IncCommandResult(string(commands.StatusFailed))
		}
		// Fall through to the next queued command in the same poll.
	}

	queued, err := s.repo.OldestQueued(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if queued == nil {
		metrics.IncPoll(pollResultEmpty)
		return nil, nil
	}

	applied, err := s.repo.PromoteIfQueued(ctx, tenantID, queued.ID, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent poll claimed it first; do not re-read stale state.
		metrics.IncPoll(pollResultEmpty)
		return nil, nil
	}
	metrics.IncPoll(pollResultSent)
	return s.repo.GetForDevice(ctx, tenantID, deviceID, queued.ID)
}

// reconcile repairs duplicate in-flight commands: the oldest by queue time
// stays SENT, every other one is demoted back to QUEUED.
func (s *Service) reconcile(ctx context.Context, tenantID, deviceID string) error {
	sent, err := s.repo.ListSent(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if len(sent) <= 1 {
		return nil
	}
	ids := make([]string, 0, len(sent)-1)
	for _, cmd := range sent[1:] {
		ids = append(ids, cmd.ID)
	}
	if s.logger != nil {
		s.logger.Printf("requeueing %d superseded in-flight commands (device=%s)", len(ids), deviceID)
	}
	return s.repo.Requeue(ctx, tenantID, ids, noteSuperseded)
}

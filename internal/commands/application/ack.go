package application

import (
	"context"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
	"github.com/kovacsmedia/SchoolLive-backend/internal/observability/metrics"
)

const (
	// NoteAlreadyFinalized marks an ack replay against a terminal command.
	NoteAlreadyFinalized = "Already finalized"

	defaultAckError = "Device reported error"
)

// Ack finalizes a command from a device-reported outcome. Replays against an
// already-terminal command return it unchanged with NoteAlreadyFinalized,
// which makes the operation idempotent under at-least-once delivery.
func (s *Service) Ack(ctx context.Context, tenantID, deviceID, commandID string, ok bool, errText string) (*commands.Command, string, error) {
	if commandID == "" {
		return nil, "", &commands.ValidationError{Field: "commandId", Detail: "required"}
	}

	cmd, err := s.repo.GetForDevice(ctx, tenantID, deviceID, commandID)
	if err != nil {
		return nil, "", err
	}
	if cmd == nil {
		return nil, "", commands.ErrNotFound
	}
	if cmd.Terminal() {
		return cmd, NoteAlreadyFinalized, nil
	}

	status := commands.StatusAcked
	lastError := ""
	if !ok {
		status = commands.StatusFailed
		lastError = errText
		if lastError == "" {
			lastError = defaultAckError
		}
	}

	now := s.clock.Now().UTC()
	applied, err := s.repo.FinalizeIfActive(ctx, tenantID, commandID, status, now, lastError)
	if err != nil {
		return nil, "", err
	}

	updated, err := s.repo.GetForDevice(ctx, tenantID, deviceID, commandID)
	if err != nil {
		return nil, "", err
	}
	if updated == nil {
		return nil, "", commands.ErrNotFound
	}
	if !applied {
		// Lost a race with another finalizer; report the settled state.
		return updated, NoteAlreadyFinalized, nil
	}
	metrics.IncCommandResult(string(status))
	return updated, "", nil
}

package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// MergeResult reports the reassignment of one source person into the target.
type MergeResult struct {
	SourceID string `json:"id"`
	ReassignResult
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MergePersons folds each source person into targetID: its faces are
// reassigned and the source is deleted. Sources that fail are reported and
// the remaining ones are still merged.
func MergePersons(ctx context.Context, w PersonWriter, targetID string, sourceIDs []string) ([]MergeResult, error) {
	target, err := w.GetPerson(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, apperrors.NotFound("person", targetID)
	}

	results := make([]MergeResult, 0, len(sourceIDs))
	for _, sourceID := range sourceIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := mergeOne(ctx, w, target, sourceID)
		r := MergeResult{SourceID: sourceID, ReassignResult: res, Success: err == nil}
		if err != nil {
			r.Error = err.Error()
			slog.Warn("merge person failed", "target", targetID, "source", sourceID, "error", err)
		}
		results = append(results, r)
	}
	return results, nil
}

func mergeOne(ctx context.Context, w PersonWriter, target *Person, sourceID string) (ReassignResult, error) {
	if sourceID == target.ID {
		return ReassignResult{}, apperrors.New(apperrors.CodeInvalidInput, "cannot merge a person into itself")
	}

	source, err := w.GetPerson(ctx, sourceID)
	if err != nil {
		return ReassignResult{}, err
	}
	if source == nil {
		return ReassignResult{}, apperrors.NotFound("person", sourceID)
	}
	if source.OwnerID != target.OwnerID {
		return ReassignResult{}, apperrors.NotFound("person", sourceID)
	}

	res, err := w.ReassignFaces(ctx, sourceID, target.ID)
	if err != nil {
		return ReassignResult{}, fmt.Errorf("reassign faces of %s: %w", sourceID, err)
	}
	if err := deleteMerged(ctx, w, sourceID); err != nil {
		return res, fmt.Errorf("faces of %s were moved but the person was not deleted, "+
			"'people orphans --delete' removes it: %w", sourceID, err)
	}
	return res, nil
}

// mergeDeleteAttempts bounds the delete of a source whose faces already moved.
const mergeDeleteAttempts = 3

// deleteMerged deletes the emptied source person. The reassignment has
// committed at this point, so the delete is retried on its own.
func deleteMerged(ctx context.Context, w PersonWriter, sourceID string) error {
	op := func() error {
		err := w.DeletePerson(ctx, sourceID)
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return nil
		}
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		slog.Warn("delete merged person failed, retrying", "person", sourceID, "error", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(DefaultReassignBackOff(), mergeDeleteAttempts-1), ctx)
	return backoff.RetryNotify(op, b, notify)
}

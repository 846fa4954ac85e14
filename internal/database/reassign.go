package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/wipfli/immich/internal/errors"
	"github.com/wipfli/immich/internal/metrics"
)

// ReassignState is a step of the face reassignment state machine.
type ReassignState int

const (
	ReassignScanning ReassignState = iota
	ReassignCleaning
	ReassignMoving
	ReassignCommitted
	ReassignAborted
)

func (s ReassignState) String() string {
	switch s {
	case ReassignScanning:
		return "scanning"
	case ReassignCleaning:
		return "cleaning"
	case ReassignMoving:
		return "moving"
	case ReassignCommitted:
		return "committed"
	case ReassignAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ReassignTx is the transaction-scoped storage a Reassignment drives.
// Nothing it does is visible to other readers before Commit.
type ReassignTx interface {
	// ConflictingAssets returns assets that have faces linked to both persons.
	ConflictingAssets(ctx context.Context, oldPersonID, newPersonID string) ([]string, error)
	// DetachFaces clears the person link of personID's faces on the given assets.
	DetachFaces(ctx context.Context, personID string, assetIDs []string) (int, error)
	// MoveFaces repoints every face of oldPersonID to newPersonID. When the move
	// would give an asset two faces of newPersonID it undoes itself and returns
	// a CodeConflictDuringReassign error, leaving the transaction usable.
	MoveFaces(ctx context.Context, oldPersonID, newPersonID string) (int, error)
	Commit() error
	Rollback() error
}

// Reassignment runs one attempt of moving faces between persons:
// Scanning -> Cleaning -> Moving -> Committed, or Aborted on any failure.
type Reassignment struct {
	OldPersonID string
	NewPersonID string

	state   ReassignState
	history []ReassignState
	result  ReassignResult
}

// NewReassignment creates a reassignment in the Scanning state.
func NewReassignment(oldPersonID, newPersonID string) *Reassignment {
	return &Reassignment{OldPersonID: oldPersonID, NewPersonID: newPersonID}
}

// State returns the current state.
func (r *Reassignment) State() ReassignState {
	return r.state
}

// History returns every state entered, in order.
func (r *Reassignment) History() []ReassignState {
	return slices.Clone(r.history)
}

func (r *Reassignment) enter(s ReassignState) {
	r.state = s
	r.history = append(r.history, s)
}

func (r *Reassignment) abort(tx ReassignTx, cause error) (ReassignResult, error) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("reassign rollback failed", "old_person", r.OldPersonID, "new_person", r.NewPersonID, "error", err)
	}
	r.enter(ReassignAborted)
	r.result = ReassignResult{}
	return ReassignResult{}, cause
}

// Run drives tx through the state machine. On error the transaction is rolled
// back and the zero result is returned.
func (r *Reassignment) Run(ctx context.Context, tx ReassignTx) (ReassignResult, error) {
	rescans := 0
	for {
		r.enter(ReassignScanning)
		if err := ctx.Err(); err != nil {
			return r.abort(tx, err)
		}

		assetIDs, err := tx.ConflictingAssets(ctx, r.OldPersonID, r.NewPersonID)
		if err != nil {
			return r.abort(tx, err)
		}

		if len(assetIDs) > 0 {
			r.enter(ReassignCleaning)
			detached, err := tx.DetachFaces(ctx, r.OldPersonID, assetIDs)
			if err != nil {
				return r.abort(tx, err)
			}
			r.result.Detached += detached
			for _, id := range assetIDs {
				if !slices.Contains(r.result.ConflictAssetIDs, id) {
					r.result.ConflictAssetIDs = append(r.result.ConflictAssetIDs, id)
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return r.abort(tx, err)
		}

		r.enter(ReassignMoving)
		moved, err := tx.MoveFaces(ctx, r.OldPersonID, r.NewPersonID)
		if apperrors.HasCode(err, apperrors.CodeConflictDuringReassign) {
			if rescans < ReassignMaxRescans {
				rescans++
				slog.Debug("conflict during reassign, rescanning",
					"old_person", r.OldPersonID, "new_person", r.NewPersonID, "rescan", rescans)
				continue
			}
			return r.abort(tx, apperrors.New(apperrors.CodeTransactionAborted,
				"conflicts kept appearing during reassign, try again",
				apperrors.Field("rescans", rescans)))
		}
		if err != nil {
			return r.abort(tx, err)
		}
		r.result.Moved = moved
		break
	}

	if err := ctx.Err(); err != nil {
		return r.abort(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return r.abort(tx, err)
	}

	r.enter(ReassignCommitted)
	return r.result, nil
}

// Reassigner retries whole reassignment transactions that abort on contention.
type Reassigner struct {
	// Begin opens a fresh transaction for one attempt.
	Begin func(ctx context.Context) (ReassignTx, error)
	// MaxAttempts defaults to ReassignMaxAttempts.
	MaxAttempts int
	// NewBackOff defaults to a short exponential backoff.
	NewBackOff func() backoff.BackOff
}

// DefaultReassignBackOff is the backoff between aborted reassignment attempts.
func DefaultReassignBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// Reassign moves all faces of oldPersonID to newPersonID.
// Errors coded CodeTransactionAborted are retried; anything else is returned as is.
func (r Reassigner) Reassign(ctx context.Context, oldPersonID, newPersonID string) (ReassignResult, error) {
	if oldPersonID == "" || newPersonID == "" {
		return ReassignResult{}, apperrors.New(apperrors.CodeInvalidInput, "both person ids are required")
	}
	if oldPersonID == newPersonID {
		return ReassignResult{}, nil
	}

	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = ReassignMaxAttempts
	}
	newBackOff := r.NewBackOff
	if newBackOff == nil {
		newBackOff = DefaultReassignBackOff
	}

	var result ReassignResult
	attempt := 0
	op := func() error {
		attempt++
		tx, err := r.Begin(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		res, err := NewReassignment(oldPersonID, newPersonID).Run(ctx, tx)
		if err == nil {
			result = res
			return nil
		}
		if apperrors.HasCode(err, apperrors.CodeTransactionAborted) && ctx.Err() == nil {
			metrics.TransactionRetries.WithLabelValues("reassign").Inc()
			slog.Warn("reassign transaction aborted",
				"old_person", oldPersonID, "new_person", newPersonID, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return ReassignResult{}, err
	}

	metrics.ReassignedFaces.WithLabelValues("moved").Add(float64(result.Moved))
	metrics.ReassignedFaces.WithLabelValues("detached").Add(float64(result.Detached))
	return result, nil
}

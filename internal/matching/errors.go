package matching

import (
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
)

// Error kinds returned by the engine. Callers test with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")

	// ErrDuplicatePayment marks a payment reference that was already
	// processed. Webhook redeliveries hit this and are acknowledged.
	ErrDuplicatePayment = errors.New("payment already processed")
)

func notFound(entity string, id int64) error {
	return errors.Mark(errors.Newf("%s %d not found", entity, id), ErrNotFound)
}

func validation(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func forbidden(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrForbidden)
}

func invalidTransition(candidateID int64, from, to models.CandidateStatus) error {
	return errors.Mark(errors.Newf("candidate %d: cannot move from %s to %s", candidateID, from, to), ErrInvalidTransition)
}

// storeErr marks store conflicts as ErrConflict and wraps everything else.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrConflict) {
		return errors.Mark(errors.Wrap(err, op), ErrConflict)
	}
	return errors.Wrap(err, op)
}

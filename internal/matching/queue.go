package matching

import (
	"context"
	"strings"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
)

// PaymentConfirmation is a payment the processor reported as completed.
type PaymentConfirmation struct {
	ProviderRef string
	CandidateID int64
	OfferID     int64
	AmountCents int64
	Currency    string
}

// RegisterCandidate creates a NEW candidate.
func (e *Engine) RegisterCandidate(ctx context.Context, c *models.Candidate) (*models.Candidate, error) {
	if c == nil {
		return nil, validation("candidate is required")
	}
	c.FullName = strings.TrimSpace(c.FullName)
	c.Email = strings.TrimSpace(c.Email)
	if c.FullName == "" {
		return nil, validation("full_name is required")
	}
	if !strings.Contains(c.Email, "@") {
		return nil, validation("email %q is invalid", c.Email)
	}

	c.Status = models.CandidateNew
	c.QueuePosition = nil
	c.QueueJoinedAt = nil
	c.RefundDeadline = nil
	c.EntryFeePaid = false
	c.RefundEligible = true

	id, err := e.store.CreateCandidate(ctx, c)
	if err != nil {
		return nil, storeErr(err, "create candidate")
	}
	c.ID = id

	e.logger.Info("candidate registered", "candidate_id", id)
	return c, nil
}

// VerifyCandidate applies an automated document verdict. An approved
// verdict at or above the confidence threshold moves the candidate from NEW
// to VERIFIED. Anything else leaves the candidate untouched and returns
// ErrValidation.
func (e *Engine) VerifyCandidate(ctx context.Context, candidateID int64, v models.DocumentVerdict) (*models.Candidate, error) {
	var cand *models.Candidate
	err := e.store.InTx(ctx, func(s repository.Store) error {
		c, err := e.getCandidate(ctx, s, candidateID)
		if err != nil {
			return err
		}
		if !v.Approved {
			return validation("candidate %d: documents rejected: %s", candidateID, strings.Join(v.Issues, "; "))
		}
		if v.Confidence < e.minConfidence {
			return validation("candidate %d: verification confidence %.2f below %.2f", candidateID, v.Confidence, e.minConfidence)
		}
		if err := transition(c, models.CandidateVerified); err != nil {
			return err
		}
		if err := s.UpdateCandidate(ctx, c); err != nil {
			return storeErr(err, "update candidate")
		}
		cand = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("candidate verified", "candidate_id", candidateID, "confidence", v.Confidence, "status", cand.Status)
	return cand, nil
}

// ConfirmEntryFee puts a VERIFIED candidate into the queue. The position
// comes from the store's atomic counter and is never handed out twice.
func (e *Engine) ConfirmEntryFee(ctx context.Context, p PaymentConfirmation) (*models.Candidate, error) {
	if p.ProviderRef == "" {
		return nil, validation("provider_ref is required")
	}
	if p.CandidateID <= 0 {
		return nil, validation("candidate_id is required")
	}

	now := e.Now()
	var cand *models.Candidate
	err := e.store.InTx(ctx, func(s repository.Store) error {
		if err := checkDuplicatePayment(ctx, s, p.ProviderRef); err != nil {
			return err
		}
		c, err := e.getCandidate(ctx, s, p.CandidateID)
		if err != nil {
			return err
		}
		if c.EntryFeePaid {
			return errors.Mark(errors.Newf("candidate %d already paid the entry fee", c.ID), ErrConflict)
		}
		if err := transition(c, models.CandidateInQueue); err != nil {
			return err
		}

		pos, err := s.NextQueuePosition(ctx)
		if err != nil {
			return storeErr(err, "allocate queue position")
		}
		deadline := now.Add(e.refundWindow)
		c.QueuePosition = &pos
		c.QueueJoinedAt = &now
		c.RefundDeadline = &deadline
		c.EntryFeePaid = true
		c.RefundEligible = true
		if err := s.UpdateCandidate(ctx, c); err != nil {
			return storeErr(err, "update candidate")
		}

		if err := recordPayment(ctx, s, &models.Payment{
			CandidateID: c.ID,
			Kind:        models.PaymentEntryFee,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Status:      models.PaymentCompleted,
			ProviderRef: p.ProviderRef,
		}); err != nil {
			return err
		}
		cand = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordQueueJoined()
	e.logger.Info("candidate joined queue", "candidate_id", cand.ID, "queue_position", *cand.QueuePosition, "status", cand.Status)
	return cand, nil
}

// ListQueue returns queued candidates in FIFO order plus the total queue
// length.
func (e *Engine) ListQueue(ctx context.Context, limit, offset int) ([]models.Candidate, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	list, err := e.store.ListQueued(ctx, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err, "list queue")
	}
	total, err := e.store.CountQueued(ctx)
	if err != nil {
		return nil, 0, storeErr(err, "count queue")
	}
	e.metrics.SetQueueLength(total)

	return list, total, nil
}

func checkDuplicatePayment(ctx context.Context, s repository.Store, ref string) error {
	existing, err := s.GetPaymentByRef(ctx, ref)
	if err != nil {
		return storeErr(err, "get payment")
	}
	if existing != nil {
		return errors.Mark(errors.Newf("payment %q already processed", ref), ErrDuplicatePayment)
	}
	return nil
}

func recordPayment(ctx context.Context, s repository.Store, p *models.Payment) error {
	id, err := s.CreatePayment(ctx, p)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errors.Mark(errors.Wrapf(err, "payment %q", p.ProviderRef), ErrDuplicatePayment)
		}
		return storeErr(err, "create payment")
	}
	p.ID = id
	return nil
}

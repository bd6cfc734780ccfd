package matching

import (
	"context"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
)

// ListRefundDue returns queued candidates whose refund window has run out
// at the engine clock.
func (e *Engine) ListRefundDue(ctx context.Context) ([]models.Candidate, error) {
	list, err := e.store.ListRefundDue(ctx, e.Now().Add(-e.refundWindow))
	if err != nil {
		return nil, storeErr(err, "list refund due")
	}
	return list, nil
}

// FlagRefund moves a candidate who waited past the refund window without
// an offer to REFUND_FLAGGED and marks their entry fee for refund. Money is
// never returned here; an admin resolves the flag.
func (e *Engine) FlagRefund(ctx context.Context, candidateID int64) (*models.Candidate, error) {
	cutoff := e.Now().Add(-e.refundWindow)
	var (
		cand *models.Candidate
		out  outbox
	)

	err := e.store.InTx(ctx, func(s repository.Store) error {
		c, err := e.getCandidate(ctx, s, candidateID)
		if err != nil {
			return err
		}
		if !c.EntryFeePaid || !c.RefundEligible {
			return validation("candidate %d is not eligible for a refund", c.ID)
		}
		if c.QueueJoinedAt == nil || !c.QueueJoinedAt.Before(cutoff) {
			return validation("candidate %d is still inside the refund window", c.ID)
		}
		if err := transition(c, models.CandidateRefundFlagged); err != nil {
			return err
		}
		if err := s.UpdateCandidate(ctx, c); err != nil {
			return storeErr(err, "update candidate")
		}
		if err := setEntryFeeStatus(ctx, s, c.ID, models.PaymentFlaggedForRefund); err != nil {
			return err
		}

		out.add(candidateNotification(notify.KindRefundFlagged, c))
		cand = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordRefundFlagged()
	e.logger.Info("refund flagged", "candidate_id", candidateID, "status", cand.Status)
	e.flush(ctx, out)
	return cand, nil
}

// ResolveRefund records the admin decision on a REFUND_FLAGGED candidate.
// Approval rejects the candidate and marks the entry fee refunded. Denial
// returns the candidate to the queue at the same position, without refund
// eligibility.
func (e *Engine) ResolveRefund(ctx context.Context, candidateID int64, approve bool) (*models.Candidate, error) {
	var cand *models.Candidate
	err := e.store.InTx(ctx, func(s repository.Store) error {
		c, err := e.getCandidate(ctx, s, candidateID)
		if err != nil {
			return err
		}
		if c.Status != models.CandidateRefundFlagged {
			return validation("candidate %d is %s, not %s", c.ID, c.Status, models.CandidateRefundFlagged)
		}

		to, paymentStatus := models.CandidateInQueue, models.PaymentCompleted
		if approve {
			to, paymentStatus = models.CandidateRejected, models.PaymentRefunded
		}
		if err := transition(c, to); err != nil {
			return err
		}
		if !approve {
			c.RefundEligible = false
		}
		if err := s.UpdateCandidate(ctx, c); err != nil {
			return storeErr(err, "update candidate")
		}
		if err := setEntryFeeStatus(ctx, s, c.ID, paymentStatus); err != nil {
			return err
		}
		cand = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("refund resolved", "candidate_id", candidateID, "approved", approve, "status", cand.Status)
	return cand, nil
}

func setEntryFeeStatus(ctx context.Context, s repository.Store, candidateID int64, status models.PaymentStatus) error {
	p, err := s.GetLatestPayment(ctx, candidateID, models.PaymentEntryFee)
	if err != nil {
		return storeErr(err, "get entry fee payment")
	}
	if p == nil {
		return notFound("entry fee payment for candidate", candidateID)
	}
	if err := s.UpdatePaymentStatus(ctx, p.ID, status); err != nil {
		return storeErr(err, "update payment status")
	}
	return nil
}

package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
)

// MatchResult reports an auto-match run. Errors lists the candidates that
// were skipped; the run still succeeds for the others.
type MatchResult struct {
	JobRequestID int64          `json:"job_request_id"`
	MatchedCount int            `json:"matched_count"`
	Offers       []models.Offer `json:"offers"`
	Errors       []string       `json:"errors,omitempty"`
}

// ExpiryResult reports one expired (or declined) offer and the replacement
// offer it produced, if any.
type ExpiryResult struct {
	Expired    models.Offer  `json:"expired"`
	Reassigned *models.Offer `json:"reassigned,omitempty"`
}

// AcceptResult reports an accepted offer.
type AcceptResult struct {
	Offer     models.Offer        `json:"offer"`
	Candidate models.Candidate    `json:"candidate"`
	Job       models.JobRequest   `json:"job_request"`
	Contract  models.ContractData `json:"contract"`
}

// AutoMatch offers the open positions of an open job to the longest-waiting
// eligible candidates. Candidates already holding an active offer for the
// job are skipped. Each offer is written in its own savepoint, so one
// failing candidate does not block the rest of the batch.
func (e *Engine) AutoMatch(ctx context.Context, jobID int64) (*MatchResult, error) {
	res := &MatchResult{JobRequestID: jobID, Offers: []models.Offer{}}
	var out outbox

	err := e.store.InTx(ctx, func(s repository.Store) error {
		job, err := e.getJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobOpen {
			return validation("job request %d is %s, not open", jobID, job.Status)
		}
		toFill := job.OpenPositions()
		if toFill == 0 {
			return validation("job request %d has no open positions", jobID)
		}

		candidates, err := s.ListEligibleForJob(ctx, jobID, toFill)
		if err != nil {
			return storeErr(err, "list eligible candidates")
		}

		for i := range candidates {
			c := &candidates[i]
			var offer *models.Offer
			err := s.InTx(ctx, func(s repository.Store) error {
				var err error
				offer, err = e.createOffer(ctx, s, c, job)
				return err
			})
			if err != nil {
				e.logger.Warn("auto-match: offer skipped", "job_request_id", jobID, "candidate_id", c.ID, "err", err)
				res.Errors = append(res.Errors, fmt.Sprintf("candidate %d: %v", c.ID, err))
				continue
			}
			res.Offers = append(res.Offers, *offer)
			out.add(offerNotification(notify.KindOfferCreated, c, job, offer))
		}

		if len(res.Offers) == 0 {
			return nil
		}
		job.Status = models.JobMatching
		job.AutoMatchTriggered = true
		if err := s.UpdateJobRequest(ctx, job); err != nil {
			return storeErr(err, "update job request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.MatchedCount = len(res.Offers)
	for range res.Offers {
		e.metrics.RecordOfferCreated(metrics.SourceAutoMatch)
	}
	e.logger.Info("auto-match finished", "job_request_id", jobID, "matched", res.MatchedCount, "skipped", len(res.Errors))
	e.flush(ctx, out)
	return res, nil
}

// createOffer gives c a pending offer for job and moves c to OFFER_PENDING.
func (e *Engine) createOffer(ctx context.Context, s repository.Store, c *models.Candidate, job *models.JobRequest) (*models.Offer, error) {
	if c.QueuePosition == nil {
		return nil, validation("candidate %d has no queue position", c.ID)
	}
	active, err := s.HasActiveOffer(ctx, c.ID, job.ID)
	if err != nil {
		return nil, storeErr(err, "check active offer")
	}
	if active {
		return nil, errors.Mark(errors.Newf("candidate %d already holds an active offer for job request %d", c.ID, job.ID), ErrConflict)
	}
	if err := transition(c, models.CandidateOfferPending); err != nil {
		return nil, err
	}

	now := e.Now()
	o := &models.Offer{
		CandidateID:          c.ID,
		JobRequestID:         job.ID,
		Status:               models.OfferPending,
		QueuePositionAtOffer: *c.QueuePosition,
		OfferedAt:            now,
		ExpiresAt:            now.Add(e.offerTTL),
	}
	id, err := s.CreateOffer(ctx, o)
	if err != nil {
		return nil, storeErr(err, "create offer")
	}
	o.ID = id
	if err := s.UpdateCandidate(ctx, c); err != nil {
		return nil, storeErr(err, "update candidate")
	}

	e.logger.Info("offer created", "offer_id", o.ID, "candidate_id", c.ID, "job_request_id", job.ID,
		"queue_position", o.QueuePositionAtOffer, "expires_at", o.ExpiresAt)
	return o, nil
}

// reassign offers the slot released by expired to the next candidate behind
// it in the queue who never had an offer for the job. It returns nil when
// the job no longer takes offers or nobody is left.
func (e *Engine) reassign(ctx context.Context, s repository.Store, expired *models.Offer, out *outbox) (*models.Offer, error) {
	job, err := e.getJob(ctx, s, expired.JobRequestID)
	if err != nil {
		return nil, err
	}
	if !jobAcceptsOffers(job) {
		e.logger.Info("reassignment skipped: job closed to offers", "job_request_id", job.ID, "status", job.Status)
		return nil, nil
	}
	pending, err := s.CountPendingOffers(ctx, job.ID)
	if err != nil {
		return nil, storeErr(err, "count pending offers")
	}
	if pending >= job.OpenPositions() {
		return nil, nil
	}

	cursor := expired.QueuePositionAtOffer
	for {
		next, err := s.NextEligibleAfter(ctx, job.ID, cursor)
		if err != nil {
			return nil, storeErr(err, "find next candidate")
		}
		if next == nil {
			break
		}

		var offer *models.Offer
		err = s.InTx(ctx, func(s repository.Store) error {
			var err error
			offer, err = e.createOffer(ctx, s, next, job)
			return err
		})
		if err == nil {
			out.add(offerNotification(notify.KindOfferCreated, next, job, offer))
			return offer, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		e.logger.Warn("reassignment: candidate skipped", "job_request_id", job.ID, "candidate_id", next.ID, "err", err)
		cursor = *next.QueuePosition
	}

	if pending == 0 && job.Status == models.JobMatching {
		job.Status = models.JobOpen
		if err := s.UpdateJobRequest(ctx, job); err != nil {
			return nil, storeErr(err, "update job request")
		}
		e.logger.Info("job reopened: no outstanding offers", "job_request_id", job.ID)
	}
	return nil, nil
}

// ExpireOffer expires a pending offer whose deadline has passed, returns
// the candidate to the queue at the same position and reassigns the slot.
// Expiry and reassignment commit together.
func (e *Engine) ExpireOffer(ctx context.Context, offerID int64) (*ExpiryResult, error) {
	now := e.Now()
	var (
		res ExpiryResult
		out outbox
	)

	err := e.store.InTx(ctx, func(s repository.Store) error {
		o, err := e.getOffer(ctx, s, offerID)
		if err != nil {
			return err
		}
		if o.Status != models.OfferPending {
			return validation("offer %d is %s, not pending", o.ID, o.Status)
		}
		if !o.ExpiresAt.Before(now) {
			return validation("offer %d does not expire until %s", o.ID, o.ExpiresAt.Format(time.RFC3339))
		}

		c, err := e.releaseOffer(ctx, s, o, false)
		if err != nil {
			return err
		}
		job, err := e.getJob(ctx, s, o.JobRequestID)
		if err != nil {
			return err
		}
		out.add(offerNotification(notify.KindOfferExpired, c, job, o))

		res.Expired = *o
		res.Reassigned, err = e.reassign(ctx, s, o, &out)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordOfferExpired()
	if res.Reassigned != nil {
		e.metrics.RecordOfferCreated(metrics.SourceReassignment)
	}
	e.flush(ctx, out)
	return &res, nil
}

// DeclineOffer lets a candidate turn down a pending offer. The candidate
// goes back to the queue at the same position but loses refund
// eligibility. The slot is reassigned as on expiry.
func (e *Engine) DeclineOffer(ctx context.Context, offerID, candidateID int64) (*ExpiryResult, error) {
	var (
		res ExpiryResult
		out outbox
	)

	err := e.store.InTx(ctx, func(s repository.Store) error {
		o, err := e.getOffer(ctx, s, offerID)
		if err != nil {
			return err
		}
		if o.CandidateID != candidateID {
			return forbidden("offer %d does not belong to candidate %d", o.ID, candidateID)
		}
		if o.Status != models.OfferPending {
			return validation("offer %d is %s, not pending", o.ID, o.Status)
		}

		if _, err := e.releaseOffer(ctx, s, o, true); err != nil {
			return err
		}
		res.Expired = *o
		res.Reassigned, err = e.reassign(ctx, s, o, &out)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordOfferDeclined()
	if res.Reassigned != nil {
		e.metrics.RecordOfferCreated(metrics.SourceReassignment)
	}
	e.flush(ctx, out)
	return &res, nil
}

// releaseOffer marks o expired and moves its candidate back to IN_QUEUE. The
// queue position is left as it was.
func (e *Engine) releaseOffer(ctx context.Context, s repository.Store, o *models.Offer, declined bool) (*models.Candidate, error) {
	c, err := e.getCandidate(ctx, s, o.CandidateID)
	if err != nil {
		return nil, err
	}
	if err := transition(c, models.CandidateInQueue); err != nil {
		return nil, err
	}
	if declined {
		c.RefundEligible = false
	}

	o.Status = models.OfferExpired
	if declined {
		now := e.Now()
		o.DeclinedAt = &now
	}
	if err := s.UpdateOffer(ctx, o); err != nil {
		return nil, storeErr(err, "update offer")
	}
	if err := s.UpdateCandidate(ctx, c); err != nil {
		return nil, storeErr(err, "update candidate")
	}

	e.logger.Info("offer released", "offer_id", o.ID, "candidate_id", c.ID, "job_request_id", o.JobRequestID,
		"declined", declined, "status", c.Status)
	return c, nil
}

// AcceptOffer applies a confirmation-fee payment: the offer is accepted,
// the candidate starts the visa process and the job fills one position.
// A pending offer past its deadline that the sweeper has not reached yet is
// still accepted.
func (e *Engine) AcceptOffer(ctx context.Context, p PaymentConfirmation) (*AcceptResult, error) {
	if p.ProviderRef == "" {
		return nil, validation("provider_ref is required")
	}
	if p.OfferID <= 0 {
		return nil, validation("offer_id is required")
	}

	now := e.Now()
	var (
		res AcceptResult
		out outbox
	)

	err := e.store.InTx(ctx, func(s repository.Store) error {
		if err := checkDuplicatePayment(ctx, s, p.ProviderRef); err != nil {
			return err
		}
		o, err := e.getOffer(ctx, s, p.OfferID)
		if err != nil {
			return err
		}
		if p.CandidateID != 0 && p.CandidateID != o.CandidateID {
			return validation("offer %d does not belong to candidate %d", o.ID, p.CandidateID)
		}
		switch o.Status {
		case models.OfferPending:
		case models.OfferAccepted:
			return errors.Mark(errors.Newf("offer %d already accepted", o.ID), ErrConflict)
		default:
			return validation("offer %d is %s", o.ID, o.Status)
		}

		job, err := e.getJob(ctx, s, o.JobRequestID)
		if err != nil {
			return err
		}
		if !jobAcceptsOffers(job) {
			return validation("job request %d is %s with %d open positions", job.ID, job.Status, job.OpenPositions())
		}
		c, err := e.getCandidate(ctx, s, o.CandidateID)
		if err != nil {
			return err
		}
		if err := transition(c, models.CandidateVisaProcessStarted); err != nil {
			return err
		}

		o.Status = models.OfferAccepted
		o.AcceptedAt = &now
		if err := s.UpdateOffer(ctx, o); err != nil {
			return storeErr(err, "update offer")
		}
		if err := s.UpdateCandidate(ctx, c); err != nil {
			return storeErr(err, "update candidate")
		}
		if err := fillPosition(ctx, s, job); err != nil {
			return err
		}
		contract, err := createContract(ctx, s, o)
		if err != nil {
			return err
		}
		offerID := o.ID
		if err := recordPayment(ctx, s, &models.Payment{
			CandidateID: c.ID,
			OfferID:     &offerID,
			Kind:        models.PaymentConfirmationFee,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Status:      models.PaymentCompleted,
			ProviderRef: p.ProviderRef,
		}); err != nil {
			return err
		}

		out.add(offerNotification(notify.KindOfferAccepted, c, job, o))
		res = AcceptResult{Offer: *o, Candidate: *c, Job: *job, Contract: *contract}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordOfferAccepted()
	e.logger.Info("offer accepted", "offer_id", res.Offer.ID, "candidate_id", res.Candidate.ID,
		"job_request_id", res.Job.ID, "positions_filled", res.Job.PositionsFilled, "status", res.Job.Status)
	e.flush(ctx, out)
	return &res, nil
}

// ManualMatch lets an admin place any VERIFIED or IN_QUEUE candidate on a
// job, ignoring queue order. The offer is created already accepted, the
// candidate moves straight to OFFER_ACCEPTED and a contract skeleton is
// written. This is the only path that bypasses FIFO.
func (e *Engine) ManualMatch(ctx context.Context, candidateID, jobID int64) (*AcceptResult, error) {
	now := e.Now()
	var (
		res AcceptResult
		out outbox
	)

	err := e.store.InTx(ctx, func(s repository.Store) error {
		job, err := e.getJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if !jobAcceptsOffers(job) {
			return validation("job request %d is %s with %d open positions", job.ID, job.Status, job.OpenPositions())
		}
		// Seats held by pending offers stay reserved for their payers.
		pending, err := s.CountPendingOffers(ctx, job.ID)
		if err != nil {
			return storeErr(err, "count pending offers")
		}
		if pending >= job.OpenPositions() {
			return validation("job request %d has %d open positions, all held by pending offers", job.ID, job.OpenPositions())
		}
		c, err := e.getCandidate(ctx, s, candidateID)
		if err != nil {
			return err
		}
		active, err := s.HasActiveOffer(ctx, c.ID, job.ID)
		if err != nil {
			return storeErr(err, "check active offer")
		}
		if active {
			return errors.Mark(errors.Newf("candidate %d already holds an active offer for job request %d", c.ID, job.ID), ErrConflict)
		}
		if err := transition(c, models.CandidateOfferAccepted); err != nil {
			return err
		}

		o := &models.Offer{
			CandidateID:  c.ID,
			JobRequestID: job.ID,
			Status:       models.OfferAccepted,
			OfferedAt:    now,
			ExpiresAt:    now.Add(e.offerTTL),
			AcceptedAt:   &now,
		}
		if c.QueuePosition != nil {
			o.QueuePositionAtOffer = *c.QueuePosition
		}
		id, err := s.CreateOffer(ctx, o)
		if err != nil {
			return storeErr(err, "create offer")
		}
		o.ID = id
		if err := s.UpdateCandidate(ctx, c); err != nil {
			return storeErr(err, "update candidate")
		}
		if err := fillPosition(ctx, s, job); err != nil {
			return err
		}
		contract, err := createContract(ctx, s, o)
		if err != nil {
			return err
		}

		out.add(offerNotification(notify.KindOfferAccepted, c, job, o))
		res = AcceptResult{Offer: *o, Candidate: *c, Job: *job, Contract: *contract}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordOfferCreated(metrics.SourceManual)
	e.logger.Info("manual match", "offer_id", res.Offer.ID, "candidate_id", candidateID, "job_request_id", jobID,
		"positions_filled", res.Job.PositionsFilled, "status", res.Candidate.Status)
	e.flush(ctx, out)
	return &res, nil
}

// StartVisaProcess moves a manually matched candidate from OFFER_ACCEPTED to
// VISA_PROCESS_STARTED.
func (e *Engine) StartVisaProcess(ctx context.Context, candidateID int64) (*models.Candidate, error) {
	var cand *models.Candidate
	err := e.store.InTx(ctx, func(s repository.Store) error {
		c, err := e.getCandidate(ctx, s, candidateID)
		if err != nil {
			return err
		}
		// Pending offers reach VISA_PROCESS_STARTED only through payment.
		if c.Status != models.CandidateOfferAccepted {
			return invalidTransition(c.ID, c.Status, models.CandidateVisaProcessStarted)
		}
		if err := transition(c, models.CandidateVisaProcessStarted); err != nil {
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

	e.logger.Info("visa process started", "candidate_id", candidateID, "status", cand.Status)
	return cand, nil
}

// ListExpiredOffers returns pending offers past their deadline at the
// engine clock.
func (e *Engine) ListExpiredOffers(ctx context.Context) ([]models.Offer, error) {
	list, err := e.store.ListExpiredPending(ctx, e.Now())
	if err != nil {
		return nil, storeErr(err, "list expired offers")
	}
	return list, nil
}

// CreateJobRequest validates and stores a new open job request.
func (e *Engine) CreateJobRequest(ctx context.Context, j *models.JobRequest) (*models.JobRequest, error) {
	if j == nil {
		return nil, validation("job request is required")
	}
	if j.Title == "" {
		return nil, validation("title is required")
	}
	if j.EmployerName == "" {
		return nil, validation("employer_name is required")
	}
	if j.PositionsCount <= 0 {
		return nil, validation("positions_count must be positive, got %d", j.PositionsCount)
	}

	j.PositionsFilled = 0
	j.Status = models.JobOpen
	j.AutoMatchTriggered = false
	id, err := e.store.CreateJobRequest(ctx, j)
	if err != nil {
		return nil, storeErr(err, "create job request")
	}
	j.ID = id

	e.logger.Info("job request created", "job_request_id", id, "positions_count", j.PositionsCount)
	return j, nil
}

// fillPosition counts one more filled position and moves the job to filled
// when the last one is taken.
func fillPosition(ctx context.Context, s repository.Store, job *models.JobRequest) error {
	if job.OpenPositions() == 0 {
		return validation("job request %d has no open positions", job.ID)
	}
	job.PositionsFilled++
	if job.PositionsFilled == job.PositionsCount {
		job.Status = models.JobFilled
	} else {
		job.Status = models.JobMatching
	}
	if err := s.UpdateJobRequest(ctx, job); err != nil {
		return storeErr(err, "update job request")
	}
	return nil
}

func createContract(ctx context.Context, s repository.Store, o *models.Offer) (*models.ContractData, error) {
	cd := &models.ContractData{
		OfferID:      o.ID,
		CandidateID:  o.CandidateID,
		JobRequestID: o.JobRequestID,
	}
	id, err := s.CreateContractData(ctx, cd)
	if err != nil {
		return nil, storeErr(err, "create contract data")
	}
	cd.ID = id
	return cd, nil
}

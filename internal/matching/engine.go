// Package matching implements the queue and offer engine: the candidate
// status state machine, FIFO auto-match, offer expiry with reassignment,
// acceptance, refund flagging and the admin manual match.
//
// Every operation runs in one store transaction. Notifications are collected
// while the transaction runs and handed to the Notifier only after it has
// committed, so a failed delivery can never undo a state change.
package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
)

const (
	DefaultOfferTTL      = 24 * time.Hour
	DefaultRefundWindow  = 90 * 24 * time.Hour
	DefaultMinConfidence = 0.8
)

// Options tunes an Engine. Zero values fall back to the defaults above.
type Options struct {
	OfferTTL      time.Duration
	RefundWindow  time.Duration
	MinConfidence float64

	// Now is the engine clock. Tests replace it to move time forward.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

type Engine struct {
	store         repository.Store
	notifier      notify.Notifier
	offerTTL      time.Duration
	refundWindow  time.Duration
	minConfidence float64
	clock         func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Collector
}

func NewEngine(store repository.Store, notifier notify.Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if opts.OfferTTL <= 0 {
		opts.OfferTTL = DefaultOfferTTL
	}
	if opts.RefundWindow <= 0 {
		opts.RefundWindow = DefaultRefundWindow
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		store:         store,
		notifier:      notifier,
		offerTTL:      opts.OfferTTL,
		refundWindow:  opts.RefundWindow,
		minConfidence: opts.MinConfidence,
		clock:         opts.Now,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

// Now returns the engine clock in UTC.
func (e *Engine) Now() time.Time {
	return e.clock().UTC()
}

func (e *Engine) OfferTTL() time.Duration     { return e.offerTTL }
func (e *Engine) RefundWindow() time.Duration { return e.refundWindow }

// outbox collects notifications produced inside a transaction.
type outbox []notify.Notification

func (o *outbox) add(n notify.Notification) {
	*o = append(*o, n)
}

// flush hands the collected notifications to the notifier. Failures are
// logged and dropped.
func (e *Engine) flush(ctx context.Context, out outbox) {
	// The state change is committed; a caller going away must not drop it.
	ctx = context.WithoutCancel(ctx)
	for _, n := range out {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("notification not delivered",
				"kind", n.Kind, "candidate_id", n.CandidateID, "offer_id", n.OfferID, "err", err)
			e.metrics.RecordNotifyDropped()
			continue
		}
		e.metrics.RecordNotifyEnqueued()
	}
}

func candidateNotification(kind notify.Kind, c *models.Candidate) notify.Notification {
	return notify.Notification{
		Kind:          kind,
		CandidateID:   c.ID,
		CandidateName: c.FullName,
		Email:         c.Email,
		Phone:         c.Phone,
	}
}

func offerNotification(kind notify.Kind, c *models.Candidate, j *models.JobRequest, o *models.Offer) notify.Notification {
	n := candidateNotification(kind, c)
	n.OfferID = o.ID
	n.JobRequestID = j.ID
	n.JobTitle = j.Title
	n.EmployerName = j.EmployerName
	n.Country = j.Country
	n.ExpiresAt = o.ExpiresAt
	return n
}

func (e *Engine) getCandidate(ctx context.Context, s repository.Store, id int64) (*models.Candidate, error) {
	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return nil, storeErr(err, "get candidate")
	}
	if c == nil {
		return nil, notFound("candidate", id)
	}
	return c, nil
}

func (e *Engine) getJob(ctx context.Context, s repository.Store, id int64) (*models.JobRequest, error) {
	j, err := s.GetJobRequest(ctx, id)
	if err != nil {
		return nil, storeErr(err, "get job request")
	}
	if j == nil {
		return nil, notFound("job request", id)
	}
	return j, nil
}

func (e *Engine) getOffer(ctx context.Context, s repository.Store, id int64) (*models.Offer, error) {
	o, err := s.GetOffer(ctx, id)
	if err != nil {
		return nil, storeErr(err, "get offer")
	}
	if o == nil {
		return nil, notFound("offer", id)
	}
	return o, nil
}

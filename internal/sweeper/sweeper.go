// Package sweeper reclaims lapsed offers and flags overdue refunds.
//
// A sweep has two independent passes. Pass A expires every pending offer
// past its deadline and lets the engine reassign the slot. Pass B flags
// queued candidates whose refund window has run out. A failing item is
// recorded in Result.Errors and the sweep moves on to the next one.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/models"
)

// Engine is the part of the offer engine a sweep drives.
type Engine interface {
	ListExpiredOffers(ctx context.Context) ([]models.Offer, error)
	ExpireOffer(ctx context.Context, offerID int64) (*matching.ExpiryResult, error)
	ListRefundDue(ctx context.Context) ([]models.Candidate, error)
	FlagRefund(ctx context.Context, candidateID int64) (*models.Candidate, error)
	AutoMatch(ctx context.Context, jobID int64) (*matching.MatchResult, error)
}

// JobLister lists jobs that still wait for their first round of offers.
type JobLister interface {
	ListOpenJobRequests(ctx context.Context) ([]models.JobRequest, error)
}

// Result summarises one sweep.
type Result struct {
	ExpiredOffers  int      `json:"expired_offers"`
	NewOffers      int      `json:"new_offers"`
	RefundsFlagged int      `json:"refunds_flagged"`
	Errors         []string `json:"errors"`
}

// MatchSummary summarises an auto-match pass over open jobs.
type MatchSummary struct {
	Jobs    int      `json:"jobs"`
	Matched int      `json:"matched"`
	Errors  []string `json:"errors"`
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

type Sweeper struct {
	engine  Engine
	jobs    JobLister
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New returns a Sweeper. jobs may be nil when open-job auto-matching is not
// used.
func New(engine Engine, jobs JobLister, opts Options) *Sweeper {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{engine: engine, jobs: jobs, logger: opts.Logger, metrics: opts.Metrics}
}

// Run performs one sweep. It never stops at a failing item; only a
// cancelled context ends it early.
func (s *Sweeper) Run(ctx context.Context) Result {
	start := time.Now()
	res := Result{Errors: []string{}}

	s.expireOffers(ctx, &res)
	s.flagRefunds(ctx, &res)

	s.metrics.RecordSweep(time.Since(start).Seconds(), len(res.Errors))
	s.logger.Info("sweep finished",
		"expired_offers", res.ExpiredOffers,
		"new_offers", res.NewOffers,
		"refunds_flagged", res.RefundsFlagged,
		"errors", len(res.Errors),
		"duration", time.Since(start))
	return res
}

// Pass A.
func (s *Sweeper) expireOffers(ctx context.Context, res *Result) {
	offers, err := s.engine.ListExpiredOffers(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list expired offers: %v", err))
		return
	}

	for _, o := range offers {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("expire offers: %v", err))
			return
		}
		exp, err := s.engine.ExpireOffer(ctx, o.ID)
		if err != nil {
			s.logger.Warn("offer expiry failed", "offer_id", o.ID, "candidate_id", o.CandidateID, "err", err)
			res.Errors = append(res.Errors, fmt.Sprintf("offer %d: %v", o.ID, err))
			continue
		}
		res.ExpiredOffers++
		if exp.Reassigned != nil {
			res.NewOffers++
		}
	}
}

// Pass B.
func (s *Sweeper) flagRefunds(ctx context.Context, res *Result) {
	due, err := s.engine.ListRefundDue(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list refund due: %v", err))
		return
	}

	for _, c := range due {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("flag refunds: %v", err))
			return
		}
		if _, err := s.engine.FlagRefund(ctx, c.ID); err != nil {
			s.logger.Warn("refund flag failed", "candidate_id", c.ID, "err", err)
			res.Errors = append(res.Errors, fmt.Sprintf("candidate %d: %v", c.ID, err))
			continue
		}
		res.RefundsFlagged++
	}
}

// AutoMatchOpen runs auto-match for every open job with unfilled
// positions.
func (s *Sweeper) AutoMatchOpen(ctx context.Context) MatchSummary {
	sum := MatchSummary{Errors: []string{}}
	if s.jobs == nil {
		return sum
	}

	jobs, err := s.jobs.ListOpenJobRequests(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("list open jobs: %v", err))
		return sum
	}
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("auto-match: %v", err))
			return sum
		}
		sum.Jobs++
		mr, err := s.engine.AutoMatch(ctx, j.ID)
		if err != nil {
			s.logger.Warn("auto-match failed", "job_request_id", j.ID, "err", err)
			sum.Errors = append(sum.Errors, fmt.Sprintf("job request %d: %v", j.ID, err))
			continue
		}
		sum.Matched += mr.MatchedCount
		sum.Errors = append(sum.Errors, mr.Errors...)
	}
	return sum
}

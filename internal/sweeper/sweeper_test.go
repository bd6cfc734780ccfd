package sweeper_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dbfs "github.com/b0r1v0j3/workers-united/db"
	"github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/repository/sqlite"
	"github.com/b0r1v0j3/workers-united/internal/sweeper"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	ctx    context.Context
	store  *sqlite.SQLiteRepo
	engine *matching.Engine
	clock  *clock
	sw     *sweeper.Sweeper
	refs   int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	conn, err := db.New(ctx, filepath.Join(t.TempDir(), "sweep.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(ctx, conn, dbfs.Migrations))

	store := sqlite.New(conn, nil)
	clk := &clock{now: time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)}
	e := matching.NewEngine(store, nil, matching.Options{Now: clk.Now})

	return &env{ctx: ctx, store: store, engine: e, clock: clk, sw: sweeper.New(e, store, sweeper.Options{})}
}

func (e *env) queued(t *testing.T, name string) *models.Candidate {
	t.Helper()
	c, err := e.engine.RegisterCandidate(e.ctx, &models.Candidate{FullName: name, Email: name + "@example.com"})
	require.NoError(t, err)
	_, err = e.engine.VerifyCandidate(e.ctx, c.ID, models.DocumentVerdict{Approved: true, Confidence: 1})
	require.NoError(t, err)
	e.refs++
	c, err = e.engine.ConfirmEntryFee(e.ctx, matching.PaymentConfirmation{ProviderRef: fmt.Sprintf("pi_%d", e.refs), CandidateID: c.ID})
	require.NoError(t, err)
	return c
}

func (e *env) job(t *testing.T, positions int) *models.JobRequest {
	t.Helper()
	j, err := e.engine.CreateJobRequest(e.ctx, &models.JobRequest{EmployerName: "Acme", Title: "Picker", PositionsCount: positions})
	require.NoError(t, err)
	return j
}

func (e *env) status(t *testing.T, id int64) models.CandidateStatus {
	t.Helper()
	c, err := e.store.GetCandidate(e.ctx, id)
	require.NoError(t, err)
	return c.Status
}

func TestRun_ExpiresAndReassigns(t *testing.T) {
	e := newEnv(t)
	a := e.queued(t, "a")
	b := e.queued(t, "b")
	c := e.queued(t, "c")
	d := e.queued(t, "d")
	j := e.job(t, 2)

	_, err := e.engine.AutoMatch(e.ctx, j.ID)
	require.NoError(t, err)

	e.clock.Advance(24*time.Hour + time.Minute)
	res := e.sw.Run(e.ctx)

	assert.Equal(t, 2, res.ExpiredOffers)
	assert.Equal(t, 2, res.NewOffers)
	assert.Equal(t, 0, res.RefundsFlagged)
	assert.Empty(t, res.Errors)

	assert.Equal(t, models.CandidateInQueue, e.status(t, a.ID))
	assert.Equal(t, models.CandidateInQueue, e.status(t, b.ID))
	assert.Equal(t, models.CandidateOfferPending, e.status(t, c.ID))
	assert.Equal(t, models.CandidateOfferPending, e.status(t, d.ID))
}

func TestRun_SecondRunChangesNothing(t *testing.T) {
	e := newEnv(t)
	for _, n := range []string{"a", "b", "c"} {
		e.queued(t, n)
	}
	j := e.job(t, 1)
	_, err := e.engine.AutoMatch(e.ctx, j.ID)
	require.NoError(t, err)

	e.clock.Advance(91 * 24 * time.Hour)
	first := e.sw.Run(e.ctx)
	assert.Equal(t, 1, first.ExpiredOffers)
	assert.Equal(t, 1, first.NewOffers)
	// a returned to the queue and c never left it; b holds the fresh offer.
	assert.Equal(t, 2, first.RefundsFlagged)
	assert.Empty(t, first.Errors)

	second := e.sw.Run(e.ctx)
	assert.Equal(t, sweeper.Result{Errors: []string{}}, second)
}

func TestRun_RefundTiming(t *testing.T) {
	e := newEnv(t)
	pending := e.queued(t, "pending")
	waiting := e.queued(t, "waiting")
	j := e.job(t, 1)
	_, err := e.engine.AutoMatch(e.ctx, j.ID)
	require.NoError(t, err)

	// Keep the offer alive so Pass A leaves the pending candidate alone.
	o, err := e.store.GetPendingOfferByCandidate(e.ctx, pending.ID)
	require.NoError(t, err)
	o.ExpiresAt = e.clock.Now().Add(200 * 24 * time.Hour)
	require.NoError(t, e.store.UpdateOffer(e.ctx, o))

	e.clock.Advance(matching.DefaultRefundWindow + time.Second)
	res := e.sw.Run(e.ctx)

	assert.Equal(t, 0, res.ExpiredOffers)
	assert.Equal(t, 1, res.RefundsFlagged)
	assert.Equal(t, models.CandidateRefundFlagged, e.status(t, waiting.ID))
	assert.Equal(t, models.CandidateOfferPending, e.status(t, pending.ID))
}

func TestAutoMatchOpen(t *testing.T) {
	e := newEnv(t)
	e.queued(t, "a")
	e.queued(t, "b")
	e.queued(t, "c")
	e.job(t, 1)
	e.job(t, 1)

	sum := e.sw.AutoMatchOpen(e.ctx)
	assert.Equal(t, 2, sum.Jobs)
	assert.Equal(t, 2, sum.Matched)
	assert.Empty(t, sum.Errors)

	sum = e.sw.AutoMatchOpen(e.ctx)
	assert.Equal(t, 0, sum.Jobs, "matching jobs are not auto-matched again")
}

// flakyEngine fails selected items and records what it was asked to do.
type flakyEngine struct {
	mu          sync.Mutex
	expired     []models.Offer
	due         []models.Candidate
	failOffer   int64
	failCand    int64
	listErr     error
	expireCalls []int64
	flagCalls   []int64
	matchCalls  []int64
}

func (f *flakyEngine) ListExpiredOffers(context.Context) ([]models.Offer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.expired, nil
}

func (f *flakyEngine) ExpireOffer(_ context.Context, id int64) (*matching.ExpiryResult, error) {
	f.mu.Lock()
	f.expireCalls = append(f.expireCalls, id)
	f.mu.Unlock()
	if id == f.failOffer {
		return nil, errors.New("database is locked")
	}
	return &matching.ExpiryResult{Expired: models.Offer{ID: id}, Reassigned: &models.Offer{ID: id + 100}}, nil
}

func (f *flakyEngine) ListRefundDue(context.Context) ([]models.Candidate, error) {
	return f.due, nil
}

func (f *flakyEngine) FlagRefund(_ context.Context, id int64) (*models.Candidate, error) {
	f.mu.Lock()
	f.flagCalls = append(f.flagCalls, id)
	f.mu.Unlock()
	if id == f.failCand {
		return nil, errors.New("payment row missing")
	}
	return &models.Candidate{ID: id, Status: models.CandidateRefundFlagged}, nil
}

func (f *flakyEngine) AutoMatch(_ context.Context, id int64) (*matching.MatchResult, error) {
	f.mu.Lock()
	f.matchCalls = append(f.matchCalls, id)
	f.mu.Unlock()
	return &matching.MatchResult{JobRequestID: id, MatchedCount: 1}, nil
}

func TestRun_CollectsErrorsAndContinues(t *testing.T) {
	f := &flakyEngine{
		expired:   []models.Offer{{ID: 1}, {ID: 2}, {ID: 3}},
		due:       []models.Candidate{{ID: 10}, {ID: 11}},
		failOffer: 2,
		failCand:  10,
	}
	res := sweeper.New(f, nil, sweeper.Options{}).Run(context.Background())

	assert.Equal(t, 2, res.ExpiredOffers)
	assert.Equal(t, 2, res.NewOffers)
	assert.Equal(t, 1, res.RefundsFlagged)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "offer 2")
	assert.Contains(t, res.Errors[1], "candidate 10")
	assert.Equal(t, []int64{1, 2, 3}, f.expireCalls)
	assert.Equal(t, []int64{10, 11}, f.flagCalls)
}

func TestRun_ListFailureStillRunsPassB(t *testing.T) {
	f := &flakyEngine{listErr: errors.New("no such table"), due: []models.Candidate{{ID: 5}}}
	res := sweeper.New(f, nil, sweeper.Options{}).Run(context.Background())

	assert.Equal(t, 1, res.RefundsFlagged)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "list expired offers")
}

func TestRun_CancelledContext(t *testing.T) {
	f := &flakyEngine{expired: []models.Offer{{ID: 1}, {ID: 2}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := sweeper.New(f, nil, sweeper.Options{}).Run(ctx)
	assert.Equal(t, 0, res.ExpiredOffers)
	assert.Empty(t, f.expireCalls)
	assert.NotEmpty(t, res.Errors)
}

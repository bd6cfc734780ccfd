package matching_test

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
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/internal/repository/sqlite"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

// cancellingNotifier cancels the caller's context on the first notification
// and records the context state each notification sees.
type cancellingNotifier struct {
	cancel context.CancelFunc
	errs   []error
}

func (c *cancellingNotifier) Notify(ctx context.Context, _ notify.Notification) error {
	c.cancel()
	c.errs = append(c.errs, ctx.Err())
	return ctx.Err()
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *matching.Engine
	store    *sqlite.SQLiteRepo
	clock    *fakeClock
	notifier *recordingNotifier
	refs     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets a test wrap the sqlite store, e.g. to inject
// faults.
func newHarnessWithStore(t *testing.T, wrap func(repository.Store) repository.Store) *harness {
	t.Helper()
	ctx := context.Background()

	conn, err := db.New(ctx, filepath.Join(t.TempDir(), "engine.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(ctx, conn, dbfs.Migrations))

	store := sqlite.New(conn, nil)
	var s repository.Store = store
	if wrap != nil {
		s = wrap(store)
	}

	clock := &fakeClock{now: t0}
	n := &recordingNotifier{}
	e := matching.NewEngine(s, n, matching.Options{Now: clock.Now})

	return &harness{t: t, ctx: ctx, engine: e, store: store, clock: clock, notifier: n}
}

func (h *harness) nextRef() string {
	h.refs++
	return fmt.Sprintf("pi_%04d", h.refs)
}

// verified registers a candidate and approves their documents.
func (h *harness) verified(name string) *models.Candidate {
	h.t.Helper()
	c, err := h.engine.RegisterCandidate(h.ctx, &models.Candidate{FullName: name, Email: name + "@example.com"})
	require.NoError(h.t, err)
	c, err = h.engine.VerifyCandidate(h.ctx, c.ID, models.DocumentVerdict{Approved: true, Confidence: 0.95})
	require.NoError(h.t, err)
	return c
}

// queued brings a new candidate all the way into the queue.
func (h *harness) queued(name string) *models.Candidate {
	h.t.Helper()
	c := h.verified(name)
	c, err := h.engine.ConfirmEntryFee(h.ctx, matching.PaymentConfirmation{
		ProviderRef: h.nextRef(),
		CandidateID: c.ID,
		AmountCents: 900,
		Currency:    "eur",
	})
	require.NoError(h.t, err)
	return c
}

func (h *harness) job(positions int) *models.JobRequest {
	h.t.Helper()
	j, err := h.engine.CreateJobRequest(h.ctx, &models.JobRequest{
		EmployerName:   "Acme d.o.o.",
		Title:          "Welder",
		Country:        "RS",
		PositionsCount: positions,
	})
	require.NoError(h.t, err)
	return j
}

func (h *harness) pay(o models.Offer) (*matching.AcceptResult, error) {
	return h.engine.AcceptOffer(h.ctx, matching.PaymentConfirmation{
		ProviderRef: h.nextRef(),
		CandidateID: o.CandidateID,
		OfferID:     o.ID,
		AmountCents: 19000,
		Currency:    "eur",
	})
}

func (h *harness) candidate(id int64) *models.Candidate {
	h.t.Helper()
	c, err := h.store.GetCandidate(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, c)
	return c
}

func (h *harness) jobRequest(id int64) *models.JobRequest {
	h.t.Helper()
	j, err := h.store.GetJobRequest(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, j)
	return j
}

func (h *harness) offers(candidateID int64) []models.Offer {
	h.t.Helper()
	list, err := h.store.ListOffersByCandidate(h.ctx, candidateID)
	require.NoError(h.t, err)
	return list
}

func offeredCandidates(offers []models.Offer) []int64 {
	ids := make([]int64, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.CandidateID)
	}
	return ids
}

// faultyStore fails UpdateCandidate for one candidate when it is being moved
// to failStatus. Writes made before the failure must be rolled back by the
// caller's savepoint.
type faultyStore struct {
	repository.Store
	failFor    int64
	failStatus models.CandidateStatus
}

func (f *faultyStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return f.Store.InTx(ctx, func(s repository.Store) error {
		return fn(&faultyStore{Store: s, failFor: f.failFor, failStatus: f.failStatus})
	})
}

func (f *faultyStore) UpdateCandidate(ctx context.Context, c *models.Candidate) error {
	if c.ID == f.failFor && c.Status == f.failStatus {
		return errors.New("injected write failure")
	}
	return f.Store.UpdateCandidate(ctx, c)
}

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/b0r1v0j3/workers-united/internal/jobs"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
)

const jobPrefix = "notify."

// Priority of notification jobs in the shared queue. Lower runs first.
const jobPriority = 50

// JobType is the background job type carrying notifications of kind k.
func JobType(k Kind) string {
	return jobPrefix + string(k)
}

// Kinds lists every notification kind with a template.
func Kinds() []Kind {
	return []Kind{KindOfferCreated, KindOfferExpired, KindOfferAccepted, KindRefundFlagged}
}

// QueueNotifier turns notifications into background jobs. Delivery happens
// later in the worker pool, so Notify only waits for one insert.
type QueueNotifier struct {
	repo        repository.JobRepo
	maxAttempts int
	logger      *slog.Logger
}

func NewQueueNotifier(repo repository.JobRepo, maxAttempts int, logger *slog.Logger) *QueueNotifier {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{repo: repo, maxAttempts: maxAttempts, logger: logger}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	id, err := jobs.Enqueue(ctx, q.repo, JobType(n.Kind), n, jobPriority, q.maxAttempts)
	if err != nil {
		return errors.Wrapf(err, "enqueue %s notification", n.Kind)
	}
	q.logger.Debug("notification queued", "job_id", id, "kind", n.Kind, "candidate_id", n.CandidateID)
	return nil
}

// Handler returns the job handler that renders and dispatches queued
// notifications.
func Handler(d Dispatcher) jobs.Handler {
	return func(ctx context.Context, j *models.BackgroundJob) error {
		var n Notification
		if err := json.Unmarshal(j.Payload, &n); err != nil {
			return errors.Wrap(err, "decode notification")
		}
		if n.Kind == "" {
			n.Kind = Kind(strings.TrimPrefix(j.Type, jobPrefix))
		}
		m, err := Render(n)
		if err != nil {
			return err
		}
		return d.Dispatch(ctx, m)
	}
}

// Register installs the notification handler for every kind on pool.
func Register(pool *jobs.WorkerPool, d Dispatcher) {
	h := Handler(d)
	for _, k := range Kinds() {
		pool.Handle(JobType(k), h)
	}
}

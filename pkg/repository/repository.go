package repository

import (
	"context"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

// ErrConflict is returned when a write violates a store constraint, e.g. a
// second active offer for the same (candidate, job) pair or a reused
// payment reference.
var ErrConflict = errors.New("constraint violation")

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
// Getters return (nil, nil) when the row does not exist.

type CandidateRepo interface {
	CreateCandidate(ctx context.Context, c *models.Candidate) (int64, error)
	GetCandidate(ctx context.Context, id int64) (*models.Candidate, error)
	UpdateCandidate(ctx context.Context, c *models.Candidate) error
	// NextQueuePosition advances the queue sequence and returns the new
	// value. Values are never handed out twice.
	NextQueuePosition(ctx context.Context) (int64, error)
	// ListQueued returns IN_QUEUE candidates with the entry fee paid, in
	// FIFO order.
	ListQueued(ctx context.Context, limit, offset int) ([]models.Candidate, error)
	CountQueued(ctx context.Context) (int64, error)
	// ListEligibleForJob returns up to limit queued candidates that hold no
	// active offer for jobID, lowest queue position first.
	ListEligibleForJob(ctx context.Context, jobID int64, limit int) ([]models.Candidate, error)
	// NextEligibleAfter returns the queued candidate with the smallest
	// position greater than after that has never had an offer for jobID.
	NextEligibleAfter(ctx context.Context, jobID int64, after int64) (*models.Candidate, error)
	// ListRefundDue returns queued, refund-eligible candidates that joined
	// the queue strictly before cutoff.
	ListRefundDue(ctx context.Context, cutoff time.Time) ([]models.Candidate, error)
}

type JobRequestRepo interface {
	CreateJobRequest(ctx context.Context, j *models.JobRequest) (int64, error)
	GetJobRequest(ctx context.Context, id int64) (*models.JobRequest, error)
	UpdateJobRequest(ctx context.Context, j *models.JobRequest) error
	ListOpenJobRequests(ctx context.Context) ([]models.JobRequest, error)
}

type OfferRepo interface {
	CreateOffer(ctx context.Context, o *models.Offer) (int64, error)
	GetOffer(ctx context.Context, id int64) (*models.Offer, error)
	UpdateOffer(ctx context.Context, o *models.Offer) error
	HasActiveOffer(ctx context.Context, candidateID, jobID int64) (bool, error)
	CountPendingOffers(ctx context.Context, jobID int64) (int, error)
	ListExpiredPending(ctx context.Context, now time.Time) ([]models.Offer, error)
	ListOffersByCandidate(ctx context.Context, candidateID int64) ([]models.Offer, error)
	GetPendingOfferByCandidate(ctx context.Context, candidateID int64) (*models.Offer, error)
}

type PaymentRepo interface {
	CreatePayment(ctx context.Context, p *models.Payment) (int64, error)
	GetPaymentByRef(ctx context.Context, providerRef string) (*models.Payment, error)
	GetLatestPayment(ctx context.Context, candidateID int64, kind models.PaymentKind) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error
}

type ContractRepo interface {
	CreateContractData(ctx context.Context, c *models.ContractData) (int64, error)
	GetContractDataByOffer(ctx context.Context, offerID int64) (*models.ContractData, error)
}

type JobRepo interface {
	Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error)
	FetchNext(ctx context.Context) (*models.BackgroundJob, error)
	UpdateJob(ctx context.Context, j *models.BackgroundJob) error
	MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error
	// RequeueRunning returns jobs stuck in running to the retry state.
	RequeueRunning(ctx context.Context) (int64, error)
}

// Store groups the repositories the offer engine mutates together.
type Store interface {
	CandidateRepo
	JobRequestRepo
	OfferRepo
	PaymentRepo
	ContractRepo

	// InTx runs fn against a Store bound to a single transaction. A nested
	// InTx runs inside a savepoint of the outer transaction: when the inner
	// fn fails only its own writes are rolled back.
	InTx(ctx context.Context, fn func(Store) error) error
}

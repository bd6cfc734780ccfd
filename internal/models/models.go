package models

import (
	"encoding/json"
	"time"
)

type CandidateStatus string

const (
	CandidateNew                CandidateStatus = "NEW"
	CandidateVerified           CandidateStatus = "VERIFIED"
	CandidateInQueue            CandidateStatus = "IN_QUEUE"
	CandidateOfferPending       CandidateStatus = "OFFER_PENDING"
	CandidateOfferAccepted      CandidateStatus = "OFFER_ACCEPTED"
	CandidateVisaProcessStarted CandidateStatus = "VISA_PROCESS_STARTED"
	CandidateRefundFlagged      CandidateStatus = "REFUND_FLAGGED"
	CandidateRejected           CandidateStatus = "REJECTED"
)

type JobStatus string

const (
	JobOpen      JobStatus = "open"
	JobMatching  JobStatus = "matching"
	JobFilled    JobStatus = "filled"
	JobClosed    JobStatus = "closed"
	JobCancelled JobStatus = "cancelled"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferExpired  OfferStatus = "expired"
)

type PaymentKind string

const (
	PaymentEntryFee        PaymentKind = "entry_fee"
	PaymentConfirmationFee PaymentKind = "confirmation_fee"
)

type PaymentStatus string

const (
	PaymentCompleted        PaymentStatus = "completed"
	PaymentFlaggedForRefund PaymentStatus = "flagged_for_refund"
	PaymentRefunded         PaymentStatus = "refunded"
)

// Candidate is a job seeker moving through the verification, queue and
// offer lifecycle. QueuePosition is nil until the entry fee is paid.
type Candidate struct {
	ID             int64           `json:"id"`
	FullName       string          `json:"full_name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone,omitempty"`
	Status         CandidateStatus `json:"status"`
	QueuePosition  *int64          `json:"queue_position,omitempty"`
	QueueJoinedAt  *time.Time      `json:"queue_joined_at,omitempty"`
	EntryFeePaid   bool            `json:"entry_fee_paid"`
	RefundDeadline *time.Time      `json:"refund_deadline,omitempty"`
	RefundEligible bool            `json:"refund_eligible"`
	Created        time.Time       `json:"created"`
	Updated        time.Time       `json:"updated"`
}

// JobRequest is an employer's request for one or more workers.
type JobRequest struct {
	ID                 int64     `json:"id"`
	EmployerName       string    `json:"employer_name"`
	Title              string    `json:"title"`
	Country            string    `json:"country,omitempty"`
	PositionsCount     int       `json:"positions_count"`
	PositionsFilled    int       `json:"positions_filled"`
	Status             JobStatus `json:"status"`
	AutoMatchTriggered bool      `json:"auto_match_triggered"`
	Created            time.Time `json:"created"`
	Updated            time.Time `json:"updated"`
}

// OpenPositions returns how many positions are still unfilled.
func (j *JobRequest) OpenPositions() int {
	n := j.PositionsCount - j.PositionsFilled
	if n < 0 {
		return 0
	}
	return n
}

// Offer links one candidate to one job request for a limited time.
type Offer struct {
	ID                   int64       `json:"id"`
	CandidateID          int64       `json:"candidate_id"`
	JobRequestID         int64       `json:"job_request_id"`
	Status               OfferStatus `json:"status"`
	QueuePositionAtOffer int64       `json:"queue_position_at_offer"`
	OfferedAt            time.Time   `json:"offered_at"`
	ExpiresAt            time.Time   `json:"expires_at"`
	AcceptedAt           *time.Time  `json:"accepted_at,omitempty"`
	DeclinedAt           *time.Time  `json:"declined_at,omitempty"`
	Created              time.Time   `json:"created"`
}

// Active reports whether the offer still holds the (candidate, job) pair.
func (o *Offer) Active() bool {
	return o.Status == OfferPending || o.Status == OfferAccepted
}

type Payment struct {
	ID          int64         `json:"id"`
	CandidateID int64         `json:"candidate_id"`
	OfferID     *int64        `json:"offer_id,omitempty"`
	Kind        PaymentKind   `json:"kind"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	Status      PaymentStatus `json:"status"`
	ProviderRef string        `json:"provider_ref"`
	Created     time.Time     `json:"created"`
	Updated     time.Time     `json:"updated"`
}

// ContractData is the skeleton row downstream document generation fills in.
type ContractData struct {
	ID           int64     `json:"id"`
	OfferID      int64     `json:"offer_id"`
	CandidateID  int64     `json:"candidate_id"`
	JobRequestID int64     `json:"job_request_id"`
	Created      time.Time `json:"created"`
}

type BackgroundJob struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// DocumentVerdict is the outcome of an automated document check.
type DocumentVerdict struct {
	Approved   bool     `json:"approved"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
	Model      string   `json:"model,omitempty"`
}

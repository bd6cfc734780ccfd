package notify

import (
	"context"
	"time"
)

// Kind names a notification template.
type Kind string

const (
	KindOfferCreated  Kind = "offer_created"
	KindOfferExpired  Kind = "offer_expired"
	KindOfferAccepted Kind = "offer_accepted"
	KindRefundFlagged Kind = "refund_flagged"
)

// Notification is what the offer engine asks to be delivered after a state
// change has been committed.
type Notification struct {
	Kind          Kind      `json:"kind"`
	CandidateID   int64     `json:"candidate_id"`
	CandidateName string    `json:"candidate_name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	OfferID       int64     `json:"offer_id,omitempty"`
	JobRequestID  int64     `json:"job_request_id,omitempty"`
	JobTitle      string    `json:"job_title,omitempty"`
	EmployerName  string    `json:"employer_name,omitempty"`
	Country       string    `json:"country,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// Notifier accepts notifications for best-effort delivery. Implementations
// must not block on the actual send.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

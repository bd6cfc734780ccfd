package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
	"github.com/qri-io/jsonschema"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)), optionally
// prefixed with "sha256=".
const SignatureHeader = "X-Signature"

const maxWebhookBody = 64 << 10

const paymentEventSchema = `{
	"type": "object",
	"required": ["kind", "provider_ref", "candidate_id"],
	"properties": {
		"event_id": {"type": "string"},
		"kind": {"type": "string", "enum": ["entry_fee", "confirmation_fee"]},
		"provider_ref": {"type": "string", "minLength": 1, "maxLength": 255},
		"candidate_id": {"type": "integer", "minimum": 1},
		"offer_id": {"type": "integer", "minimum": 1},
		"amount_cents": {"type": "integer", "minimum": 0},
		"currency": {"type": "string", "pattern": "^[A-Za-z]{3}$"}
	}
}`

type paymentEvent struct {
	EventID     string             `json:"event_id"`
	Kind        models.PaymentKind `json:"kind"`
	ProviderRef string             `json:"provider_ref"`
	CandidateID int64              `json:"candidate_id"`
	OfferID     int64              `json:"offer_id"`
	AmountCents int64              `json:"amount_cents"`
	Currency    string             `json:"currency"`
}

type webhookResponse struct {
	Status     string                 `json:"status"`
	Kind       models.PaymentKind     `json:"kind,omitempty"`
	Candidate  *models.Candidate      `json:"candidate,omitempty"`
	Acceptance *matching.AcceptResult `json:"acceptance,omitempty"`
}

// Webhook outcomes recorded in metrics.
const (
	webhookProcessed = "processed"
	webhookDuplicate = "duplicate"
	webhookRejected  = "rejected"
	webhookFailed    = "failed"
)

type WebhookHandler struct {
	engine  *matching.Engine
	secret  []byte
	schema  *jsonschema.Schema
	metrics *metrics.Collector
}

func NewWebhookHandler(engine *matching.Engine, secret string, m *metrics.Collector) (*WebhookHandler, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(paymentEventSchema), rs); err != nil {
		return nil, errors.Wrap(err, "compile payment event schema")
	}
	return &WebhookHandler{engine: engine, secret: []byte(secret), schema: rs, metrics: m}, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// PaymentWebhook handles payment provider callbacks. Entry fees put the
// candidate in the queue; confirmation fees accept the pending offer.
// Redelivered events are acknowledged with 200 and change nothing.
func (h *WebhookHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.RecordWebhook(webhookRejected)
		badRequest(w, "unreadable body")
		return
	}

	if !h.validSignature(r.Header.Get(SignatureHeader), body) {
		h.metrics.RecordWebhook(webhookRejected)
		writeJSON(w, errorResponse{Error: "invalid signature"}, http.StatusUnauthorized)
		return
	}

	keyErrs, err := h.schema.ValidateBytes(r.Context(), body)
	if err != nil {
		h.metrics.RecordWebhook(webhookRejected)
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	if len(keyErrs) > 0 {
		h.metrics.RecordWebhook(webhookRejected)
		badRequest(w, "invalid payload: "+keyErrs[0].Error())
		return
	}

	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.metrics.RecordWebhook(webhookRejected)
		badRequest(w, "invalid payload: "+err.Error())
		return
	}

	p := matching.PaymentConfirmation{
		ProviderRef: ev.ProviderRef,
		CandidateID: ev.CandidateID,
		OfferID:     ev.OfferID,
		AmountCents: ev.AmountCents,
		Currency:    strings.ToLower(ev.Currency),
	}
	resp := webhookResponse{Status: webhookProcessed, Kind: ev.Kind}

	switch ev.Kind {
	case models.PaymentEntryFee:
		resp.Candidate, err = h.engine.ConfirmEntryFee(r.Context(), p)
	case models.PaymentConfirmationFee:
		if ev.OfferID <= 0 {
			h.metrics.RecordWebhook(webhookRejected)
			badRequest(w, "offer_id is required for confirmation_fee")
			return
		}
		resp.Acceptance, err = h.engine.AcceptOffer(r.Context(), p)
	}

	if errors.Is(err, matching.ErrDuplicatePayment) {
		h.metrics.RecordWebhook(webhookDuplicate)
		logger.Info("duplicate payment event", slog.String("provider_ref", ev.ProviderRef), slog.String("event_id", ev.EventID))
		writeJSON(w, webhookResponse{Status: webhookDuplicate, Kind: ev.Kind}, http.StatusOK)
		return
	}
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.metrics.RecordWebhook(webhookFailed)
		} else {
			h.metrics.RecordWebhook(webhookRejected)
		}
		writeError(w, r, err)
		return
	}

	h.metrics.RecordWebhook(webhookProcessed)
	writeJSON(w, resp, http.StatusOK)
}

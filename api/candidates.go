package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/verify"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
)

// CandidateReader is the read side the candidate endpoints need.
type CandidateReader interface {
	GetCandidate(ctx context.Context, id int64) (*models.Candidate, error)
	ListOffersByCandidate(ctx context.Context, candidateID int64) ([]models.Offer, error)
}

type CandidatesHandler struct {
	engine   *matching.Engine
	reader   CandidateReader
	verifier *verify.Verifier
}

// NewCandidatesHandler wires the candidate endpoints. A nil verifier
// disables model-backed document checks; admins can still post a verdict.
func NewCandidatesHandler(engine *matching.Engine, reader CandidateReader, verifier *verify.Verifier) *CandidatesHandler {
	return &CandidatesHandler{engine: engine, reader: reader, verifier: verifier}
}

var _ CandidateReader = (repository.Store)(nil)

// authorizeCandidate resolves the {id} path variable and checks the caller
// may act on it. It writes the response and returns false on failure.
func authorizeCandidate(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid candidate id")
		return 0, false
	}
	p, _ := PrincipalFrom(r.Context())
	if !p.CanAccessCandidate(id) {
		writeJSON(w, errorResponse{Error: "forbidden"}, http.StatusForbidden)
		return 0, false
	}
	return id, true
}

func (h *CandidatesHandler) GetCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := authorizeCandidate(w, r)
	if !ok {
		return
	}

	c, err := h.reader.GetCandidate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if c == nil {
		writeJSON(w, errorResponse{Error: "candidate not found"}, http.StatusNotFound)
		return
	}
	writeJSON(w, c, http.StatusOK)
}

func (h *CandidatesHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	id, ok := authorizeCandidate(w, r)
	if !ok {
		return
	}

	offers, err := h.reader.ListOffersByCandidate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	writeJSON(w, map[string]any{"offers": offers}, http.StatusOK)
}

// DeclineOffer lets the owning candidate give a pending offer back.
func (h *CandidatesHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	offerID, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid offer id")
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if p.Role != RoleCandidate {
		writeJSON(w, errorResponse{Error: "only the offered candidate can decline"}, http.StatusForbidden)
		return
	}

	res, err := h.engine.DeclineOffer(r.Context(), offerID, p.CandidateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

type verifyRequest struct {
	Documents []verify.Document `json:"documents,omitempty"`

	// Verdict is an externally produced result. Only admins may send it.
	Verdict *models.DocumentVerdict `json:"verdict,omitempty"`
}

type verifyResponse struct {
	Candidate *models.Candidate      `json:"candidate,omitempty"`
	Verdict   models.DocumentVerdict `json:"verdict"`
}

// VerifyDocuments runs the document check and, when it passes, moves the
// candidate from NEW to VERIFIED. A failed check answers 400 with the
// verdict so the candidate can see the issues.
func (h *CandidatesHandler) VerifyDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := authorizeCandidate(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var verdict models.DocumentVerdict
	p, _ := PrincipalFrom(r.Context())
	switch {
	case req.Verdict != nil:
		if !p.IsAdmin() {
			writeJSON(w, errorResponse{Error: "only admins can submit a verdict"}, http.StatusForbidden)
			return
		}
		verdict = *req.Verdict
	case h.verifier == nil:
		writeJSON(w, errorResponse{Error: "document verification is disabled"}, http.StatusServiceUnavailable)
		return
	default:
		c, err := h.reader.GetCandidate(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if c == nil {
			writeJSON(w, errorResponse{Error: "candidate not found"}, http.StatusNotFound)
			return
		}
		verdict, err = h.verifier.Verify(r.Context(), c, req.Documents)
		if err != nil {
			logger.Warn("document verification failed", slog.Int64("candidate_id", id), slog.Any("err", err))
			writeError(w, r, err)
			return
		}
	}

	c, err := h.engine.VerifyCandidate(r.Context(), id, verdict)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeJSON(w, map[string]any{"error": err.Error(), "verdict": verdict}, status)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, verifyResponse{Candidate: c, Verdict: verdict}, http.StatusOK)
}

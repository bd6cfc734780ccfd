package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/sweeper"
)

// JobReader loads a job request for the admin view.
type JobReader interface {
	GetJobRequest(ctx context.Context, id int64) (*models.JobRequest, error)
}

// Sweeper runs one expiry/refund pass on demand.
type Sweeper interface {
	Run(ctx context.Context) sweeper.Result
}

type AdminHandler struct {
	engine  *matching.Engine
	jobs    JobReader
	sweeper Sweeper
}

func NewAdminHandler(engine *matching.Engine, jobs JobReader, sw Sweeper) *AdminHandler {
	return &AdminHandler{engine: engine, jobs: jobs, sweeper: sw}
}

type createCandidateRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

// CreateCandidate imports a signed-up user as a NEW candidate.
func (h *AdminHandler) CreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req createCandidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.engine.RegisterCandidate(r.Context(), &models.Candidate{FullName: req.FullName, Email: req.Email, Phone: req.Phone})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusCreated)
}

type createJobRequest struct {
	EmployerName   string `json:"employer_name"`
	Title          string `json:"title"`
	Country        string `json:"country,omitempty"`
	PositionsCount int    `json:"positions_count"`
}

func (h *AdminHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := h.engine.CreateJobRequest(r.Context(), &models.JobRequest{
		EmployerName:   req.EmployerName,
		Title:          req.Title,
		Country:        req.Country,
		PositionsCount: req.PositionsCount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, j, http.StatusCreated)
}

func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid job request id")
		return
	}
	j, err := h.jobs.GetJobRequest(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if j == nil {
		writeJSON(w, errorResponse{Error: "job request not found"}, http.StatusNotFound)
		return
	}
	writeJSON(w, j, http.StatusOK)
}

func (h *AdminHandler) AutoMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid job request id")
		return
	}
	res, err := h.engine.AutoMatch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Offers == nil {
		res.Offers = []models.Offer{}
	}
	writeJSON(w, res, http.StatusOK)
}

type manualMatchRequest struct {
	CandidateID  int64 `json:"candidate_id"`
	JobRequestID int64 `json:"job_request_id"`
}

// ManualMatch places a candidate on a job outside queue order.
func (h *AdminHandler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	var req manualMatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CandidateID <= 0 || req.JobRequestID <= 0 {
		badRequest(w, "candidate_id and job_request_id are required")
		return
	}
	res, err := h.engine.ManualMatch(r.Context(), req.CandidateID, req.JobRequestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusCreated)
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.sweeper.Run(r.Context()), http.StatusOK)
}

type refundDecision struct {
	Approve *bool `json:"approve"`
}

func (h *AdminHandler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid candidate id")
		return
	}
	var req refundDecision
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Approve == nil {
		badRequest(w, "approve is required")
		return
	}
	c, err := h.engine.ResolveRefund(r.Context(), id, *req.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusOK)
}

func (h *AdminHandler) StartVisa(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid candidate id")
		return
	}
	c, err := h.engine.StartVisaProcess(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusOK)
}

type queueResponse struct {
	Candidates []models.Candidate `json:"candidates"`
	Total      int64              `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// ListQueue returns queued candidates in FIFO order. limit defaults to 50
// and is capped at 500.
func (h *AdminHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "invalid offset")
			return
		}
		offset = n
	}

	list, total, err := h.engine.ListQueue(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Candidate{}
	}
	writeJSON(w, queueResponse{Candidates: list, Total: total, Limit: limit, Offset: offset}, http.StatusOK)
}

package matching

import (
	"github.com/b0r1v0j3/workers-united/internal/models"
)

// candidateTransitions lists every legal candidate status change. Any update
// of Candidate.Status goes through transition, which consults this table.
var candidateTransitions = map[models.CandidateStatus][]models.CandidateStatus{
	models.CandidateNew: {
		models.CandidateVerified,
		models.CandidateRejected,
	},
	models.CandidateVerified: {
		models.CandidateInQueue,
		models.CandidateOfferAccepted, // manual match
		models.CandidateRejected,
	},
	models.CandidateInQueue: {
		models.CandidateOfferPending,
		models.CandidateOfferAccepted, // manual match
		models.CandidateRefundFlagged,
	},
	models.CandidateOfferPending: {
		models.CandidateInQueue,
		models.CandidateVisaProcessStarted,
	},
	models.CandidateOfferAccepted: {
		models.CandidateVisaProcessStarted,
	},
	models.CandidateRefundFlagged: {
		models.CandidateRejected,
		models.CandidateInQueue, // refund denied
	},
}

// CanTransition reports whether a candidate may move from one status to
// another.
func CanTransition(from, to models.CandidateStatus) bool {
	for _, s := range candidateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves status.
func IsTerminal(status models.CandidateStatus) bool {
	return len(candidateTransitions[status]) == 0
}

// IsKnownStatus reports whether status is one of the defined candidate states.
func IsKnownStatus(status models.CandidateStatus) bool {
	switch status {
	case models.CandidateNew, models.CandidateVerified, models.CandidateInQueue,
		models.CandidateOfferPending, models.CandidateOfferAccepted,
		models.CandidateVisaProcessStarted, models.CandidateRefundFlagged,
		models.CandidateRejected:
		return true
	default:
		return false
	}
}

func transition(c *models.Candidate, to models.CandidateStatus) error {
	if !CanTransition(c.Status, to) {
		return invalidTransition(c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// jobAcceptsOffers reports whether new offers may be created against j.
func jobAcceptsOffers(j *models.JobRequest) bool {
	return (j.Status == models.JobOpen || j.Status == models.JobMatching) && j.OpenPositions() > 0
}

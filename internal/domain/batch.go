package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchAction is the single action applied to every id of a batch request
type BatchAction string

// Supported batch actions
const (
	BatchActionComplete BatchAction = "complete"
	BatchActionDelete   BatchAction = "delete"
)

// Valid reports whether a is a supported batch action.
func (a BatchAction) Valid() bool {
	return a == BatchActionComplete || a == BatchActionDelete
}

// BatchOutcome tags what happened to one id of a batch
type BatchOutcome string

// Per-id batch outcomes
const (
	BatchOutcomeUpdated  BatchOutcome = "updated"
	BatchOutcomeDeleted  BatchOutcome = "deleted"
	BatchOutcomeNoop     BatchOutcome = "noop"
	BatchOutcomeNotFound BatchOutcome = "not_found"
)

// BatchItemResult is the outcome for one distinct input id.
type BatchItemResult struct {
	ID      uuid.UUID    `json:"id"`
	Outcome BatchOutcome `json:"outcome"`
	Success bool         `json:"success"`
	Reason  string       `json:"reason,omitempty"`
}

// BatchResult summarizes a batch operation.
// Results holds exactly one entry per distinct input id.
type BatchResult struct {
	Action    BatchAction       `json:"action"`
	Requested int               `json:"requested"`
	Affected  int               `json:"affected"`
	NotFound  int               `json:"not_found"`
	Results   []BatchItemResult `json:"results"`
}

// DedupeIDs removes repeated ids while keeping first-seen order.
func DedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// StatusChange identifies one row changed by a bulk status update together
// with the updated_at it was given.
type StatusChange struct {
	ID        uuid.UUID
	UpdatedAt time.Time
}

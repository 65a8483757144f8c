// Package projection folds offer events into the per-offer snapshot row.
//
// The fold is order independent: for any set of events of one offer, every arrival order
// yields the same row. Fields come from the event with the highest (sequence, status rank);
// created_sequence is the lowest sequence seen.
package projection

import "github.com/afikmenashe/orderflow-pipeline/pkg/events"

// Status is the lifecycle state of an offer.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Rank orders statuses that share a sequence number. Terminal states outrank created.
func (s Status) Rank() int {
	switch s {
	case StatusFilled:
		return 2
	case StatusCancelled:
		return 1
	default:
		return 0
	}
}

// Offer is the persisted snapshot of one offer.
type Offer struct {
	OfferID         string
	Status          Status
	Maker           string
	Taker           *string
	AssetA          string
	AssetB          string
	AmountA         string
	AmountB         string
	CreatedSequence uint64
	UpdatedSequence uint64
}

// Derive maps an event kind to the offer status it produces and the taker to record.
// Only fills carry a taker.
func Derive(kind events.EventKind, taker *string) (Status, *string) {
	switch kind {
	case events.KindFilled:
		return StatusFilled, taker
	case events.KindCancelled:
		return StatusCancelled, nil
	default:
		return StatusCreated, nil
	}
}

// FromEvent builds the row ev would produce on its own.
func FromEvent(ev *events.NormalizedEvent) Offer {
	status, taker := Derive(ev.EventKind, ev.Taker)
	return Offer{
		OfferID:         ev.OfferID,
		Status:          status,
		Maker:           ev.Maker,
		Taker:           taker,
		AssetA:          ev.AssetA,
		AssetB:          ev.AssetB,
		AmountA:         ev.AmountA,
		AmountB:         ev.AmountB,
		CreatedSequence: ev.Sequence,
		UpdatedSequence: ev.Sequence,
	}
}

// Supersedes reports whether an event at (sequence, status) overwrites a row last updated
// at (current.UpdatedSequence, current.Status).
func Supersedes(sequence uint64, status Status, current *Offer) bool {
	if sequence != current.UpdatedSequence {
		return sequence > current.UpdatedSequence
	}
	return status.Rank() > current.Status.Rank()
}

// Apply folds ev into current, which may be nil for an unseen offer. It returns the new row
// and whether anything changed.
func Apply(current *Offer, ev *events.NormalizedEvent) (*Offer, bool) {
	incoming := FromEvent(ev)
	if current == nil {
		return &incoming, true
	}

	next := *current
	changed := false
	if Supersedes(incoming.UpdatedSequence, incoming.Status, current) {
		incoming.CreatedSequence = current.CreatedSequence
		next = incoming
		changed = true
	}
	if ev.Sequence < next.CreatedSequence {
		next.CreatedSequence = ev.Sequence
		changed = true
	}
	return &next, changed
}

// Package events defines the canonical records carried on the escrow event and alert topics,
// and the raw record format the escrow contract writes to the ledger log.
package events

import (
	"fmt"
	"strconv"
	"time"
)

// EventKind is the canonical kind of an escrow offer event.
type EventKind string

const (
	KindCreated   EventKind = "Created"
	KindFilled    EventKind = "Filled"
	KindCancelled EventKind = "Cancelled"
)

// Valid reports whether k is one of the canonical kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindCreated, KindFilled, KindCancelled:
		return true
	default:
		return false
	}
}

// ParseRawKind maps the kind string written by the contract to the canonical kind.
func ParseRawKind(raw string) (EventKind, bool) {
	switch raw {
	case "OfferCreated":
		return KindCreated, true
	case "OfferFilled":
		return KindFilled, true
	case "OfferCancelled":
		return KindCancelled, true
	default:
		return "", false
	}
}

// RawLogEvent is the JSON object the contract logs for every offer state change.
// It is untrusted input.
type RawLogEvent struct {
	Event   string  `json:"event"`
	OfferID string  `json:"offer_id"`
	Maker   string  `json:"maker"`
	Taker   *string `json:"taker,omitempty"`
	AssetA  string  `json:"asset_a"`
	AssetB  string  `json:"asset_b"`
	AmountA uint64  `json:"amount_a"`
	AmountB uint64  `json:"amount_b"`
}

// NormalizedEvent is the canonical event published to the events topic, keyed by OfferID.
// It is immutable once published. Amounts are decimal strings so no consumer loses
// precision on values above 2^53.
type NormalizedEvent struct {
	EventID              string    `json:"event_id"`
	EventKind            EventKind `json:"event_kind"`
	Network              string    `json:"network"`
	Sequence             uint64    `json:"sequence"`
	TransactionSignature string    `json:"transaction_signature"`
	ContractID           string    `json:"contract_id"`
	OfferID              string    `json:"offer_id"`
	Maker                string    `json:"maker"`
	Taker                *string   `json:"taker"`
	AssetA               string    `json:"asset_a"`
	AssetB               string    `json:"asset_b"`
	AmountA              string    `json:"amount_a"`
	AmountB              string    `json:"amount_b"`
	CommitmentLevel      string    `json:"commitment_level"`
	IngestedAtMs         uint64    `json:"ingested_at_ms"`
}

// Rule identifiers carried in AlertEvent.RuleID.
const (
	RuleLargeAmount = "large_amount"
	RuleFreqCancel  = "freq_cancel"
)

// Alert severities.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// AlertEvent is a rule trigger published to the alerts topic, keyed by Subject.
// AlertID is derived only from upstream facts, so re-emissions carry the same id.
type AlertEvent struct {
	AlertID     string         `json:"alert_id"`
	RuleID      string         `json:"rule_id"`
	Severity    string         `json:"severity"`
	Subject     string         `json:"subject"`
	OfferID     *string        `json:"offer_id,omitempty"`
	EmittedAtMs uint64         `json:"emitted_at_ms"`
	Details     map[string]any `json:"details"`
}

// EventID builds the id of the event logged at logIndex of a transaction.
// The ledger replays a transaction's logs deterministically, so the id is stable across redelivery.
func EventID(signature string, instructionIndex, logIndex int) string {
	return fmt.Sprintf("%s:%d:%d", signature, instructionIndex, logIndex)
}

// FormatAmount renders an amount in its wire form.
func FormatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// ParseAmount parses a wire amount. It rejects signs, fractions and values above 2^64-1.
func ParseAmount(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// AmountOrZero parses a wire amount, treating anything unparsable as zero.
func AmountOrZero(s string) uint64 {
	v, _ := ParseAmount(s)
	return v
}

// NowMillis returns the current wall clock in Unix milliseconds.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Package normalize turns ledger log notifications into canonical escrow events.
package normalize

import (
	"log/slog"
	"strings"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/ledger"
)

// DefaultRecordPrefix is what the ledger prepends to lines the contract logs.
const DefaultRecordPrefix = "Program log: "

// eventMarker must appear in a line before it is worth parsing.
const eventMarker = `"event":`

// logsSubscribe does not expose the instruction index, so every id uses 0.
const instructionIndex = 0

// Normalizer stamps raw contract records with ledger and ingestion metadata.
type Normalizer struct {
	Network    string
	ContractID string
	Commitment string
	Prefix     string
	// Now returns the ingestion time in Unix milliseconds. Defaults to events.NowMillis.
	Now func() uint64
}

// Normalize extracts every recognizable contract record from n, in log order.
// Lines that are not records, do not parse, or carry an unknown kind are skipped.
// Failed transactions produce nothing.
func (nz *Normalizer) Normalize(n ledger.Notification) []events.NormalizedEvent {
	if n.Failed {
		slog.Debug("Skipping failed transaction", "signature", n.Signature)
		return nil
	}

	prefix := nz.Prefix
	if prefix == "" {
		prefix = DefaultRecordPrefix
	}
	now := nz.Now
	if now == nil {
		now = events.NowMillis
	}

	var out []events.NormalizedEvent
	for logIndex, line := range n.Logs {
		payload, ok := strings.CutPrefix(line, prefix)
		if !ok || !strings.Contains(payload, eventMarker) {
			continue
		}

		raw, err := events.DecodeRawLogEvent([]byte(payload))
		if err != nil {
			slog.Debug("Skipping unparsable record",
				"signature", n.Signature,
				"log_index", logIndex,
				"error", err,
			)
			continue
		}
		kind, ok := events.ParseRawKind(raw.Event)
		if !ok {
			slog.Debug("Skipping record with unknown kind",
				"signature", n.Signature,
				"log_index", logIndex,
				"kind", raw.Event,
			)
			continue
		}

		out = append(out, events.NormalizedEvent{
			EventID:              events.EventID(n.Signature, instructionIndex, logIndex),
			EventKind:            kind,
			Network:              nz.Network,
			Sequence:             n.Sequence,
			TransactionSignature: n.Signature,
			ContractID:           nz.ContractID,
			OfferID:              raw.OfferID,
			Maker:                raw.Maker,
			Taker:                raw.Taker,
			AssetA:               raw.AssetA,
			AssetB:               raw.AssetB,
			AmountA:              events.FormatAmount(raw.AmountA),
			AmountB:              events.FormatAmount(raw.AmountB),
			CommitmentLevel:      nz.Commitment,
			IngestedAtMs:         now(),
		})
	}
	return out
}

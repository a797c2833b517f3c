// Package moderation validates caller-supplied history chains and picks
// rollback records.
//
// History is never stored by the canvas. A rewind request carries, per cell,
// an ordered newest-first chain of encoded records claimed to be that cell's
// past. The chain is evidence, not authority: it earns a rollback only when
// its newest entry matches the live record byte for byte and the live record
// was last written by the participant being moderated. Failures are per-cell
// skips, never batch aborts.
package moderation

import (
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
)

// Outcome classifies one cell's rewind attempt.
type Outcome int

const (
	// OutcomeReverted means a rollback record was found and should replace
	// the live record verbatim.
	OutcomeReverted Outcome = iota

	// OutcomeMalformedChain means the chain was empty, not a whole number of
	// record blocks, or contained an undecodable block.
	OutcomeMalformedChain

	// OutcomeStateMismatch means the chain's newest entry does not equal the
	// live record, so the evidence does not correspond to ground truth.
	OutcomeStateMismatch

	// OutcomeNotTarget means the live record was not last written by the
	// moderated participant; the cell needs no rewind.
	OutcomeNotTarget

	// OutcomeNoRollbackPoint means every chain entry was authored by the
	// moderated participant; nothing verifiable remains to restore.
	OutcomeNoRollbackPoint
)

// String labels outcomes for logs and telemetry.
func (o Outcome) String() string {
	switch o {
	case OutcomeReverted:
		return "reverted"
	case OutcomeMalformedChain:
		return "malformed_chain"
	case OutcomeStateMismatch:
		return "state_mismatch"
	case OutcomeNotTarget:
		return "not_target"
	case OutcomeNoRollbackPoint:
		return "no_rollback_point"
	default:
		return "unknown"
	}
}

// RewindCell checks one chain against the live record and returns the record
// to restore when the outcome is OutcomeReverted. target is the moderated
// participant's compact id; id 0 is the seed author and can never be a
// target, so an unregistered target skips every cell.
func RewindCell(chain []byte, current record.Record, target uint16) (record.Record, Outcome) {
	if len(chain) == 0 || len(chain)%record.Size != 0 {
		return record.Record{}, OutcomeMalformedChain
	}

	entries := make([]record.Record, 0, len(chain)/record.Size)
	for off := 0; off < len(chain); off += record.Size {
		entry, err := record.Decode(chain[off : off+record.Size])
		if err != nil {
			return record.Record{}, OutcomeMalformedChain
		}
		entries = append(entries, entry)
	}

	if entries[0] != current {
		return record.Record{}, OutcomeStateMismatch
	}
	if target == 0 || current.Provenance != target {
		return record.Record{}, OutcomeNotTarget
	}

	// First entry in declared order not authored by the target is the most
	// recent verifiable state to restore.
	for _, entry := range entries[1:] {
		if entry.Provenance != target {
			return entry, OutcomeReverted
		}
	}
	return record.Record{}, OutcomeNoRollbackPoint
}

// Package freeze implements the terminal freeze state machine.
//
// A canvas freezes three ways: the total-edit counter reaches the configured
// threshold (atomically with the batch that reaches it), the administrator
// issues an explicit freeze, or the ledger height passes the configured
// deadline. The deadline is never materialized as a flag; it is evaluated
// lazily against the height each mutation would execute at.
package freeze

import (
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// State is the freeze-relevant slice of canvas metadata.
type State struct {
	Frozen      bool   // set by threshold or explicit freeze, never cleared
	Delta       uint64 // committed edits across the whole grid
	Threshold   uint64 // 0 disables threshold freezing
	Deadline    uint32 // ledger height, 0 disables the deadline
	AdminExempt bool   // administrator may still edit while frozen
}

// Check refuses a mutation when the canvas is frozen. height is the ledger
// height the operation would execute at.
func Check(s State, height uint32, isAdmin bool) error {
	reason := ""
	switch {
	case s.Frozen:
		reason = "frozen"
	case s.Deadline > 0 && height > s.Deadline:
		reason = "deadline"
	default:
		return nil
	}
	if isAdmin && s.AdminExempt {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeAccessDenied,
		"canvas is frozen",
		map[string]string{
			"reason": reason,
			"height": strconv.FormatUint(uint64(height), 10),
		})
}

// Trips reports whether committing added more edits reaches the threshold.
// The batch that trips the threshold still commits; the canvas is frozen for
// every call after it.
func Trips(s State, added uint64) bool {
	return s.Threshold > 0 && s.Delta+added >= s.Threshold
}

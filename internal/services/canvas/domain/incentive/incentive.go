// Package incentive prices edits and scores contributions from a cell's
// prior state. All functions are pure; the engine applies the results
// inside its transaction.
package incentive

import (
	"fmt"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
)

// Policy selects how cred is awarded when a cell is overwritten.
type Policy string

const (
	// PolicyDecay awards the new editor a base amount eroded by the cell's
	// accumulated edit count.
	PolicyDecay Policy = "decay"

	// PolicySurvival awards the overwritten author the number of ledger
	// heights their record survived, and the new editor a flat base amount.
	PolicySurvival Policy = "survival"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyDecay:
		return PolicyDecay, nil
	case PolicySurvival:
		return PolicySurvival, nil
	default:
		return "", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("unknown award policy %q", s))
	}
}

// Overpayment selects what happens to payment supplied beyond the required
// tribute. Refund debits only the computed total; retain debits the full
// supplied amount into the tribute pool. Either way no value is silently
// dropped.
type Overpayment string

const (
	OverpaymentRefund Overpayment = "refund"
	OverpaymentRetain Overpayment = "retain"
)

// ParseOverpayment validates a configured overpayment policy name.
func ParseOverpayment(s string) (Overpayment, error) {
	switch Overpayment(s) {
	case OverpaymentRefund:
		return OverpaymentRefund, nil
	case OverpaymentRetain:
		return OverpaymentRetain, nil
	default:
		return "", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("unknown overpayment policy %q", s))
	}
}

// Params holds a canvas's economic parameters, fixed at creation.
type Params struct {
	Policy          Policy
	BaseCred        uint64
	DecayFactor     uint64
	TributeEnabled  bool
	BaseTribute     uint64
	TributePerLayer uint64
}

// Validate checks creation-time constraints.
func (p Params) Validate() error {
	_, err := ParsePolicy(string(p.Policy))
	return err
}

// Tribute is the cost of one edit layered on a cell that has been written
// editCountBefore times. The administrator is exempt; the engine never asks
// for an administrator's cost.
func (p Params) Tribute(editCountBefore uint16) uint64 {
	if !p.TributeEnabled {
		return 0
	}
	return p.BaseTribute + uint64(editCountBefore)*p.TributePerLayer
}

// Awards is the cred produced by a single cell edit. Editor goes to the new
// author; Prior goes to the author of the overwritten record and is zero when
// the prior record is a seed.
type Awards struct {
	Editor uint64
	Prior  uint64
}

// Award scores one edit that overwrites prior at the given ledger height.
func (p Params) Award(prior record.Record, height uint32) Awards {
	switch p.Policy {
	case PolicySurvival:
		a := Awards{Editor: p.BaseCred}
		if prior.Provenance != 0 && height > prior.LastModifiedAt {
			a.Prior = uint64(height - prior.LastModifiedAt)
		}
		return a
	default:
		// Decay: the award erodes with each accumulated layer, floored at zero.
		erosion := uint64(prior.EditCount) * p.DecayFactor
		if erosion >= p.BaseCred {
			return Awards{}
		}
		return Awards{Editor: p.BaseCred - erosion}
	}
}

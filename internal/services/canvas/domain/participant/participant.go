// Package participant owns identity normalization and the compact-id
// allocation rules of the registry.
//
// External identities are opaque strings. Each identity that is permitted to
// edit receives the next id from a bounded sequence starting at 1; id 0 is
// reserved to mean "none" and doubles as the seed author in cell records.
// Ids are never reassigned, including after a blacklist.
package participant

import (
	"strconv"
	"strings"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
)

// MaxIdentityLength bounds external identity strings.
const MaxIdentityLength = 200

// DefaultCapacity is the id-space bound when a canvas does not configure one.
// It is the provenance field maximum.
const DefaultCapacity = record.MaxProvenance

// NormalizeIdentity canonicalizes an external identity.
func NormalizeIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "identity is required")
	}
	if len(identity) > MaxIdentityLength {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"identity is too long",
			map[string]string{"max": strconv.Itoa(MaxIdentityLength)})
	}
	return identity, nil
}

// NextID allocates the id after lastAssigned within capacity. Exhaustion is
// an error, never a wraparound: a canvas that has seen capacity registrants
// accepts no new editors.
func NextID(lastAssigned, capacity uint16) (uint16, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if lastAssigned >= capacity {
		return 0, apperrors.WithMetadata(apperrors.CodeCapacityExceeded,
			"participant id space exhausted",
			map[string]string{"capacity": strconv.FormatUint(uint64(capacity), 10)})
	}
	return lastAssigned + 1, nil
}

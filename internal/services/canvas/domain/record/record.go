package record

import (
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// LayoutVersion identifies the wire layout implemented by this package.
// Stored in canvas metadata at creation and checked at open.
const LayoutVersion = 1

// Size is the encoded width of one record in bytes.
const Size = 16

// ReservedPayload is the payload sentinel excluded from the valid domain.
const ReservedPayload = 0xFFFFFFFF

// MaxProvenance is the largest compact participant id the provenance field
// can carry. Id 0 is reserved to mean "none".
const MaxProvenance = 1<<16 - 1

// MaxEditCount is the largest per-cell write counter the editCount field can
// carry. A cell at this count refuses further edits.
const MaxEditCount = 1<<16 - 1

// Record is one cell's state: domain content plus compact provenance.
type Record struct {
	Payload        uint32
	Provenance     uint16
	EditCount      uint16
	LastModifiedAt uint32
	Link           uint32
}

// Seed returns the record every cell holds from grid creation until its
// first edit.
func Seed(payload uint32) Record {
	return Record{Payload: payload}
}

// Validate checks the domain constraints shared by Encode and Decode.
func (r Record) Validate() error {
	if r.Payload == ReservedPayload {
		return apperrors.WithMetadata(apperrors.CodeInvalidRecord,
			"payload uses the reserved sentinel value",
			map[string]string{"payload": strconv.FormatUint(uint64(r.Payload), 10)})
	}
	if r.EditCount == 0 && r.Provenance != 0 {
		return apperrors.New(apperrors.CodeInvalidRecord,
			"seed record cannot carry an author")
	}
	if r.EditCount > 0 && r.Provenance == 0 {
		return apperrors.New(apperrors.CodeInvalidRecord,
			"edited record requires an author")
	}
	return nil
}

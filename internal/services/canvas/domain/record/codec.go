package record

import (
	"encoding/binary"
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// Encode packs a record into its canonical 16-byte block. Records that fail
// domain validation are refused so an invalid record can never be persisted.
func Encode(r Record) ([Size]byte, error) {
	var block [Size]byte
	if err := r.Validate(); err != nil {
		return block, err
	}
	binary.BigEndian.PutUint32(block[0:4], r.Payload)
	binary.BigEndian.PutUint16(block[4:6], r.Provenance)
	binary.BigEndian.PutUint16(block[6:8], r.EditCount)
	binary.BigEndian.PutUint32(block[8:12], r.LastModifiedAt)
	binary.BigEndian.PutUint32(block[12:16], r.Link)
	return block, nil
}

// Decode unpacks a 16-byte block into a record. Inputs of any other length
// fail with an integrity error; well-formed blocks whose fields violate
// domain constraints fail with an invalid-record error.
func Decode(data []byte) (Record, error) {
	if len(data) != Size {
		return Record{}, apperrors.WithMetadata(apperrors.CodeIntegrityError,
			"record block has wrong width",
			map[string]string{
				"want": strconv.Itoa(Size),
				"got":  strconv.Itoa(len(data)),
			})
	}
	r := Record{
		Payload:        binary.BigEndian.Uint32(data[0:4]),
		Provenance:     binary.BigEndian.Uint16(data[4:6]),
		EditCount:      binary.BigEndian.Uint16(data[6:8]),
		LastModifiedAt: binary.BigEndian.Uint32(data[8:12]),
		Link:           binary.BigEndian.Uint32(data[12:16]),
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Package record defines the cell record and its fixed-width wire codec.
//
// The codec is the wire contract of the canvas: moderation verifies
// caller-supplied history by byte-exact comparison against encodings it
// produced in the past, so the field order and widths below are versioned
// (LayoutVersion) and must never change within a version.
//
// Layout, big-endian, 16 bytes total:
//
//	bits 0-31    payload         domain content, ReservedPayload is invalid
//	bits 32-47   provenance      compact participant id, 0 means none
//	bits 48-63   editCount       successful writes since grid creation
//	bits 64-95   lastModifiedAt  ledger height at last write
//	bits 96-127  link            opaque back-reference, 0 means none
package record

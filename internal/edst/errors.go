package edst

import "errors"

var (
	// ErrAllocationExhausted is returned when every CID in both pools is in use
	ErrAllocationExhausted = errors.New("cid allocation exhausted")

	// ErrNotFound is returned when no record exists for a callsign
	ErrNotFound = errors.New("record not found")

	// ErrInvalidPatch is returned when a patch does not fit the record shape
	ErrInvalidPatch = errors.New("invalid patch")
)

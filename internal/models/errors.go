package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a template, campaign or component value code is unknown.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownSegment is returned when the segment is not present in the campaign's pool.
	ErrUnknownSegment = errors.New("unknown segment")
	// ErrNoActiveCampaign is returned when campaign versions exist but none is active.
	ErrNoActiveCampaign = errors.New("no active campaign")
	// ErrDecodeMismatch is returned when an ad identifier's code count disagrees with
	// the template's component count.
	ErrDecodeMismatch = errors.New("ad identifier does not match template")
	// ErrStorageUnavailable wraps transport and collaborator failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidRecord is returned when a record fails validation at the storage boundary.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrInvalidRequest is returned when a required identifier is missing.
	ErrInvalidRequest = errors.New("invalid request")
)

// DecodeMismatchError carries the details of a failed positional decode.
type DecodeMismatchError struct {
	AdID       string
	Codes      int
	Components int
}

func (e *DecodeMismatchError) Error() string {
	return fmt.Sprintf("ad identifier %q has %d codes, template has %d components", e.AdID, e.Codes, e.Components)
}

// Is reports whether target is ErrDecodeMismatch.
func (e *DecodeMismatchError) Is(target error) bool {
	return target == ErrDecodeMismatch
}

// Unavailable wraps err so that it matches ErrStorageUnavailable while keeping
// the underlying cause inspectable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// ErrorCode maps err onto a short, stable label used in API responses and
// metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, ErrUnknownSegment):
		return "unknown_segment"
	case errors.Is(err, ErrNoActiveCampaign):
		return "no_active_campaign"
	case errors.Is(err, ErrDecodeMismatch):
		return "decode_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}

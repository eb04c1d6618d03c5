package crawler

import (
	"errors"
	"fmt"
)

// CycleError reports why a crawl cycle aborted. The cursor is never
// advanced when a CycleError is returned.
type CycleError struct {
	// Code identifies the error category.
	Code CycleErrorCode

	// Source is the tag of the adapter whose cycle aborted.
	Source string

	// Stage is the state the cycle was in when it failed.
	Stage State

	// RecordID is the record being certified, or 0 outside CertifyBatch.
	RecordID int64

	// Err is the underlying failure.
	Err error
}

// CycleErrorCode categorizes cycle failures.
type CycleErrorCode string

const (
	// ErrCodeTransientNetwork indicates a fetch or certify call failed or
	// timed out.
	ErrCodeTransientNetwork CycleErrorCode = "TRANSIENT_NETWORK"

	// ErrCodeMalformedResponse indicates the fetch result is not a record
	// sequence.
	ErrCodeMalformedResponse CycleErrorCode = "MALFORMED_RESPONSE"

	// ErrCodeStorage indicates the cursor could not be persisted.
	ErrCodeStorage CycleErrorCode = "STORAGE"

	// ErrCodeCircularStructure indicates a record references itself.
	ErrCodeCircularStructure CycleErrorCode = "CIRCULAR_STRUCTURE"

	// ErrCodeInvalidRecord indicates a record lacks a field its source's
	// fingerprint needs.
	ErrCodeInvalidRecord CycleErrorCode = "INVALID_RECORD"

	// ErrCodeLedgerRejected indicates the ledger answered without success.
	ErrCodeLedgerRejected CycleErrorCode = "LEDGER_REJECTED"

	// ErrCodeCancelled indicates the cycle's context ended.
	ErrCodeCancelled CycleErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *CycleError) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("%s: %s cycle aborted in %s at record %d: %v", e.Code, e.Source, e.Stage, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s: %s cycle aborted in %s: %v", e.Code, e.Source, e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code CycleErrorCode) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsTransient returns true if the cycle aborted on a network failure.
func IsTransient(err error) bool { return hasCode(err, ErrCodeTransientNetwork) }

// IsMalformed returns true if the cycle aborted on an unusable fetch response.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformedResponse) }

// IsStorage returns true if the cycle aborted persisting its cursor.
func IsStorage(err error) bool { return hasCode(err, ErrCodeStorage) }

// IsCircular returns true if the cycle aborted on a self-referencing record.
func IsCircular(err error) bool { return hasCode(err, ErrCodeCircularStructure) }

// IsRejected returns true if the ledger refused a certification.
func IsRejected(err error) bool { return hasCode(err, ErrCodeLedgerRejected) }

// IsCancelled returns true if the cycle was cut short by its context.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }

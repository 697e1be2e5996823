// errors.go: structured error handling for Charon operations
//
// This file provides structured error types using the go-errors library,
// enabling rich error context, categorization, and standardized error codes
// for all reclamation operations.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package charon

import (
	goerrors "errors"
	"strconv"

	"github.com/agilira/go-errors"
)

// Error codes for Charon operations
const (
	// Configuration errors
	ErrCodeInvalidConfig         errors.ErrorCode = "CHARON_INVALID_CONFIG"
	ErrCodeInvalidSlotCapacity   errors.ErrorCode = "CHARON_INVALID_SLOT_CAPACITY"
	ErrCodeInvalidScanMultiplier errors.ErrorCode = "CHARON_INVALID_SCAN_MULTIPLIER"
	ErrCodeInvalidMinRetired     errors.ErrorCode = "CHARON_INVALID_MIN_RETIRED"

	// Operation errors
	ErrCodeSlotsExhausted errors.ErrorCode = "CHARON_SLOTS_EXHAUSTED"
	ErrCodeDomainClosed   errors.ErrorCode = "CHARON_DOMAIN_CLOSED"
	ErrCodeHandleClosed   errors.ErrorCode = "CHARON_HANDLE_CLOSED"

	// Internal errors
	ErrCodeInternalError errors.ErrorCode = "CHARON_INTERNAL_ERROR"
)

// Common error messages
const (
	msgInvalidSlotCapacity   = "invalid slots per record: must be greater than 0"
	msgInvalidScanMultiplier = "invalid scan multiplier: must be greater than 0"
	msgInvalidMinRetired     = "invalid minimum retired floor: must be non-negative"
	msgSlotsExhausted        = "all hazard cells are claimed and growth is disabled"
	msgDomainClosed          = "domain is closed"
	msgHandleClosed          = "hazard pointer handle is closed"
	msgInternalError         = "internal reclamation error"
)

// NewErrInvalidSlotCapacity creates an error for an invalid slots-per-record value
func NewErrInvalidSlotCapacity(slots int) error {
	return errors.NewWithContext(ErrCodeInvalidSlotCapacity, msgInvalidSlotCapacity, map[string]interface{}{
		"provided_slots":   slots,
		"minimum_required": 1,
	})
}

// NewErrInvalidScanMultiplier creates an error for an invalid scan multiplier
func NewErrInvalidScanMultiplier(multiplier int) error {
	return errors.NewWithContext(ErrCodeInvalidScanMultiplier, msgInvalidScanMultiplier, map[string]interface{}{
		"provided_multiplier": multiplier,
		"minimum_required":    1,
	})
}

// NewErrInvalidMinRetired creates an error for an invalid retired floor
func NewErrInvalidMinRetired(floor int) error {
	return errors.NewWithField(ErrCodeInvalidMinRetired, msgInvalidMinRetired, "provided_floor", strconv.Itoa(floor))
}

// NewErrSlotsExhausted creates an error when every hazard cell is claimed
// and the domain is configured not to grow
func NewErrSlotsExhausted(records int, slotsPerRecord int) error {
	return errors.NewWithContext(ErrCodeSlotsExhausted, msgSlotsExhausted, map[string]interface{}{
		"records":          records,
		"slots_per_record": slotsPerRecord,
		"total_cells":      records * slotsPerRecord,
	}).AsRetryable() // Can be retried after another handle closes
}

// NewErrDomainClosed creates an error for operations on a closed domain
func NewErrDomainClosed(operation string) error {
	return errors.NewWithField(ErrCodeDomainClosed, msgDomainClosed, "operation", operation)
}

// NewErrHandleClosed creates an error for operations on a closed handle
func NewErrHandleClosed(operation string) error {
	return errors.NewWithField(ErrCodeHandleClosed, msgHandleClosed, "operation", operation)
}

// NewErrInternal creates a generic internal error
func NewErrInternal(operation string, cause error) error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInternalError, msgInternalError).
			WithContext("operation", operation).
			WithSeverity("warning")
	}
	return errors.NewWithField(ErrCodeInternalError, msgInternalError, "operation", operation).
		WithSeverity("warning")
}

// =============================================================================
// ERROR CHECKING HELPERS
// =============================================================================

// IsSlotsExhausted checks if error reports hazard cell exhaustion
func IsSlotsExhausted(err error) bool {
	return errors.HasCode(err, ErrCodeSlotsExhausted)
}

// IsDomainClosed checks if error reports a closed domain
func IsDomainClosed(err error) bool {
	return errors.HasCode(err, ErrCodeDomainClosed)
}

// IsHandleClosed checks if error reports a closed handle
func IsHandleClosed(err error) bool {
	return errors.HasCode(err, ErrCodeHandleClosed)
}

// IsConfigError checks if error is a configuration error
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		code := coder.ErrorCode()
		return code == ErrCodeInvalidConfig || code == ErrCodeInvalidSlotCapacity ||
			code == ErrCodeInvalidScanMultiplier || code == ErrCodeInvalidMinRetired
	}
	return false
}

// IsRetryable checks if the error can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}

// GetErrorContext extracts context from an error
func GetErrorContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	var charonErr *errors.Error
	if goerrors.As(err, &charonErr) {
		return charonErr.Context
	}
	return nil
}

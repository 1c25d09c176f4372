// Package errors provides DICOM-specific error types for better error handling
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrConnectionClosed    = errors.New("dicom: connection closed")
	ErrAssociationRejected = errors.New("dicom: association rejected")
	ErrAssociationAborted  = errors.New("dicom: association aborted")
	ErrAssociationReleased = errors.New("dicom: association released")
	ErrInvalidPDU          = errors.New("dicom: invalid PDU")
	ErrUnsupportedTransfer = errors.New("dicom: unsupported transfer syntax")
	ErrNoPresentationCtx   = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage      = errors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled   = errors.New("dicom: operation canceled")
	ErrTooManyContexts     = errors.New("dicom: more than 128 presentation contexts proposed")
)

// RejectResult is the Result field of an A-ASSOCIATE-RJ (PS3.8, 9.3.4).
type RejectResult byte

const (
	RejectedPermanent RejectResult = 0x01
	RejectedTransient RejectResult = 0x02
)

func (r RejectResult) String() string {
	switch r {
	case RejectedPermanent:
		return "rejected-permanent"
	case RejectedTransient:
		return "rejected-transient"
	default:
		return "unknown"
	}
}

// RejectSource is the Source field of an A-ASSOCIATE-RJ.
type RejectSource byte

const (
	RejectSourceServiceUser                 RejectSource = 0x01
	RejectSourceServiceProviderACSE         RejectSource = 0x02
	RejectSourceServiceProviderPresentation RejectSource = 0x03
)

func (s RejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider-acse"
	case RejectSourceServiceProviderPresentation:
		return "service-provider-presentation"
	default:
		return "unknown"
	}
}

// RejectReason is the Diagnostic field of an A-ASSOCIATE-RJ. The meaning of
// each value depends on the Source field; the constants below carry the wire
// values mandated by PS3.8 Table 9-21.
type RejectReason byte

const (
	// Source 1 (service user)
	RejectReasonNoReasonGiven                  RejectReason = 0x01
	RejectReasonApplicationContextNotSupported RejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    RejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     RejectReason = 0x07

	// Source 2 (service provider, ACSE)
	RejectReasonProtocolVersionNotSupported RejectReason = 0x02

	// Source 3 (service provider, presentation)
	RejectReasonTemporaryCongestion RejectReason = 0x01
	RejectReasonLocalLimitExceeded  RejectReason = 0x02
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonNoReasonGiven:
		return "no-reason-given"
	case RejectReasonApplicationContextNotSupported:
		return "application-context-not-supported"
	case RejectReasonCallingAETitleNotRecognized:
		return "calling-ae-title-not-recognized"
	case RejectReasonCalledAETitleNotRecognized:
		return "called-ae-title-not-recognized"
	default:
		return fmt.Sprintf("reason-0x%02x", byte(r))
	}
}

// AssociationError represents an association rejection with the standard
// (result, source, diagnostic) triple.
type AssociationError struct {
	Result RejectResult
	Source RejectSource
	Reason RejectReason
	Msg    string
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s (result: %s, source: %s, reason: %s)",
		e.Msg, e.Result, e.Source, e.Reason)
}

func (e *AssociationError) Unwrap() error {
	return ErrAssociationRejected
}

// NewAssociationError creates a new association rejection error.
func NewAssociationError(result RejectResult, source RejectSource, reason RejectReason, msg string) *AssociationError {
	return &AssociationError{Result: result, Source: source, Reason: reason, Msg: msg}
}

// MalformedPDUError indicates wire data that cannot be decoded: a length
// mismatch, an unknown type byte, or a missing required sub-item. Always
// fatal to the association.
type MalformedPDUError struct {
	PDUType byte
	Msg     string
}

func (e *MalformedPDUError) Error() string {
	if e.PDUType != 0 {
		return fmt.Sprintf("malformed PDU (type 0x%02X): %s", e.PDUType, e.Msg)
	}
	return fmt.Sprintf("malformed PDU: %s", e.Msg)
}

func (e *MalformedPDUError) Unwrap() error {
	return ErrInvalidPDU
}

// NewMalformedPDUError creates a malformed-PDU error.
func NewMalformedPDUError(pduType byte, format string, args ...any) *MalformedPDUError {
	return &MalformedPDUError{PDUType: pduType, Msg: fmt.Sprintf(format, args...)}
}

// StateError indicates an event that has no defined transition in the
// Upper Layer state machine. Always fatal to the association.
type StateError struct {
	State string
	Event string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal event %s in state %s", e.Event, e.State)
}

// DIMSEError represents a DIMSE operation error with status code.
type DIMSEError struct {
	Status    uint16
	Operation string
	Msg       string
}

func (e *DIMSEError) Error() string {
	return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X)", e.Operation, e.Msg, e.Status)
}

// NewDIMSEError creates a new DIMSE error.
func NewDIMSEError(operation string, status uint16, msg string) *DIMSEError {
	return &DIMSEError{Operation: operation, Status: status, Msg: msg}
}

// IsFailure returns true if the DIMSE status indicates failure.
func (e *DIMSEError) IsFailure() bool {
	return (e.Status&0xF000) == 0xC000 || (e.Status&0xF000) == 0xA000
}

// TimeoutError represents an expired ACSE, DIMSE or idle timeout.
type TimeoutError struct {
	Operation string
	Duration  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(operation, duration string) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// NetworkError represents a network-level error.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// Abort source values (PS3.8, 9.3.8).
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02
)

// Abort reason values, meaningful when the source is the service provider.
const (
	AbortReasonNotSpecified        byte = 0x00
	AbortReasonUnrecognizedPDU     byte = 0x01
	AbortReasonUnexpectedPDU       byte = 0x02
	AbortReasonUnrecognizedPDUItem byte = 0x04
	AbortReasonUnexpectedPDUItem   byte = 0x05
	AbortReasonInvalidPDUValue     byte = 0x06
)

// AbortError represents an A-ABORT, either received from the peer or raised
// locally on a protocol violation or timeout.
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	sourceStr := "unknown"
	switch e.Source {
	case AbortSourceServiceUser:
		sourceStr = "service-user"
	case AbortSourceServiceProvider:
		sourceStr = "service-provider"
	}
	return fmt.Sprintf("association aborted by %s (reason: 0x%02X)", sourceStr, e.Reason)
}

func (e *AbortError) Unwrap() error {
	return ErrAssociationAborted
}

// NewAbortError creates a new abort error.
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{Source: source, Reason: reason}
}

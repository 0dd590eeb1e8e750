package models

import (
	"errors"
	"fmt"
)

// Ledger rejections. Every one of them leaves ledger state unchanged.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidSchedule     = errors.New("event date must be in the future")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrSoldOut             = errors.New("event is sold out")
	ErrEventEnded          = errors.New("event has ended")
	ErrTransferLocked      = errors.New("transfers are locked for this event")
	ErrUnauthorized        = errors.New("unauthorized access")
	ErrAlreadyUsed         = errors.New("ticket already used")
	ErrInvalidInput        = errors.New("invalid input")
	ErrEventInactive       = errors.New("event is not active")
	ErrResalePriceExceeded = errors.New("resale price exceeds event cap")
	ErrOutOfRange          = errors.New("index out of range")
)

var (
	ErrEventNotFound  = fmt.Errorf("event %w", ErrNotFound)
	ErrTicketNotFound = fmt.Errorf("ticket %w", ErrNotFound)
)

// Error kinds as they appear on the wire and in metrics.
const (
	KindNotFound            = "NotFound"
	KindInvalidSchedule     = "InvalidSchedule"
	KindInsufficientPayment = "InsufficientPayment"
	KindSoldOut             = "SoldOut"
	KindEventEnded          = "EventEnded"
	KindTransferLocked      = "TransferLocked"
	KindUnauthorized        = "Unauthorized"
	KindAlreadyUsed         = "AlreadyUsed"
	KindInvalidInput        = "InvalidInput"
	KindEventInactive       = "EventInactive"
	KindResalePriceExceeded = "ResalePriceExceeded"
	KindOutOfRange          = "OutOfRange"
	KindInternal            = "Internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidSchedule, KindInvalidSchedule},
	{ErrInsufficientPayment, KindInsufficientPayment},
	{ErrSoldOut, KindSoldOut},
	{ErrEventEnded, KindEventEnded},
	{ErrTransferLocked, KindTransferLocked},
	{ErrUnauthorized, KindUnauthorized},
	{ErrAlreadyUsed, KindAlreadyUsed},
	{ErrInvalidInput, KindInvalidInput},
	{ErrEventInactive, KindEventInactive},
	{ErrResalePriceExceeded, KindResalePriceExceeded},
	{ErrOutOfRange, KindOutOfRange},
}

// ErrorKind returns the tag for err, "" for nil and KindInternal for anything
// that is not a ledger rejection.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRejection reports whether err is a deterministic ledger rejection rather
// than an infrastructure failure.
func IsRejection(err error) bool {
	kind := ErrorKind(err)
	return kind != "" && kind != KindInternal
}

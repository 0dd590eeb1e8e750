package models

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerLog is one entry of the ledger's activity log. An entry is written
// in the same atomic unit as the change it describes.
type LedgerLog struct {
	ID        uint64          `json:"id" db:"id"`
	Kind      string          `json:"kind" db:"kind"`
	EventID   *uint64         `json:"event_id,omitempty" db:"event_id"`
	TokenID   *uint64         `json:"token_id,omitempty" db:"token_id"`
	Actor     common.Address  `json:"actor" db:"actor"`
	Subject   *common.Address `json:"subject,omitempty" db:"subject"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// LedgerLogCreateRequest represents a request to append a log entry
type LedgerLogCreateRequest struct {
	Kind      string
	EventID   *uint64
	TokenID   *uint64
	Actor     common.Address
	Subject   *common.Address
	Details   json.RawMessage
	CreatedAt time.Time
}

// Ledger log kinds
const (
	LogEventCreated        = "event_created"
	LogEventActiveSet      = "event_active_set"
	LogTicketMinted        = "ticket_minted"
	LogTicketTransferred   = "ticket_transferred"
	LogTicketResold        = "ticket_resold"
	LogApprovalSet         = "approval_set"
	LogOperatorSet         = "operator_set"
	LogTransferLockToggled = "transfer_lock_toggled"
	LogValidatorAdded      = "validator_added"
	LogValidatorRemoved    = "validator_removed"
	LogTicketUsed          = "ticket_used"
)

// Uint64Ptr is a helper for optional log ids
func Uint64Ptr(v uint64) *uint64 {
	return &v
}

// AddressPtr is a helper for optional log subjects
func AddressPtr(addr common.Address) *common.Address {
	return &addr
}

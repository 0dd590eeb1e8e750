package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TicketStatus represents the entry status of a ticket
type TicketStatus string

const (
	TicketValid   TicketStatus = "valid"
	TicketUsed    TicketStatus = "used"
	TicketExpired TicketStatus = "expired"
)

// Ticket represents an individual ticket token
type Ticket struct {
	ID            uint64         `json:"id" db:"id"`
	EventID       uint64         `json:"event_id" db:"event_id"`
	Owner         common.Address `json:"owner" db:"owner"`
	Used          bool           `json:"used" db:"used"`
	PurchasePrice Amount         `json:"purchase_price" db:"purchase_price"`
	PurchaseTime  time.Time      `json:"purchase_time" db:"purchase_time"`
}

// IsOwnedBy reports whether addr currently holds the ticket
func (t *Ticket) IsOwnedBy(addr common.Address) bool {
	return addr != ZeroAddress && t.Owner == addr
}

// CanBeUsed returns true if the ticket has not been redeemed
func (t *Ticket) CanBeUsed() bool {
	return !t.Used
}

// Status returns the entry status of the ticket for its event at now
func (t *Ticket) Status(event *Event, now time.Time) TicketStatus {
	if t.Used {
		return TicketUsed
	}
	if event != nil && event.HasEnded(now) {
		return TicketExpired
	}
	return TicketValid
}

// IsValidFor is the entry check: owned by claimedOwner, unused, event not past
func (t *Ticket) IsValidFor(event *Event, claimedOwner common.Address, now time.Time) bool {
	return t.IsOwnedBy(claimedOwner) && t.Status(event, now) == TicketValid
}

// ValidatorGrant is the (event, validator) redemption role
type ValidatorGrant struct {
	EventID   uint64         `json:"event_id" db:"event_id"`
	Validator common.Address `json:"validator" db:"validator"`
	Granted   bool           `json:"granted" db:"granted"`
}

// OperatorApproval lets an operator move every ticket of an owner
type OperatorApproval struct {
	Owner    common.Address `json:"owner" db:"owner"`
	Operator common.Address `json:"operator" db:"operator"`
	Approved bool           `json:"approved" db:"approved"`
}

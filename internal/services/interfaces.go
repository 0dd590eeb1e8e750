package services

import (
	"context"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories"

	"github.com/ethereum/go-ethereum/common"
)

// TicketDetails is a ticket as shown to clients
type TicketDetails struct {
	models.Ticket
	Status   models.TicketStatus `json:"status"`
	Approved *common.Address     `json:"approved,omitempty"`
}

// LedgerServiceInterface defines the interface for the ticket ledger
type LedgerServiceInterface interface {
	Name() string
	Symbol() string

	// Event registry
	CreateEvent(ctx context.Context, req *models.EventCreateRequest, caller common.Address) (*models.Event, error)
	GetEvent(ctx context.Context, eventID uint64) (*models.Event, error)
	EventCount(ctx context.Context) (uint64, error)
	ListEvents(ctx context.Context, filters repositories.EventSearchFilters) ([]*models.Event, error)

	// Issuance
	MintTicket(ctx context.Context, eventID uint64, payment models.Amount, caller common.Address) (*models.Ticket, error)

	// Ownership and transfer control
	GetTicket(ctx context.Context, tokenID uint64) (*TicketDetails, error)
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
	BalanceOf(ctx context.Context, owner common.Address) (uint64, error)
	TicketsOf(ctx context.Context, owner common.Address) ([]*models.Ticket, error)
	TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index uint64) (uint64, error)
	Transfer(ctx context.Context, tokenID uint64, from, to, caller common.Address) (*models.Ticket, error)
	ResellTicket(ctx context.Context, tokenID uint64, to common.Address, price models.Amount, caller common.Address) (*models.Ticket, error)
	Approve(ctx context.Context, tokenID uint64, approved, caller common.Address) error
	GetApproved(ctx context.Context, tokenID uint64) (common.Address, error)
	SetApprovalForAll(ctx context.Context, operator common.Address, approved bool, caller common.Address) error
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	ToggleTransferLock(ctx context.Context, eventID uint64, caller common.Address) (bool, error)
	SetEventActive(ctx context.Context, eventID uint64, active bool, caller common.Address) (*models.Event, error)

	// Validators and redemption
	AddValidator(ctx context.Context, eventID uint64, addr, caller common.Address) error
	RemoveValidator(ctx context.Context, eventID uint64, addr, caller common.Address) error
	IsValidator(ctx context.Context, eventID uint64, addr common.Address) (bool, error)
	UseTicket(ctx context.Context, tokenID uint64, caller common.Address) (*models.Ticket, error)
	VerifyTicket(ctx context.Context, tokenID uint64, claimedOwner common.Address) (bool, error)

	Activity(ctx context.Context, filters repositories.LedgerLogFilters) ([]*models.LedgerLog, error)
}

var _ LedgerServiceInterface = (*Ledger)(nil)

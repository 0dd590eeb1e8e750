package repositories

import (
	"context"

	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// EventSearchFilters represents filters for event listing
type EventSearchFilters struct {
	Organizer *common.Address // Filter by organizer
	Limit     int             // Number of results to return, 0 means all
	Offset    int             // Number of results to skip
}

// LedgerLogFilters represents filters for the activity log
type LedgerLogFilters struct {
	EventID *uint64
	TokenID *uint64
	Limit   int
	Offset  int
}

// LedgerReader is the read side of the ledger store. Every call observes a
// fully committed state.
type LedgerReader interface {
	GetEvent(ctx context.Context, id uint64) (*models.Event, error)
	CountEvents(ctx context.Context) (uint64, error)
	ListEvents(ctx context.Context, filters EventSearchFilters) ([]*models.Event, error)
	GetTicket(ctx context.Context, id uint64) (*models.Ticket, error)
	BalanceOf(ctx context.Context, owner common.Address) (uint64, error)
	TicketsOf(ctx context.Context, owner common.Address) ([]*models.Ticket, error)
	IsValidator(ctx context.Context, eventID uint64, addr common.Address) (bool, error)
	GetApproved(ctx context.Context, tokenID uint64) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	ListLogs(ctx context.Context, filters LedgerLogFilters) ([]*models.LedgerLog, error)
}

// LedgerTx is the view of the store inside one atomic unit
type LedgerTx interface {
	LedgerReader

	// CreateEvent assigns the next event id to ev and stores it.
	CreateEvent(ctx context.Context, ev *models.Event) error
	UpdateEvent(ctx context.Context, ev *models.Event) error
	// CreateTicket assigns the next token id to t and stores it.
	CreateTicket(ctx context.Context, t *models.Ticket) error
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	SetValidator(ctx context.Context, eventID uint64, addr common.Address, granted bool) error
	SetApproved(ctx context.Context, tokenID uint64, approved common.Address) error
	SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error
	AppendLog(ctx context.Context, req *models.LedgerLogCreateRequest) (*models.LedgerLog, error)
}

// LedgerStore owns all ledger records
type LedgerStore interface {
	LedgerReader

	// Atomic runs fn as one unit. When fn returns an error nothing it wrote
	// is kept.
	Atomic(ctx context.Context, fn func(tx LedgerTx) error) error
	Close() error
}

// page applies limit/offset to a slice length and returns the bounds
func page(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && limit < n-offset {
		end = offset + limit
	}
	return offset, end
}

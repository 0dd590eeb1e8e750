package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCollectionName   = "EventTicket"
	DefaultCollectionSymbol = "ETIX"
)

// LedgerConfig holds the collection metadata of the ledger
type LedgerConfig struct {
	Name   string
	Symbol string
}

// LedgerOption customizes a Ledger
type LedgerOption func(*Ledger)

// WithClock replaces the system clock
func WithClock(c clock.Clock) LedgerOption {
	return func(l *Ledger) { l.clock = c }
}

// WithMetrics attaches ledger metrics
func WithMetrics(m *metrics.LedgerMetrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger replaces the global logger
func WithLogger(logger zerolog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger applies ticketing transactions to a LedgerStore. Writes are applied
// one at a time, each as a single atomic unit of the store. Reads go to the
// store directly and always see committed state.
type Ledger struct {
	mu      sync.Mutex
	store   repositories.LedgerStore
	clock   clock.Clock
	metrics *metrics.LedgerMetrics
	logger  zerolog.Logger
	name    string
	symbol  string
}

// NewLedger creates a ledger over store
func NewLedger(store repositories.LedgerStore, cfg LedgerConfig, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  clock.NewSystem(),
		logger: log.Logger,
		name:   cfg.Name,
		symbol: cfg.Symbol,
	}
	if l.name == "" {
		l.name = DefaultCollectionName
	}
	if l.symbol == "" {
		l.symbol = DefaultCollectionSymbol
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the collection name
func (l *Ledger) Name() string {
	return l.name
}

// Symbol returns the collection symbol
func (l *Ledger) Symbol() string {
	return l.symbol
}

// write runs fn as one atomic unit under the ledger lock. now is read once
// so every check in the unit sees the same instant.
func (l *Ledger) write(ctx context.Context, op string, caller common.Address, fn func(tx repositories.LedgerTx, now time.Time) error) error {
	start := time.Now()

	var err error
	if caller == models.ZeroAddress {
		err = fmt.Errorf("%w: missing caller", models.ErrUnauthorized)
	} else {
		l.mu.Lock()
		now := l.clock.Now()
		err = l.store.Atomic(ctx, func(tx repositories.LedgerTx) error {
			return fn(tx, now)
		})
		l.mu.Unlock()
	}

	elapsed := time.Since(start)
	l.metrics.ObserveOperation(op, err, elapsed)

	switch {
	case err == nil:
		l.logger.Debug().Str("op", op).Str("caller", caller.Hex()).Dur("elapsed", elapsed).Msg("ledger write committed")
	case models.IsRejection(err):
		l.logger.Info().Str("op", op).Str("caller", caller.Hex()).Str("kind", models.ErrorKind(err)).Err(err).Msg("ledger write rejected")
	default:
		l.logger.Error().Str("op", op).Str("caller", caller.Hex()).Err(err).Msg("ledger write failed")
	}
	return err
}

// logEntry describes one activity log row written inside a unit
type logEntry struct {
	kind    string
	eventID *uint64
	tokenID *uint64
	subject *common.Address
	details map[string]interface{}
}

func appendLog(ctx context.Context, tx repositories.LedgerTx, now time.Time, actor common.Address, e logEntry) error {
	var details json.RawMessage
	if len(e.details) > 0 {
		raw, err := json.Marshal(e.details)
		if err != nil {
			return fmt.Errorf("failed to encode log details: %w", err)
		}
		details = raw
	}
	_, err := tx.AppendLog(ctx, &models.LedgerLogCreateRequest{
		Kind:      e.kind,
		EventID:   e.eventID,
		TokenID:   e.tokenID,
		Actor:     actor,
		Subject:   e.subject,
		Details:   details,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to append ledger log: %w", err)
	}
	return nil
}

// CreateEvent registers a new event organized by caller
func (l *Ledger) CreateEvent(ctx context.Context, req *models.EventCreateRequest, caller common.Address) (*models.Event, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: missing event", models.ErrInvalidInput)
	}

	var created models.Event
	err := l.write(ctx, "create_event", caller, func(tx repositories.LedgerTx, now time.Time) error {
		if err := req.Validate(now); err != nil {
			return err
		}

		ev := &models.Event{
			Organizer:      caller,
			Name:           req.Name,
			Description:    req.Description,
			Date:           req.Date.UTC(),
			Price:          req.Price,
			MaxTickets:     req.MaxTickets,
			TicketsSold:    0,
			IsActive:       true,
			MaxResellPrice: req.MaxResellPrice,
			TransferLocked: req.TransferLocked,
			CreatedAt:      now,
		}
		if err := tx.CreateEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}

		created = *ev
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogEventCreated,
			eventID: models.Uint64Ptr(ev.ID),
			details: map[string]interface{}{
				"name":        ev.Name,
				"price":       ev.Price.String(),
				"max_tickets": ev.MaxTickets,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetEvent returns the event with the given id
func (l *Ledger) GetEvent(ctx context.Context, eventID uint64) (*models.Event, error) {
	return l.store.GetEvent(ctx, eventID)
}

// EventCount returns the number of events ever created, which is also the
// id the next event will get
func (l *Ledger) EventCount(ctx context.Context) (uint64, error) {
	return l.store.CountEvents(ctx)
}

// ListEvents returns events in id order
func (l *Ledger) ListEvents(ctx context.Context, filters repositories.EventSearchFilters) ([]*models.Event, error) {
	return l.store.ListEvents(ctx, filters)
}

// MintTicket issues one ticket of eventID to caller against payment
func (l *Ledger) MintTicket(ctx context.Context, eventID uint64, payment models.Amount, caller common.Address) (*models.Ticket, error) {
	if payment.Sign() < 0 {
		return nil, fmt.Errorf("%w: payment cannot be negative", models.ErrInvalidInput)
	}

	var minted models.Ticket
	err := l.write(ctx, "mint_ticket", caller, func(tx repositories.LedgerTx, now time.Time) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.IsActive {
			return models.ErrEventInactive
		}
		if payment.Cmp(ev.Price) < 0 {
			return fmt.Errorf("%w: paid %s, price is %s", models.ErrInsufficientPayment, payment, ev.Price)
		}
		if ev.IsSoldOut() {
			return models.ErrSoldOut
		}
		if ev.HasEnded(now) {
			return models.ErrEventEnded
		}

		ev.TicketsSold++
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}

		t := &models.Ticket{
			EventID:       eventID,
			Owner:         caller,
			Used:          false,
			PurchasePrice: payment,
			PurchaseTime:  now,
		}
		if err := tx.CreateTicket(ctx, t); err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}

		minted = *t
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogTicketMinted,
			eventID: models.Uint64Ptr(eventID),
			tokenID: models.Uint64Ptr(t.ID),
			subject: models.AddressPtr(caller),
			details: map[string]interface{}{"payment": payment.String()},
		})
	})
	if err != nil {
		return nil, err
	}

	l.metrics.TicketMinted()
	return &minted, nil
}

// GetTicket returns a ticket with its entry status and approved address
func (l *Ledger) GetTicket(ctx context.Context, tokenID uint64) (*TicketDetails, error) {
	t, err := l.store.GetTicket(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	ev, err := l.store.GetEvent(ctx, t.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event of ticket %d: %w", tokenID, err)
	}
	approved, err := l.store.GetApproved(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	details := &TicketDetails{
		Ticket: *t,
		Status: t.Status(ev, l.clock.Now()),
	}
	if approved != models.ZeroAddress {
		details.Approved = models.AddressPtr(approved)
	}
	return details, nil
}

// OwnerOf returns the current owner of a ticket
func (l *Ledger) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	t, err := l.store.GetTicket(ctx, tokenID)
	if err != nil {
		return models.ZeroAddress, err
	}
	return t.Owner, nil
}

// BalanceOf returns how many tickets owner holds
func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	if owner == models.ZeroAddress {
		return 0, fmt.Errorf("%w: zero address", models.ErrInvalidInput)
	}
	return l.store.BalanceOf(ctx, owner)
}

// TicketsOf returns the tickets of owner in ascending token id order
func (l *Ledger) TicketsOf(ctx context.Context, owner common.Address) ([]*models.Ticket, error) {
	if owner == models.ZeroAddress {
		return nil, fmt.Errorf("%w: zero address", models.ErrInvalidInput)
	}
	return l.store.TicketsOf(ctx, owner)
}

// TokenOfOwnerByIndex returns the index-th token id of owner, in the order
// of TicketsOf
func (l *Ledger) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index uint64) (uint64, error) {
	tickets, err := l.TicketsOf(ctx, owner)
	if err != nil {
		return 0, err
	}
	if index >= uint64(len(tickets)) {
		return 0, fmt.Errorf("%w: index %d, balance %d", models.ErrOutOfRange, index, len(tickets))
	}
	return tickets[index].ID, nil
}

// canMove reports whether caller may move or approve t: its owner, its
// approved address or an operator of the owner
func canMove(ctx context.Context, tx repositories.LedgerReader, t *models.Ticket, caller common.Address, allowApproved bool) (bool, error) {
	if t.IsOwnedBy(caller) {
		return true, nil
	}
	if allowApproved {
		approved, err := tx.GetApproved(ctx, t.ID)
		if err != nil {
			return false, err
		}
		if approved != models.ZeroAddress && approved == caller {
			return true, nil
		}
	}
	return tx.IsApprovedForAll(ctx, t.Owner, caller)
}

// Transfer moves a ticket from its owner to another account
func (l *Ledger) Transfer(ctx context.Context, tokenID uint64, from, to, caller common.Address) (*models.Ticket, error) {
	var moved models.Ticket
	err := l.write(ctx, "transfer", caller, func(tx repositories.LedgerTx, now time.Time) error {
		t, err := tx.GetTicket(ctx, tokenID)
		if err != nil {
			return err
		}
		if !t.IsOwnedBy(from) {
			return fmt.Errorf("%w: %s does not own ticket %d", models.ErrUnauthorized, from.Hex(), tokenID)
		}
		if ok, err := canMove(ctx, tx, t, caller, true); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: caller may not transfer ticket %d", models.ErrUnauthorized, tokenID)
		}
		if to == models.ZeroAddress {
			return fmt.Errorf("%w: transfer to the zero address", models.ErrInvalidInput)
		}
		ev, err := tx.GetEvent(ctx, t.EventID)
		if err != nil {
			return err
		}
		if ev.TransferLocked {
			return models.ErrTransferLocked
		}

		if err := moveTicket(ctx, tx, t, to); err != nil {
			return err
		}

		moved = *t
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogTicketTransferred,
			eventID: models.Uint64Ptr(t.EventID),
			tokenID: models.Uint64Ptr(tokenID),
			subject: models.AddressPtr(to),
			details: map[string]interface{}{"from": from.Hex()},
		})
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// ResellTicket moves an unused ticket to a buyer at a price within the
// event's resale cap. Settlement of the price happens outside the ledger.
func (l *Ledger) ResellTicket(ctx context.Context, tokenID uint64, to common.Address, price models.Amount, caller common.Address) (*models.Ticket, error) {
	if price.Sign() < 0 {
		return nil, fmt.Errorf("%w: price cannot be negative", models.ErrInvalidInput)
	}

	var sold models.Ticket
	err := l.write(ctx, "resell_ticket", caller, func(tx repositories.LedgerTx, now time.Time) error {
		t, err := tx.GetTicket(ctx, tokenID)
		if err != nil {
			return err
		}
		if ok, err := canMove(ctx, tx, t, caller, true); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: caller may not resell ticket %d", models.ErrUnauthorized, tokenID)
		}
		if to == models.ZeroAddress {
			return fmt.Errorf("%w: resale to the zero address", models.ErrInvalidInput)
		}
		ev, err := tx.GetEvent(ctx, t.EventID)
		if err != nil {
			return err
		}
		if ev.TransferLocked {
			return models.ErrTransferLocked
		}
		if t.Used {
			return models.ErrAlreadyUsed
		}
		if !ev.AllowsResale(price) {
			return fmt.Errorf("%w: %s > %s", models.ErrResalePriceExceeded, price, ev.MaxResellPrice)
		}

		from := t.Owner
		if err := moveTicket(ctx, tx, t, to); err != nil {
			return err
		}

		sold = *t
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogTicketResold,
			eventID: models.Uint64Ptr(t.EventID),
			tokenID: models.Uint64Ptr(tokenID),
			subject: models.AddressPtr(to),
			details: map[string]interface{}{"from": from.Hex(), "price": price.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return &sold, nil
}

// moveTicket reassigns t to a new owner and clears its approval
func moveTicket(ctx context.Context, tx repositories.LedgerTx, t *models.Ticket, to common.Address) error {
	t.Owner = to
	if err := tx.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if err := tx.SetApproved(ctx, t.ID, models.ZeroAddress); err != nil {
		return fmt.Errorf("failed to clear approval: %w", err)
	}
	return nil
}

// Approve sets the single address allowed to transfer a ticket. The zero
// address clears the approval.
func (l *Ledger) Approve(ctx context.Context, tokenID uint64, approved, caller common.Address) error {
	return l.write(ctx, "approve", caller, func(tx repositories.LedgerTx, now time.Time) error {
		t, err := tx.GetTicket(ctx, tokenID)
		if err != nil {
			return err
		}
		if ok, err := canMove(ctx, tx, t, caller, false); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: caller may not approve ticket %d", models.ErrUnauthorized, tokenID)
		}
		if approved == t.Owner {
			return fmt.Errorf("%w: approval to current owner", models.ErrInvalidInput)
		}

		if err := tx.SetApproved(ctx, tokenID, approved); err != nil {
			return fmt.Errorf("failed to set approval: %w", err)
		}

		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogApprovalSet,
			eventID: models.Uint64Ptr(t.EventID),
			tokenID: models.Uint64Ptr(tokenID),
			subject: models.AddressPtr(approved),
		})
	})
}

// GetApproved returns the approved address of a ticket, ZeroAddress if none
func (l *Ledger) GetApproved(ctx context.Context, tokenID uint64) (common.Address, error) {
	return l.store.GetApproved(ctx, tokenID)
}

// SetApprovalForAll grants or revokes operator over every ticket of caller
func (l *Ledger) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool, caller common.Address) error {
	return l.write(ctx, "set_approval_for_all", caller, func(tx repositories.LedgerTx, now time.Time) error {
		if operator == models.ZeroAddress {
			return fmt.Errorf("%w: zero operator", models.ErrInvalidInput)
		}
		if operator == caller {
			return fmt.Errorf("%w: approve to caller", models.ErrInvalidInput)
		}

		if err := tx.SetApprovalForAll(ctx, caller, operator, approved); err != nil {
			return fmt.Errorf("failed to set operator: %w", err)
		}

		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogOperatorSet,
			subject: models.AddressPtr(operator),
			details: map[string]interface{}{"approved": approved},
		})
	})
}

// IsApprovedForAll reports whether operator may move every ticket of owner
func (l *Ledger) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	return l.store.IsApprovedForAll(ctx, owner, operator)
}

// ToggleTransferLock flips the transfer lock of an event and returns the new
// state. Only the organizer may do this.
func (l *Ledger) ToggleTransferLock(ctx context.Context, eventID uint64, caller common.Address) (bool, error) {
	var locked bool
	err := l.write(ctx, "toggle_transfer_lock", caller, func(tx repositories.LedgerTx, now time.Time) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.IsOrganizer(caller) {
			return fmt.Errorf("%w: only the organizer can lock transfers", models.ErrUnauthorized)
		}

		ev.TransferLocked = !ev.TransferLocked
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}

		locked = ev.TransferLocked
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogTransferLockToggled,
			eventID: models.Uint64Ptr(eventID),
			details: map[string]interface{}{"transfer_locked": locked},
		})
	})
	return locked, err
}

// SetEventActive opens or closes sales of an event. Only the organizer may
// change it; setting the current state again is a no-op.
func (l *Ledger) SetEventActive(ctx context.Context, eventID uint64, active bool, caller common.Address) (*models.Event, error) {
	var updated models.Event
	err := l.write(ctx, "set_event_active", caller, func(tx repositories.LedgerTx, now time.Time) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.IsOrganizer(caller) {
			return fmt.Errorf("%w: only the organizer can change sales state", models.ErrUnauthorized)
		}

		updated = *ev
		if ev.IsActive == active {
			return nil
		}

		ev.IsActive = active
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}
		updated = *ev

		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogEventActiveSet,
			eventID: models.Uint64Ptr(eventID),
			details: map[string]interface{}{"is_active": active},
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddValidator grants addr the right to redeem tickets of eventID
func (l *Ledger) AddValidator(ctx context.Context, eventID uint64, addr, caller common.Address) error {
	return l.setValidator(ctx, "add_validator", eventID, addr, true, caller)
}

// RemoveValidator revokes a validator grant. Revoking an absent grant is a no-op.
func (l *Ledger) RemoveValidator(ctx context.Context, eventID uint64, addr, caller common.Address) error {
	return l.setValidator(ctx, "remove_validator", eventID, addr, false, caller)
}

func (l *Ledger) setValidator(ctx context.Context, op string, eventID uint64, addr common.Address, granted bool, caller common.Address) error {
	return l.write(ctx, op, caller, func(tx repositories.LedgerTx, now time.Time) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.IsOrganizer(caller) {
			return fmt.Errorf("%w: only the organizer can manage validators", models.ErrUnauthorized)
		}
		if addr == models.ZeroAddress {
			return fmt.Errorf("%w: zero validator", models.ErrInvalidInput)
		}

		current, err := tx.IsValidator(ctx, eventID, addr)
		if err != nil {
			return err
		}
		if current == granted {
			return nil
		}

		if err := tx.SetValidator(ctx, eventID, addr, granted); err != nil {
			return fmt.Errorf("failed to set validator: %w", err)
		}

		kind := models.LogValidatorAdded
		if !granted {
			kind = models.LogValidatorRemoved
		}
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    kind,
			eventID: models.Uint64Ptr(eventID),
			subject: models.AddressPtr(addr),
		})
	})
}

// IsValidator reports whether addr may redeem tickets of eventID
func (l *Ledger) IsValidator(ctx context.Context, eventID uint64, addr common.Address) (bool, error) {
	return l.store.IsValidator(ctx, eventID, addr)
}

// UseTicket marks a ticket used. caller must be a validator of the ticket's
// event. A used ticket can never be used again.
func (l *Ledger) UseTicket(ctx context.Context, tokenID uint64, caller common.Address) (*models.Ticket, error) {
	var used models.Ticket
	err := l.write(ctx, "use_ticket", caller, func(tx repositories.LedgerTx, now time.Time) error {
		t, err := tx.GetTicket(ctx, tokenID)
		if err != nil {
			return err
		}
		ok, err := tx.IsValidator(ctx, t.EventID, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not a validator of event %d", models.ErrUnauthorized, t.EventID)
		}
		if t.Used {
			return models.ErrAlreadyUsed
		}

		t.Used = true
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return fmt.Errorf("failed to update ticket: %w", err)
		}

		used = *t
		return appendLog(ctx, tx, now, caller, logEntry{
			kind:    models.LogTicketUsed,
			eventID: models.Uint64Ptr(t.EventID),
			tokenID: models.Uint64Ptr(tokenID),
			subject: models.AddressPtr(t.Owner),
		})
	})
	if err != nil {
		return nil, err
	}

	l.metrics.TicketRedeemed()
	return &used, nil
}

// VerifyTicket is the entry check. It is true iff the ticket exists, is
// held by claimedOwner, is unused and its event date has not passed. A
// missing ticket verifies false rather than failing.
func (l *Ledger) VerifyTicket(ctx context.Context, tokenID uint64, claimedOwner common.Address) (bool, error) {
	t, err := l.store.GetTicket(ctx, tokenID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ev, err := l.store.GetEvent(ctx, t.EventID)
	if err != nil {
		return false, fmt.Errorf("failed to load event of ticket %d: %w", tokenID, err)
	}
	return t.IsValidFor(ev, claimedOwner, l.clock.Now()), nil
}

// Activity returns ledger log entries, oldest first
func (l *Ledger) Activity(ctx context.Context, filters repositories.LedgerLogFilters) ([]*models.LedgerLog, error) {
	return l.store.ListLogs(ctx, filters)
}

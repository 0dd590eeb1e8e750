package repositories

import (
	"context"
	"sync"

	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

type validatorKey struct {
	eventID uint64
	addr    common.Address
}

type operatorKey struct {
	owner    common.Address
	operator common.Address
}

// MemoryLedgerRepository keeps the ledger in process memory. Events and
// tickets live in dense slices indexed by their id.
type MemoryLedgerRepository struct {
	mu         sync.RWMutex
	events     []*models.Event
	tickets    []*models.Ticket
	balances   map[common.Address]uint64
	validators map[validatorKey]bool
	approvals  map[uint64]common.Address
	operators  map[operatorKey]bool
	logs       []*models.LedgerLog
}

// NewMemoryLedgerRepository creates an empty in-memory ledger store
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		balances:   make(map[common.Address]uint64),
		validators: make(map[validatorKey]bool),
		approvals:  make(map[uint64]common.Address),
		operators:  make(map[operatorKey]bool),
	}
}

// Atomic runs fn under the write lock and replays its undo journal if fn fails.
func (r *MemoryLedgerRepository) Atomic(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{repo: r}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Close is a no-op for the memory store
func (r *MemoryLedgerRepository) Close() error {
	return nil
}

func (r *MemoryLedgerRepository) GetEvent(ctx context.Context, id uint64) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getEvent(id)
}

func (r *MemoryLedgerRepository) CountEvents(ctx context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.events)), nil
}

func (r *MemoryLedgerRepository) ListEvents(ctx context.Context, filters EventSearchFilters) ([]*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listEvents(filters), nil
}

func (r *MemoryLedgerRepository) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getTicket(id)
}

func (r *MemoryLedgerRepository) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[owner], nil
}

func (r *MemoryLedgerRepository) TicketsOf(ctx context.Context, owner common.Address) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ticketsOf(owner), nil
}

func (r *MemoryLedgerRepository) IsValidator(ctx context.Context, eventID uint64, addr common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validators[validatorKey{eventID, addr}], nil
}

func (r *MemoryLedgerRepository) GetApproved(ctx context.Context, tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getApproved(tokenID)
}

func (r *MemoryLedgerRepository) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[operatorKey{owner, operator}], nil
}

func (r *MemoryLedgerRepository) ListLogs(ctx context.Context, filters LedgerLogFilters) ([]*models.LedgerLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLogs(filters), nil
}

// Unlocked helpers shared by the store and its transactions. Returned
// records are copies; callers never alias stored state.

func (r *MemoryLedgerRepository) getEvent(id uint64) (*models.Event, error) {
	if id >= uint64(len(r.events)) {
		return nil, models.ErrEventNotFound
	}
	ev := *r.events[id]
	return &ev, nil
}

func (r *MemoryLedgerRepository) listEvents(filters EventSearchFilters) []*models.Event {
	var matched []*models.Event
	for _, ev := range r.events {
		if filters.Organizer != nil && ev.Organizer != *filters.Organizer {
			continue
		}
		cp := *ev
		matched = append(matched, &cp)
	}
	start, end := page(len(matched), filters.Limit, filters.Offset)
	return matched[start:end]
}

func (r *MemoryLedgerRepository) getTicket(id uint64) (*models.Ticket, error) {
	if id >= uint64(len(r.tickets)) {
		return nil, models.ErrTicketNotFound
	}
	t := *r.tickets[id]
	return &t, nil
}

func (r *MemoryLedgerRepository) ticketsOf(owner common.Address) []*models.Ticket {
	var owned []*models.Ticket
	for _, t := range r.tickets {
		if t.Owner == owner {
			cp := *t
			owned = append(owned, &cp)
		}
	}
	return owned
}

func (r *MemoryLedgerRepository) getApproved(tokenID uint64) (common.Address, error) {
	if tokenID >= uint64(len(r.tickets)) {
		return models.ZeroAddress, models.ErrTicketNotFound
	}
	return r.approvals[tokenID], nil
}

func (r *MemoryLedgerRepository) listLogs(filters LedgerLogFilters) []*models.LedgerLog {
	var matched []*models.LedgerLog
	for _, entry := range r.logs {
		if filters.EventID != nil && (entry.EventID == nil || *entry.EventID != *filters.EventID) {
			continue
		}
		if filters.TokenID != nil && (entry.TokenID == nil || *entry.TokenID != *filters.TokenID) {
			continue
		}
		cp := *entry
		matched = append(matched, &cp)
	}
	start, end := page(len(matched), filters.Limit, filters.Offset)
	return matched[start:end]
}

// memoryTx runs inside MemoryLedgerRepository.Atomic with the write lock held
type memoryTx struct {
	repo *MemoryLedgerRepository
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) GetEvent(ctx context.Context, id uint64) (*models.Event, error) {
	return tx.repo.getEvent(id)
}

func (tx *memoryTx) CountEvents(ctx context.Context) (uint64, error) {
	return uint64(len(tx.repo.events)), nil
}

func (tx *memoryTx) ListEvents(ctx context.Context, filters EventSearchFilters) ([]*models.Event, error) {
	return tx.repo.listEvents(filters), nil
}

func (tx *memoryTx) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	return tx.repo.getTicket(id)
}

func (tx *memoryTx) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	return tx.repo.balances[owner], nil
}

func (tx *memoryTx) TicketsOf(ctx context.Context, owner common.Address) ([]*models.Ticket, error) {
	return tx.repo.ticketsOf(owner), nil
}

func (tx *memoryTx) IsValidator(ctx context.Context, eventID uint64, addr common.Address) (bool, error) {
	return tx.repo.validators[validatorKey{eventID, addr}], nil
}

func (tx *memoryTx) GetApproved(ctx context.Context, tokenID uint64) (common.Address, error) {
	return tx.repo.getApproved(tokenID)
}

func (tx *memoryTx) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	return tx.repo.operators[operatorKey{owner, operator}], nil
}

func (tx *memoryTx) ListLogs(ctx context.Context, filters LedgerLogFilters) ([]*models.LedgerLog, error) {
	return tx.repo.listLogs(filters), nil
}

func (tx *memoryTx) CreateEvent(ctx context.Context, ev *models.Event) error {
	r := tx.repo
	ev.ID = uint64(len(r.events))
	stored := *ev
	r.events = append(r.events, &stored)
	tx.undo = append(tx.undo, func() { r.events = r.events[:len(r.events)-1] })
	return nil
}

func (tx *memoryTx) UpdateEvent(ctx context.Context, ev *models.Event) error {
	r := tx.repo
	if ev.ID >= uint64(len(r.events)) {
		return models.ErrEventNotFound
	}
	prev := r.events[ev.ID]
	stored := *ev
	r.events[ev.ID] = &stored
	tx.undo = append(tx.undo, func() { r.events[prev.ID] = prev })
	return nil
}

func (tx *memoryTx) CreateTicket(ctx context.Context, t *models.Ticket) error {
	r := tx.repo
	if t.EventID >= uint64(len(r.events)) {
		return models.ErrEventNotFound
	}
	t.ID = uint64(len(r.tickets))
	stored := *t
	r.tickets = append(r.tickets, &stored)
	r.balances[t.Owner]++
	owner := t.Owner
	tx.undo = append(tx.undo, func() {
		r.tickets = r.tickets[:len(r.tickets)-1]
		r.decrementBalance(owner)
	})
	return nil
}

func (tx *memoryTx) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	r := tx.repo
	if t.ID >= uint64(len(r.tickets)) {
		return models.ErrTicketNotFound
	}
	prev := r.tickets[t.ID]
	stored := *t
	r.tickets[t.ID] = &stored
	if prev.Owner != stored.Owner {
		r.decrementBalance(prev.Owner)
		r.balances[stored.Owner]++
	}
	tx.undo = append(tx.undo, func() {
		if prev.Owner != stored.Owner {
			r.decrementBalance(stored.Owner)
			r.balances[prev.Owner]++
		}
		r.tickets[prev.ID] = prev
	})
	return nil
}

func (tx *memoryTx) SetValidator(ctx context.Context, eventID uint64, addr common.Address, granted bool) error {
	r := tx.repo
	key := validatorKey{eventID, addr}
	prev, had := r.validators[key]
	if granted {
		r.validators[key] = true
	} else {
		delete(r.validators, key)
	}
	tx.undo = append(tx.undo, func() { restoreBool(r.validators, key, prev, had) })
	return nil
}

func (tx *memoryTx) SetApproved(ctx context.Context, tokenID uint64, approved common.Address) error {
	r := tx.repo
	if tokenID >= uint64(len(r.tickets)) {
		return models.ErrTicketNotFound
	}
	prev, had := r.approvals[tokenID]
	if approved == models.ZeroAddress {
		delete(r.approvals, tokenID)
	} else {
		r.approvals[tokenID] = approved
	}
	tx.undo = append(tx.undo, func() {
		if had {
			r.approvals[tokenID] = prev
		} else {
			delete(r.approvals, tokenID)
		}
	})
	return nil
}

func (tx *memoryTx) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	r := tx.repo
	key := operatorKey{owner, operator}
	prev, had := r.operators[key]
	if approved {
		r.operators[key] = true
	} else {
		delete(r.operators, key)
	}
	tx.undo = append(tx.undo, func() { restoreBool(r.operators, key, prev, had) })
	return nil
}

func (tx *memoryTx) AppendLog(ctx context.Context, req *models.LedgerLogCreateRequest) (*models.LedgerLog, error) {
	r := tx.repo
	entry := &models.LedgerLog{
		ID:        uint64(len(r.logs)) + 1,
		Kind:      req.Kind,
		EventID:   req.EventID,
		TokenID:   req.TokenID,
		Actor:     req.Actor,
		Subject:   req.Subject,
		Details:   req.Details,
		CreatedAt: req.CreatedAt,
	}
	r.logs = append(r.logs, entry)
	tx.undo = append(tx.undo, func() { r.logs = r.logs[:len(r.logs)-1] })
	cp := *entry
	return &cp, nil
}

func (r *MemoryLedgerRepository) decrementBalance(owner common.Address) {
	if r.balances[owner] <= 1 {
		delete(r.balances, owner)
		return
	}
	r.balances[owner]--
}

func restoreBool[K comparable](m map[K]bool, key K, prev, had bool) {
	if had {
		m[key] = prev
	} else {
		delete(m, key)
	}
}

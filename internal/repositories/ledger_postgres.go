package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresLedgerRepository stores the ledger in PostgreSQL
type PostgresLedgerRepository struct {
	pgReader
	db *sql.DB
}

// NewPostgresLedgerRepository creates a new postgres-backed ledger store
func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{
		pgReader: pgReader{q: db},
		db:       db,
	}
}

// Atomic runs fn in one transaction. Event and ticket rows read inside fn
// are locked with FOR UPDATE until commit, which serializes writers per record.
func (r *PostgresLedgerRepository) Atomic(ctx context.Context, fn func(tx LedgerTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &pgTx{pgReader: pgReader{q: sqlTx, forUpdate: true}}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresLedgerRepository) Close() error {
	return r.db.Close()
}

const eventColumns = `id, organizer, name, description, date, price, max_tickets, tickets_sold,
	is_active, max_resell_price, transfer_locked, created_at`

const ticketColumns = `id, event_id, owner, used, purchase_price, purchase_time`

const logColumns = `id, kind, event_id, token_id, actor, subject, details, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// pgReader implements LedgerReader over a queryer
type pgReader struct {
	q         queryer
	forUpdate bool
}

func (p pgReader) lockClause() string {
	if p.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func scanEvent(row rowScanner) (*models.Event, error) {
	ev := &models.Event{}
	var organizer string
	err := row.Scan(
		&ev.ID,
		&organizer,
		&ev.Name,
		&ev.Description,
		&ev.Date,
		&ev.Price,
		&ev.MaxTickets,
		&ev.TicketsSold,
		&ev.IsActive,
		&ev.MaxResellPrice,
		&ev.TransferLocked,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Organizer = common.HexToAddress(organizer)
	return ev, nil
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	t := &models.Ticket{}
	var owner string
	err := row.Scan(
		&t.ID,
		&t.EventID,
		&owner,
		&t.Used,
		&t.PurchasePrice,
		&t.PurchaseTime,
	)
	if err != nil {
		return nil, err
	}
	t.Owner = common.HexToAddress(owner)
	return t, nil
}

func scanLog(row rowScanner) (*models.LedgerLog, error) {
	entry := &models.LedgerLog{}
	var (
		eventID, tokenID sql.NullInt64
		actor            string
		subject          sql.NullString
		details          []byte
	)
	err := row.Scan(&entry.ID, &entry.Kind, &eventID, &tokenID, &actor, &subject, &details, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if eventID.Valid {
		entry.EventID = models.Uint64Ptr(uint64(eventID.Int64))
	}
	if tokenID.Valid {
		entry.TokenID = models.Uint64Ptr(uint64(tokenID.Int64))
	}
	entry.Actor = common.HexToAddress(actor)
	if subject.Valid {
		entry.Subject = models.AddressPtr(common.HexToAddress(subject.String))
	}
	if len(details) > 0 {
		entry.Details = json.RawMessage(details)
	}
	return entry, nil
}

// storableID reports whether id fits the BIGINT key columns. Larger ids can
// never have been assigned.
func storableID(id uint64) bool {
	return id <= math.MaxInt64
}

func (p pgReader) GetEvent(ctx context.Context, id uint64) (*models.Event, error) {
	if !storableID(id) {
		return nil, models.ErrEventNotFound
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1` + p.lockClause()

	ev, err := scanEvent(p.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (p pgReader) CountEvents(ctx context.Context) (uint64, error) {
	var next uint64
	err := p.q.QueryRowContext(ctx, `SELECT next_value FROM ledger_sequences WHERE name = 'event'`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return next, nil
}

func (p pgReader) ListEvents(ctx context.Context, filters EventSearchFilters) ([]*models.Event, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filters.Organizer != nil {
		args = append(args, filters.Organizer.Hex())
		conditions = append(conditions, fmt.Sprintf("organizer = $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"
	query += paginate(&args, filters.Limit, filters.Offset)

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func (p pgReader) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	if !storableID(id) {
		return nil, models.ErrTicketNotFound
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1` + p.lockClause()

	t, err := scanTicket(p.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

func (p pgReader) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	var count uint64
	err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE owner = $1`, owner.Hex()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return count, nil
}

func (p pgReader) TicketsOf(ctx context.Context, owner common.Address) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE owner = $1 ORDER BY id ASC`

	rows, err := p.q.QueryContext(ctx, query, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to get tickets by owner: %w", err)
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

func (p pgReader) IsValidator(ctx context.Context, eventID uint64, addr common.Address) (bool, error) {
	if !storableID(eventID) {
		return false, nil
	}
	var granted bool
	err := p.q.QueryRowContext(ctx,
		`SELECT granted FROM event_validators WHERE event_id = $1 AND validator = $2`,
		eventID, addr.Hex(),
	).Scan(&granted)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check validator: %w", err)
	}
	return granted, nil
}

func (p pgReader) GetApproved(ctx context.Context, tokenID uint64) (common.Address, error) {
	if !storableID(tokenID) {
		return models.ZeroAddress, models.ErrTicketNotFound
	}
	var approved sql.NullString
	err := p.q.QueryRowContext(ctx, `SELECT approved FROM tickets WHERE id = $1`, tokenID).Scan(&approved)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ZeroAddress, models.ErrTicketNotFound
		}
		return models.ZeroAddress, fmt.Errorf("failed to get approval: %w", err)
	}
	if !approved.Valid {
		return models.ZeroAddress, nil
	}
	return common.HexToAddress(approved.String), nil
}

func (p pgReader) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	var approved bool
	err := p.q.QueryRowContext(ctx,
		`SELECT approved FROM operator_approvals WHERE owner = $1 AND operator = $2`,
		owner.Hex(), operator.Hex(),
	).Scan(&approved)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check operator approval: %w", err)
	}
	return approved, nil
}

func (p pgReader) ListLogs(ctx context.Context, filters LedgerLogFilters) ([]*models.LedgerLog, error) {
	if (filters.EventID != nil && !storableID(*filters.EventID)) || (filters.TokenID != nil && !storableID(*filters.TokenID)) {
		return nil, nil
	}
	var (
		conditions []string
		args       []interface{}
	)
	if filters.EventID != nil {
		args = append(args, *filters.EventID)
		conditions = append(conditions, fmt.Sprintf("event_id = $%d", len(args)))
	}
	if filters.TokenID != nil {
		args = append(args, *filters.TokenID)
		conditions = append(conditions, fmt.Sprintf("token_id = $%d", len(args)))
	}

	query := `SELECT ` + logColumns + ` FROM ledger_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"
	query += paginate(&args, filters.Limit, filters.Offset)

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.LedgerLog
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger log: %w", err)
		}
		logs = append(logs, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger logs: %w", err)
	}
	return logs, nil
}

// pgTx implements LedgerTx inside a sql.Tx
type pgTx struct {
	pgReader
}

// nextValue takes the next id from a named sequence row. The row lock keeps
// ids dense and gap-free because a rolled back unit also rolls back the bump.
func (tx *pgTx) nextValue(ctx context.Context, name string) (uint64, error) {
	var id uint64
	err := tx.q.QueryRowContext(ctx,
		`UPDATE ledger_sequences SET next_value = next_value + 1 WHERE name = $1 RETURNING next_value - 1`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return id, nil
}

func (tx *pgTx) CreateEvent(ctx context.Context, ev *models.Event) error {
	id, err := tx.nextValue(ctx, "event")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, organizer, name, description, date, price, max_tickets, tickets_sold,
			is_active, max_resell_price, transfer_locked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = tx.q.ExecContext(ctx, query,
		id,
		ev.Organizer.Hex(),
		ev.Name,
		ev.Description,
		ev.Date,
		ev.Price,
		ev.MaxTickets,
		ev.TicketsSold,
		ev.IsActive,
		ev.MaxResellPrice,
		ev.TransferLocked,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	ev.ID = id
	return nil
}

func (tx *pgTx) UpdateEvent(ctx context.Context, ev *models.Event) error {
	if !storableID(ev.ID) {
		return models.ErrEventNotFound
	}
	query := `
		UPDATE events
		SET tickets_sold = $2, is_active = $3, transfer_locked = $4
		WHERE id = $1`

	result, err := tx.q.ExecContext(ctx, query, ev.ID, ev.TicketsSold, ev.IsActive, ev.TransferLocked)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return expectOneRow(result, models.ErrEventNotFound)
}

func (tx *pgTx) CreateTicket(ctx context.Context, t *models.Ticket) error {
	id, err := tx.nextValue(ctx, "ticket")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tickets (id, event_id, owner, used, purchase_price, purchase_time)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = tx.q.ExecContext(ctx, query, id, t.EventID, t.Owner.Hex(), t.Used, t.PurchasePrice, t.PurchaseTime)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	t.ID = id
	return nil
}

func (tx *pgTx) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	if !storableID(t.ID) {
		return models.ErrTicketNotFound
	}
	result, err := tx.q.ExecContext(ctx,
		`UPDATE tickets SET owner = $2, used = $3 WHERE id = $1`,
		t.ID, t.Owner.Hex(), t.Used,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return expectOneRow(result, models.ErrTicketNotFound)
}

func (tx *pgTx) SetValidator(ctx context.Context, eventID uint64, addr common.Address, granted bool) error {
	query := `
		INSERT INTO event_validators (event_id, validator, granted)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, validator) DO UPDATE SET granted = EXCLUDED.granted`

	if _, err := tx.q.ExecContext(ctx, query, eventID, addr.Hex(), granted); err != nil {
		return fmt.Errorf("failed to set validator: %w", err)
	}
	return nil
}

func (tx *pgTx) SetApproved(ctx context.Context, tokenID uint64, approved common.Address) error {
	if !storableID(tokenID) {
		return models.ErrTicketNotFound
	}
	var value interface{}
	if approved != models.ZeroAddress {
		value = approved.Hex()
	}

	result, err := tx.q.ExecContext(ctx, `UPDATE tickets SET approved = $2 WHERE id = $1`, tokenID, value)
	if err != nil {
		return fmt.Errorf("failed to set approval: %w", err)
	}
	return expectOneRow(result, models.ErrTicketNotFound)
}

func (tx *pgTx) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	query := `
		INSERT INTO operator_approvals (owner, operator, approved)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, operator) DO UPDATE SET approved = EXCLUDED.approved`

	if _, err := tx.q.ExecContext(ctx, query, owner.Hex(), operator.Hex(), approved); err != nil {
		return fmt.Errorf("failed to set operator approval: %w", err)
	}
	return nil
}

func (tx *pgTx) AppendLog(ctx context.Context, req *models.LedgerLogCreateRequest) (*models.LedgerLog, error) {
	var subject interface{}
	if req.Subject != nil {
		subject = req.Subject.Hex()
	}
	var details interface{}
	if len(req.Details) > 0 {
		details = []byte(req.Details)
	}

	query := `
		INSERT INTO ledger_logs (kind, event_id, token_id, actor, subject, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + logColumns

	entry, err := scanLog(tx.q.QueryRowContext(ctx, query,
		req.Kind,
		nullableID(req.EventID),
		nullableID(req.TokenID),
		req.Actor.Hex(),
		subject,
		details,
		req.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger log: %w", err)
	}
	return entry, nil
}

func nullableID(id *uint64) interface{} {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func paginate(args *[]interface{}, limit, offset int) string {
	var clause string
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

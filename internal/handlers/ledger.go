package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ticket-ledger/internal/middleware"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories"
	"ticket-ledger/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// LedgerHandler exposes the ticket ledger over JSON
type LedgerHandler struct {
	ledger services.LedgerServiceInterface
	logger zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledger services.LedgerServiceInterface, logger zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

// RegisterRoutes mounts the ledger API on r. Reads are anonymous; every
// write goes through requireCaller.
func (h *LedgerHandler) RegisterRoutes(r chi.Router, requireCaller func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/ledger", h.LedgerInfo)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.With(requireCaller).Post("/", h.CreateEvent)

			r.Route("/{eventId}", func(r chi.Router) {
				r.Get("/", h.GetEvent)
				r.Get("/activity", h.EventActivity)
				r.Get("/validators/{address}", h.IsValidator)

				r.Group(func(r chi.Router) {
					r.Use(requireCaller)
					r.Post("/tickets", h.MintTicket)
					r.Post("/transfer-lock/toggle", h.ToggleTransferLock)
					r.Put("/active", h.SetEventActive)
					r.Put("/validators/{address}", h.AddValidator)
					r.Delete("/validators/{address}", h.RemoveValidator)
				})
			})
		})

		r.Route("/tickets/{tokenId}", func(r chi.Router) {
			r.Get("/", h.GetTicket)
			r.Get("/owner", h.OwnerOf)
			r.Get("/approved", h.GetApproved)
			r.Get("/verify", h.VerifyTicket)

			r.Group(func(r chi.Router) {
				r.Use(requireCaller)
				r.Post("/transfer", h.Transfer)
				r.Post("/resell", h.ResellTicket)
				r.Post("/approve", h.Approve)
				r.Post("/use", h.UseTicket)
			})
		})

		r.Route("/accounts/{address}", func(r chi.Router) {
			r.Get("/balance", h.BalanceOf)
			r.Get("/tickets", h.TicketsOf)
			r.Get("/tickets/{index}", h.TokenOfOwnerByIndex)
			r.Get("/operators/{operator}", h.IsApprovedForAll)
			r.With(requireCaller).Put("/operators/{operator}", h.SetApprovalForAll)
		})
	})
}

// LedgerInfo returns the collection metadata
func (h *LedgerHandler) LedgerInfo(w http.ResponseWriter, r *http.Request) {
	count, err := h.ledger.EventCount(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        h.ledger.Name(),
		"symbol":      h.ledger.Symbol(),
		"event_count": count,
	})
}

// CreateEvent registers an event organized by the caller
func (h *LedgerHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.EventCreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	event, err := h.ledger.CreateEvent(r.Context(), &req, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/events/%d", event.ID))
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents lists events, optionally by organizer
func (h *LedgerHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filters := repositories.EventSearchFilters{}
	if organizer := query.Get("organizer"); organizer != "" {
		addr, err := models.ParseAddress(organizer)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		filters.Organizer = &addr
	}

	var err error
	if filters.Limit, filters.Offset, err = parsePagination(r); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	events, err := h.ledger.ListEvents(r.Context(), filters)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// GetEvent returns one event
func (h *LedgerHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}

	event, err := h.ledger.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// EventActivity returns the ledger log of an event
func (h *LedgerHandler) EventActivity(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}

	if _, err := h.ledger.GetEvent(r.Context(), eventID); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	entries, err := h.ledger.Activity(r.Context(), repositories.LedgerLogFilters{
		EventID: &eventID,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": eventID,
		"entries":  entries,
	})
}

// MintTicket mints a ticket of the event to the caller
func (h *LedgerHandler) MintTicket(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}

	var req models.MintRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	ticket, err := h.ledger.MintTicket(r.Context(), eventID, req.Payment, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/tickets/%d", ticket.ID))
	writeJSON(w, http.StatusCreated, ticket)
}

// ToggleTransferLock flips the event's transfer lock
func (h *LedgerHandler) ToggleTransferLock(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	locked, err := h.ledger.ToggleTransferLock(r.Context(), eventID, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":        eventID,
		"transfer_locked": locked,
	})
}

// SetEventActive opens or closes sales of the event
func (h *LedgerHandler) SetEventActive(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}

	var req models.EventActiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	event, err := h.ledger.SetEventActive(r.Context(), eventID, req.Active, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// AddValidator grants a validator for the event
func (h *LedgerHandler) AddValidator(w http.ResponseWriter, r *http.Request) {
	h.setValidator(w, r, true)
}

// RemoveValidator revokes a validator of the event
func (h *LedgerHandler) RemoveValidator(w http.ResponseWriter, r *http.Request) {
	h.setValidator(w, r, false)
}

func (h *LedgerHandler) setValidator(w http.ResponseWriter, r *http.Request, granted bool) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	var err error
	if granted {
		err = h.ledger.AddValidator(r.Context(), eventID, addr, caller)
	} else {
		err = h.ledger.RemoveValidator(r.Context(), eventID, addr, caller)
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validatorResponse{EventID: eventID, Validator: addr, IsValidator: granted})
}

// IsValidator reports whether an address validates the event
func (h *LedgerHandler) IsValidator(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.uint64Param(w, r, "eventId")
	if !ok {
		return
	}
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}

	isValidator, err := h.ledger.IsValidator(r.Context(), eventID, addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validatorResponse{EventID: eventID, Validator: addr, IsValidator: isValidator})
}

type validatorResponse struct {
	EventID     uint64         `json:"event_id"`
	Validator   common.Address `json:"validator"`
	IsValidator bool           `json:"is_validator"`
}

// GetTicket returns a ticket with its status
func (h *LedgerHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	details, err := h.ledger.GetTicket(r.Context(), tokenID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// OwnerOf returns the owner of a ticket
func (h *LedgerHandler) OwnerOf(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	owner, err := h.ledger.OwnerOf(r.Context(), tokenID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token_id": tokenID,
		"owner":    owner,
	})
}

// Transfer moves a ticket. An empty from means the caller.
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	var req models.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	from := caller
	if req.From != "" {
		addr, err := models.ParseAddress(req.From)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		from = addr
	}
	to, err := models.ParseAddress(req.To)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	ticket, err := h.ledger.Transfer(r.Context(), tokenID, from, to, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

// ResellTicket moves a ticket at a capped price
func (h *LedgerHandler) ResellTicket(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	var req models.ResellRequest
	if !h.decode(w, r, &req) {
		return
	}

	to, err := models.ParseAddress(req.To)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	ticket, err := h.ledger.ResellTicket(r.Context(), tokenID, to, req.Price, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

// Approve sets or clears the approved address of a ticket
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	var req models.ApproveRequest
	if !h.decode(w, r, &req) {
		return
	}

	approved, err := models.ParseOptionalAddress(req.Approved)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	if err := h.ledger.Approve(r.Context(), tokenID, approved, caller); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, approvedResponse(tokenID, approved))
}

// GetApproved returns the approved address of a ticket
func (h *LedgerHandler) GetApproved(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	approved, err := h.ledger.GetApproved(r.Context(), tokenID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, approvedResponse(tokenID, approved))
}

func approvedResponse(tokenID uint64, approved common.Address) map[string]interface{} {
	resp := map[string]interface{}{
		"token_id": tokenID,
		"approved": nil,
	}
	if approved != models.ZeroAddress {
		resp["approved"] = approved
	}
	return resp
}

// UseTicket redeems a ticket at the door
func (h *LedgerHandler) UseTicket(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	ticket, err := h.ledger.UseTicket(r.Context(), tokenID, caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

// VerifyTicket runs the entry check for ?owner=
func (h *LedgerHandler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.uint64Param(w, r, "tokenId")
	if !ok {
		return
	}

	owner, err := models.ParseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	valid, err := h.ledger.VerifyTicket(r.Context(), tokenID, owner)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token_id": tokenID,
		"owner":    owner,
		"valid":    valid,
	})
}

// BalanceOf returns how many tickets an account holds
func (h *LedgerHandler) BalanceOf(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}

	balance, err := h.ledger.BalanceOf(r.Context(), addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"balance": balance,
	})
}

// TicketsOf lists the tickets of an account
func (h *LedgerHandler) TicketsOf(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}

	tickets, err := h.ledger.TicketsOf(r.Context(), addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"tickets": tickets,
	})
}

// TokenOfOwnerByIndex returns the index-th token of an account
func (h *LedgerHandler) TokenOfOwnerByIndex(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	index, ok := h.uint64Param(w, r, "index")
	if !ok {
		return
	}

	tokenID, err := h.ledger.TokenOfOwnerByIndex(r.Context(), addr, index)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  addr,
		"index":    index,
		"token_id": tokenID,
	})
}

// SetApprovalForAll grants or revokes an operator. Only the account itself
// can change its operators.
func (h *LedgerHandler) SetApprovalForAll(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	operator, ok := h.addressParam(w, r, "operator")
	if !ok {
		return
	}

	caller, _ := middleware.GetCallerFromContext(r.Context())
	if caller != owner {
		h.writeLedgerError(w, r, fmt.Errorf("%w: operators can only be set by the account", models.ErrUnauthorized))
		return
	}

	var req models.OperatorRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.ledger.SetApprovalForAll(r.Context(), operator, req.Approved, caller); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, operatorResponse{Owner: owner, Operator: operator, Approved: req.Approved})
}

// IsApprovedForAll reports whether operator may move every ticket of the account
func (h *LedgerHandler) IsApprovedForAll(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	operator, ok := h.addressParam(w, r, "operator")
	if !ok {
		return
	}

	approved, err := h.ledger.IsApprovedForAll(r.Context(), owner, operator)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, operatorResponse{Owner: owner, Operator: operator, Approved: approved})
}

type operatorResponse struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

// StatusForError maps a ledger error to its HTTP status
func StatusForError(err error) int {
	switch models.ErrorKind(err) {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUnauthorized:
		return http.StatusForbidden
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindInvalidSchedule, models.KindInsufficientPayment, models.KindResalePriceExceeded, models.KindOutOfRange:
		return http.StatusUnprocessableEntity
	case models.KindSoldOut, models.KindEventEnded, models.KindEventInactive, models.KindTransferLocked, models.KindAlreadyUsed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *LedgerHandler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	kind := models.ErrorKind(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetRequestID(r.Context())).Msg("ledger request failed")
		message = "Internal server error"
	}

	middleware.WriteJSONError(w, r, status, kind, message)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeLedgerError(w, r, fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *LedgerHandler) uint64Param(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.writeLedgerError(w, r, fmt.Errorf("%w: invalid %s %q", models.ErrInvalidInput, name, raw))
		return 0, false
	}
	return v, true
}

func (h *LedgerHandler) addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := models.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return models.ZeroAddress, false
	}
	return addr, true
}

func parsePagination(r *http.Request) (int, int, error) {
	query := r.URL.Query()
	limit, offset := 0, 0
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit %q", models.ErrInvalidInput, raw)
		}
		limit = v
	}
	if raw := query.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset %q", models.ErrInvalidInput, raw)
		}
		offset = v
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

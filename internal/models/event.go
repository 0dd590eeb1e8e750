package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a ticketed event registered on the ledger
type Event struct {
	ID             uint64         `json:"id" db:"id"`
	Organizer      common.Address `json:"organizer" db:"organizer"`
	Name           string         `json:"name" db:"name"`
	Description    string         `json:"description" db:"description"`
	Date           time.Time      `json:"date" db:"date"`
	Price          Amount         `json:"price" db:"price"`
	MaxTickets     uint64         `json:"max_tickets" db:"max_tickets"`
	TicketsSold    uint64         `json:"tickets_sold" db:"tickets_sold"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	MaxResellPrice Amount         `json:"max_resell_price" db:"max_resell_price"`
	TransferLocked bool           `json:"transfer_locked" db:"transfer_locked"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// EventCreateRequest represents the data needed to create a new event
type EventCreateRequest struct {
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Date           time.Time `json:"date"`
	Price          Amount    `json:"price"`
	MaxTickets     uint64    `json:"max_tickets"`
	MaxResellPrice Amount    `json:"max_resell_price"`
	TransferLocked bool      `json:"transfer_locked"`
}

// Validate validates event creation data against the current time.
// Schedule failures wrap ErrInvalidSchedule, everything else ErrInvalidInput.
func (req *EventCreateRequest) Validate(now time.Time) error {
	if err := validateEventName(req.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := validateEventDescription(req.Description); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := validateCapacity(req.MaxTickets); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if req.Price.Sign() < 0 || req.MaxResellPrice.Sign() < 0 {
		return fmt.Errorf("%w: prices cannot be negative", ErrInvalidInput)
	}

	if err := validateSchedule(req.Date, now); err != nil {
		return err
	}

	return nil
}

// validateEventName validates an event name
func validateEventName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}

	if len(name) > 255 {
		return errors.New("name must be less than 255 characters")
	}

	return nil
}

// validateEventDescription validates an event description
func validateEventDescription(description string) error {
	// Description is optional and usually a content hash or short blurb
	if len(description) > 10000 {
		return errors.New("description must be less than 10000 characters")
	}

	return nil
}

// validateCapacity validates the ticket capacity
func validateCapacity(maxTickets uint64) error {
	if maxTickets == 0 {
		return errors.New("max tickets must be greater than 0")
	}

	return nil
}

// validateSchedule requires the event date to be strictly after now
func validateSchedule(date, now time.Time) error {
	if date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidSchedule)
	}

	if !date.After(now) {
		return ErrInvalidSchedule
	}

	return nil
}

// IsOrganizer reports whether addr organizes the event
func (e *Event) IsOrganizer(addr common.Address) bool {
	return addr != ZeroAddress && e.Organizer == addr
}

// IsSoldOut returns true if all tickets are sold
func (e *Event) IsSoldOut() bool {
	return e.TicketsSold >= e.MaxTickets
}

// Available returns the number of tickets left to mint
func (e *Event) Available() uint64 {
	if e.IsSoldOut() {
		return 0
	}
	return e.MaxTickets - e.TicketsSold
}

// HasEnded returns true once now is past the event date
func (e *Event) HasEnded(now time.Time) bool {
	return now.After(e.Date)
}

// AllowsResale reports whether price is within the declared resale cap
func (e *Event) AllowsResale(price Amount) bool {
	return price.Cmp(e.MaxResellPrice) <= 0
}

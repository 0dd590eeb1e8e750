package models

// MintRequest represents a request to mint a ticket for an event
type MintRequest struct {
	Payment Amount `json:"payment"`
}

// TransferRequest represents a request to move a ticket between accounts
type TransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ResellRequest represents a priced transfer checked against the resale cap
type ResellRequest struct {
	To    string `json:"to"`
	Price Amount `json:"price"`
}

// ApproveRequest sets or clears (empty approved) the approved address of a ticket
type ApproveRequest struct {
	Approved string `json:"approved"`
}

// OperatorRequest grants or revokes an operator over all of an owner's tickets
type OperatorRequest struct {
	Approved bool `json:"approved"`
}

// EventActiveRequest opens (true) or closes (false) sales of an event
type EventActiveRequest struct {
	Active bool `json:"active"`
}

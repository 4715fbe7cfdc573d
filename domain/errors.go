package domain

import "errors"

var (
	// ErrNotFound is returned when a board, column or card does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownColumn indicates an operation referenced a column that is not on the board.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnknownCard indicates an operation referenced a card that is not on the board.
	ErrUnknownCard = errors.New("unknown card")
	// ErrInvalidOrder is returned for order arrays with duplicates or a different id set.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrAlreadyExists is returned when creating a board, column or card whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvariant reports a board snapshot that breaks a structural invariant.
	ErrInvariant = errors.New("board invariant violated")
)

package game

import "errors"

// Validation errors
var (
	ErrInvalidPosition = errors.New("position must be between 0 and 8")
	ErrCellOccupied    = errors.New("cell is already occupied")
	ErrInvalidCard     = errors.New("card strengths must be between 1 and 10")
	ErrWrongTurn       = errors.New("it is not your turn")
	ErrMatchNotActive  = errors.New("match is not active")
	ErrBoardComplete   = errors.New("board is already full")
	ErrDeckTooLarge    = errors.New("deck exceeds the maximum size")
	ErrDuplicateCard   = errors.New("deck contains the same asset twice")
	ErrInvalidAsset    = errors.New("asset contract and token are required")
)

// Authorization errors
var (
	ErrNotAParticipant = errors.New("not a match participant")
	ErrForbidden       = errors.New("forbidden")
)

// Conflict errors
var (
	ErrMatchFull        = errors.New("match is full")
	ErrDuplicateDeposit = errors.New("asset already deposited for this match")
	ErrAlreadyFinished  = errors.New("match already finished")
	ErrNoClaim          = errors.New("no claim recorded for this match")
)

// Lookup and collaborator errors
var (
	ErrNotFound         = errors.New("match not found")
	ErrDepositNotFound  = errors.New("deposit not found")
	ErrNotDurable       = errors.New("result could not be recorded durably")
	ErrStoreUnavailable = errors.New("match store unavailable")
)

// ErrInvalidOutcome is returned when winner and loser are not two distinct participants
var ErrInvalidOutcome = errors.New("winner and loser must be different participants")

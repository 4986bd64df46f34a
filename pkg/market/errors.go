package market

import "errors"

// Code is the stable numeric identifier of a market failure
type Code uint32

const (
	CodeOK                 Code = 0
	CodeUnauthorized       Code = 1
	CodeAlreadyInitialised Code = 2
	CodeRoundNotFound      Code = 3
	CodeBettingClosed      Code = 4
	CodeAlreadyResolved    Code = 5
	CodeTooEarly           Code = 6
	CodeNotResolved        Code = 7
	CodeAlreadyClaimed     Code = 8
	CodeRefundNotAvailable Code = 9
	CodeZeroAmount         Code = 10
	CodeInvalidWindow      Code = 11
	CodeSideMismatch       Code = 12
	CodeNotInitialised     Code = 13
	CodeInvalidToken       Code = 14
	CodeInternal           Code = 255
)

// Error is a named market failure. Values are compared with errors.Is.
type Error struct {
	Code Code
	Name string
}

func (e *Error) Error() string { return e.Name }

var (
	ErrUnauthorized       = &Error{CodeUnauthorized, "unauthorized"}
	ErrAlreadyInitialised = &Error{CodeAlreadyInitialised, "already initialised"}
	ErrRoundNotFound      = &Error{CodeRoundNotFound, "round not found"}
	ErrBettingClosed      = &Error{CodeBettingClosed, "betting closed"}
	ErrAlreadyResolved    = &Error{CodeAlreadyResolved, "already resolved"}
	ErrTooEarly           = &Error{CodeTooEarly, "too early"}
	ErrNotResolved        = &Error{CodeNotResolved, "not resolved"}
	ErrAlreadyClaimed     = &Error{CodeAlreadyClaimed, "already claimed"}
	ErrRefundNotAvailable = &Error{CodeRefundNotAvailable, "refund not available"}
	ErrZeroAmount         = &Error{CodeZeroAmount, "zero amount"}
	ErrInvalidWindow      = &Error{CodeInvalidWindow, "invalid window"}
	ErrSideMismatch       = &Error{CodeSideMismatch, "side mismatch"}
	ErrNotInitialised     = &Error{CodeNotInitialised, "not initialised"}
	ErrInvalidToken       = &Error{CodeInvalidToken, "invalid token"}
)

// CodeOf maps err to its market code; unknown failures are CodeInternal
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeInternal
}

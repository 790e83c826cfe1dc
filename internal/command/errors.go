package command

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible rejection code.
type Code string

const (
	CodeBlackout         Code = "COMMUNICATION_BLACKOUT"
	CodeInvalidCommand   Code = "INVALID_COMMAND"
	CodeInvalidEnergy    Code = "INVALID_ENERGY"
	CodeInvalidFormation Code = "INVALID_FORMATION"
	CodeInvalidManeuver  Code = "INVALID_MANEUVER"
	CodeNotParticipant   Code = "NOT_PARTICIPANT"
	CodeUnitNotOwned     Code = "UNIT_NOT_OWNED"
	CodeUnitUnavailable  Code = "UNIT_UNAVAILABLE"
	CodeSessionNotActive Code = "SESSION_NOT_ACTIVE"
	CodeNotFound         Code = "COMMAND_NOT_FOUND"
	CodeNotCancellable   Code = "NOT_CANCELLABLE"
)

// RejectError is returned for every synchronous rejection. errors.Is matches
// on Code, so callers can compare against the Err* sentinels.
type RejectError struct {
	Code   Code
	Reason string
}

func (e *RejectError) Error() string {
	if e.Reason == "" {
		return "command rejected: " + string(e.Code)
	}
	return fmt.Sprintf("command rejected: %s: %s", e.Code, e.Reason)
}

func (e *RejectError) Is(target error) bool {
	t, ok := target.(*RejectError)
	return ok && t.Code == e.Code
}

func Reject(code Code, format string, args ...any) *RejectError {
	return &RejectError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the rejection code, or "" if err is not a rejection.
func CodeOf(err error) Code {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

var (
	ErrBlackout         = &RejectError{Code: CodeBlackout}
	ErrInvalidCommand   = &RejectError{Code: CodeInvalidCommand}
	ErrInvalidEnergy    = &RejectError{Code: CodeInvalidEnergy}
	ErrInvalidFormation = &RejectError{Code: CodeInvalidFormation}
	ErrInvalidManeuver  = &RejectError{Code: CodeInvalidManeuver}
	ErrNotParticipant   = &RejectError{Code: CodeNotParticipant}
	ErrUnitNotOwned     = &RejectError{Code: CodeUnitNotOwned}
	ErrUnitUnavailable  = &RejectError{Code: CodeUnitUnavailable}
	ErrSessionNotActive = &RejectError{Code: CodeSessionNotActive}
	ErrNotFound         = &RejectError{Code: CodeNotFound}
	ErrNotCancellable   = &RejectError{Code: CodeNotCancellable}
)

package quest

import "fmt"

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidDefinition Code = "invalid_definition"
	CodeAlreadyStarted    Code = "already_started"
	CodeNotInProgress     Code = "not_in_progress"
	CodeNotEligible       Code = "not_eligible"
	CodeUnknownQuest      Code = "unknown_quest"
	CodeUnknownObjective  Code = "unknown_objective"
	CodeInvalidDelta      Code = "invalid_delta"
	CodeGrantPartial      Code = "grant_partial"
	CodeGrantFailed       Code = "grant_failed"
	CodeStoreUnavailable  Code = "store_unavailable"
)

// Error is the domain error for quest operations. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Internal message for logs
	QuestID ID     // Quest the error refers to, if any
	Cause   error  // Wrapped underlying error
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidDefinition = &Error{Code: CodeInvalidDefinition, Message: "invalid quest definition"}
	ErrAlreadyStarted    = &Error{Code: CodeAlreadyStarted, Message: "quest already started"}
	ErrNotInProgress     = &Error{Code: CodeNotInProgress, Message: "quest not in progress"}
	ErrNotEligible       = &Error{Code: CodeNotEligible, Message: "not eligible"}
	ErrUnknownQuest      = &Error{Code: CodeUnknownQuest, Message: "unknown quest"}
	ErrUnknownObjective  = &Error{Code: CodeUnknownObjective, Message: "unknown objective"}
	ErrInvalidDelta      = &Error{Code: CodeInvalidDelta, Message: "progress delta must be positive"}
	ErrGrantPartial      = &Error{Code: CodeGrantPartial, Message: "reward partially granted"}
	ErrGrantFailed       = &Error{Code: CodeGrantFailed, Message: "reward grant failed"}
	ErrStoreUnavailable  = &Error{Code: CodeStoreUnavailable, Message: "progress store unavailable"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.QuestID != "" {
		msg = fmt.Sprintf("quest %s: %s", e.QuestID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Errorf creates a coded error for a quest with a formatted message.
func Errorf(code Code, questID ID, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		QuestID: questID,
	}
}

// Wrap creates a coded error that wraps an underlying cause.
func Wrap(code Code, questID ID, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		QuestID: questID,
		Cause:   cause,
	}
}

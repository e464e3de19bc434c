package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindLLM           ErrorKind = "LLM_ERROR"
	KindLLMTimeout    ErrorKind = "LLM_TIMEOUT"
	KindLLMParse      ErrorKind = "LLM_PARSE_ERROR"
	KindIntentUnclear ErrorKind = "INTENT_UNCLEAR"
	KindCalendar      ErrorKind = "CALENDAR_ERROR"
)

var (
	ErrLLM           = errors.New("completion service failed")
	ErrLLMTimeout    = errors.New("completion service timed out")
	ErrLLMParse      = errors.New("completion output could not be parsed")
	ErrIntentUnclear = errors.New("intent unclear")
	ErrCalendar      = errors.New("calendar operation failed")
)

// Error attaches a kind and the failing operation to an underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind carried by err, or "" when err is unclassified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range []ErrorKind{KindLLMTimeout, KindLLM, KindLLMParse, KindIntentUnclear, KindCalendar} {
		if errors.Is(err, sentinelFor(kind)) {
			return kind
		}
	}
	return ""
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindLLM:
		return ErrLLM
	case KindLLMTimeout:
		return ErrLLMTimeout
	case KindLLMParse:
		return ErrLLMParse
	case KindIntentUnclear:
		return ErrIntentUnclear
	case KindCalendar:
		return ErrCalendar
	}
	return nil
}

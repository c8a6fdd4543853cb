package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies analysis failures for callers.
type Kind string

const (
	KindMapInteraction     Kind = "MAP_INTERACTION"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindGridGeneration     Kind = "GRID_GENERATION"
	KindVisibilityAnalysis Kind = "VISIBILITY_ANALYSIS"
)

var (
	ErrAborted    = errors.New("analysis aborted")
	ErrInProgress = errors.New("analysis already in progress")
	ErrNoCells    = errors.New("analysis produced no cells")
)

// Error is the typed error returned by the orchestrator.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func invalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, nil, format, args...)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

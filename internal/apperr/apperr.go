// Package apperr classifies errors into the categories the CLI turns into exit codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindFatal       Kind = "fatal"
	KindAuth        Kind = "auth"
	KindInput       Kind = "input"
	KindConfig      Kind = "config"
	KindGeneration  Kind = "generation"
	KindInterrupted Kind = "interrupted"
)

const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitAuth        = 2
	ExitInput       = 3
	ExitGeneration  = 4
	ExitInterrupted = 130
)

// ErrUnauthorized is wrapped by provider errors for rejected credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Error tags Err with a category. Op names the failing step.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Auth(op string, err error) error       { return Wrap(KindAuth, op, err) }
func Input(op string, err error) error      { return Wrap(KindInput, op, err) }
func Config(op string, err error) error     { return Wrap(KindConfig, op, err) }
func Generation(op string, err error) error { return Wrap(KindGeneration, op, err) }

// KindOf reports the category of err. Interruption and rejected credentials win over
// whatever category an outer layer assigned.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	if errors.Is(err, ErrUnauthorized) {
		return KindAuth
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindAuth:
		return ExitAuth
	case KindInput, KindConfig:
		return ExitInput
	case KindGeneration:
		return ExitGeneration
	case KindInterrupted:
		return ExitInterrupted
	default:
		return ExitFatal
	}
}

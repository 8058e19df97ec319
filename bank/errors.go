package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/alovak/bankcards/internal/audit"
)

// Error kinds. Every failed operation wraps exactly one of them; use KindOf to
// read it back.
var (
	ErrNotFound          = errors.New("not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCrypto            = errors.New("crypto error")
	ErrSystem            = errors.New("system error")
)

// ErrConflict is returned by the store on unique key violations. Services
// resolve it and never hand it to callers.
var ErrConflict = errors.New("conflict")

var kinds = []error{
	ErrSystem,
	ErrCrypto,
	ErrNotFound,
	ErrAccessDenied,
	ErrInvalidState,
	ErrInsufficientFunds,
	ErrInvalidArgument,
}

// KindOf returns the error kind err carries, ErrSystem for anything
// unclassified and nil for nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrSystem
}

func hasKind(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// systemError passes classified errors through and wraps the rest as
// ErrSystem. Crypto and system failures are recorded for audit.
func systemError(ctx context.Context, auditor audit.Auditor, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCrypto) {
		auditor.Record(ctx, audit.Event{
			Action:  audit.SystemError,
			Details: map[string]string{"op": op, "error": err.Error()},
		})
		return err
	}
	if hasKind(err) {
		return err
	}
	auditor.Record(ctx, audit.Event{
		Action:  audit.SystemError,
		Details: map[string]string{"op": op, "error": err.Error()},
	})
	return fmt.Errorf("%s: %w: %w", op, ErrSystem, err)
}

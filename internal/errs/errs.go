// Package errs defines the error classes shared across the engine.
//
// Configuration errors mean the deal setup itself is wrong (unknown
// condition name, duplicate step, bad formula) and nothing should run.
// Validation errors mean a single call was handed inconsistent inputs
// (negative cash, unknown tranche) and that call must not proceed.
package errs

import "github.com/rotisserie/eris"

var (
	// ErrConfiguration marks fatal deal-configuration problems.
	ErrConfiguration = eris.New("configuration error")

	// ErrValidation marks per-call input problems.
	ErrValidation = eris.New("validation error")
)

// Configf wraps ErrConfiguration with a formatted message.
func Configf(format string, args ...any) error {
	return eris.Wrapf(ErrConfiguration, format, args...)
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return eris.Wrapf(ErrValidation, format, args...)
}

package engine

import (
	"errors"
	"fmt"
)

// The engine's whole error surface. All four are recoverable at the caller:
// pick another slot, another patient, or top up credits and retry.
var (
	// ErrNotFound: the appointment is absent or outside the caller's tenant.
	ErrNotFound = errors.New("appointment not found")
	// ErrPatientNotFound: the referenced patient is absent within the tenant.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrEmployeeNotInTenant: the employee reference did not resolve to a
	// member of the company.
	ErrEmployeeNotInTenant = errors.New("employee not in tenant")
	// ErrSlotConflict: the requested interval overlaps a scheduled
	// appointment for the same employee. Nothing was written.
	ErrSlotConflict = errors.New("slot conflict")
	// ErrInsufficientCredit: the patient's balance is below one credit.
	// Nothing was written.
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// ValidationError rejects malformed input before any lookup happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

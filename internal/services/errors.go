// Package services defines the business logic for page drafts, the
// publication status machine, and checkout. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; the
// handler layer translates them into user-facing messages and HTTP status
// codes.
package services

import "errors"

var (
	// ErrPageNotFound indicates that the referenced page id does not exist
	// or is not accessible to the current user.
	ErrPageNotFound = errors.New("page not found")

	// ErrInvalidStatus is returned when a status write names a value
	// outside the lifecycle set.
	ErrInvalidStatus = errors.New("invalid page status")

	// ErrPaidImmutable is returned when a status write would move a page
	// out of the terminal paid state. Paid never reverts.
	ErrPaidImmutable = errors.New("page already paid; status is final")

	// ErrMissingContact is returned when checkout is requested without the
	// payer email or name required by the payment provider.
	ErrMissingContact = errors.New("payer email and name are required")

	// ErrNotPayable is returned when checkout is requested for a page in
	// the quote flow; quote pages are priced manually and never pass
	// through this payment path.
	ErrNotPayable = errors.New("page is not in the paid flow")

	// ErrAlreadyPaid is returned when checkout is requested for a page
	// that already completed payment.
	ErrAlreadyPaid = errors.New("page is already paid")
)

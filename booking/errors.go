// CLAUDE:SUMMARY Service-level sentinel errors for callers and transports to branch on.
package booking

import "errors"

// ErrInvalidQuery marks a query that fails validation before any portal is
// contacted.
var ErrInvalidQuery = errors.New("booking: invalid query")

// ErrUnknownPortal marks a booking request naming a portal this deployment
// does not carry.
var ErrUnknownPortal = errors.New("booking: unknown portal")

// ErrNoCredential marks a booking attempt without a stored credential for
// the target portal.
var ErrNoCredential = errors.New("booking: no credential stored for portal")

// ErrBookingInFlight marks a second booking attempt while the user's
// previous one is still running.
var ErrBookingInFlight = errors.New("booking: another booking is already in flight")

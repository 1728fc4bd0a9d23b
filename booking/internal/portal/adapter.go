// CLAUDE:SUMMARY Adapter interface (fetch/execute/verify) plus the optional TrainerFinder capability.
package portal

import "context"

// Adapter translates one external booking portal into the canonical contract.
// Implementations differ in strategy (anonymous session, authenticated
// session, browser automation) but present the same three operations.
type Adapter interface {
	// Name is the stable portal key used in identities (e.g. "dasspiel").
	Name() string

	// Venue is the display name of the venue this portal serves.
	Venue() string

	// RequiresCredentials reports whether availability reads need a login.
	RequiresCredentials() bool

	// FetchAvailability returns the free slots visible for the query's date
	// and time window. cred may be nil for portals with anonymous reads.
	// Errors wrap ErrNetwork, ErrAuth or ErrRateLimited.
	FetchAvailability(ctx context.Context, q Query, cred *Credential) ([]RawSlot, error)

	// ExecuteBooking performs the remote booking. This is the only operation
	// with a real-world effect; callers must never invoke it twice for the
	// same logical request without confirming the prior attempt's outcome.
	ExecuteBooking(ctx context.Context, req ExecRequest) (Outcome, error)

	// VerifyBooking re-reads the portal and reports whether the booking from
	// req is now visible (ownership marker or slot no longer free). Adapters
	// that cannot corroborate return ErrVerifyUnsupported.
	VerifyBooking(ctx context.Context, req ExecRequest) (bool, error)
}

// TrainerFinder is an optional adapter capability: portals that publish
// trainer availability implement it in addition to Adapter.
type TrainerFinder interface {
	// FetchTrainers returns slots that have at least one trainer attached,
	// optionally filtered by q.TrainerName (case-insensitive substring).
	FetchTrainers(ctx context.Context, q Query, cred *Credential) ([]RawSlot, error)
}

// CLAUDE:SUMMARY Shared adapter error taxonomy: network (retryable), auth (terminal), rate-limited (backoff).
package portal

import "errors"

// ErrNetwork marks transient transport failures. Retryable with backoff.
var ErrNetwork = errors.New("portal: network error")

// ErrAuth marks invalid or expired credentials. Never auto-retried.
var ErrAuth = errors.New("portal: authentication failed")

// ErrRateLimited marks a portal-side throttle response. Retryable after backoff.
var ErrRateLimited = errors.New("portal: rate limited")

// ErrVerifyUnsupported is returned by VerifyBooking when the portal exposes
// no way to corroborate a booking after the fact.
var ErrVerifyUnsupported = errors.New("portal: verification not supported")

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}

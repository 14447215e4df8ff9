package security

import "time"

// DefaultClockSkewGracePeriod is the default grace applied to expiry
// checks. It prevents false expiration errors caused by clock drift
// between the machines that issued and that validate a credential; 5
// seconds covers typical NTP drift while extending a token's effective
// lifetime by a negligible amount.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks an expiry timestamp with the default grace period.
// A zero timestamp never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGrace(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGrace checks an expiry timestamp with a custom grace
// period. The credential counts as expired only once it has been expired
// for longer than the grace period.
func IsExpiredWithGrace(expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(grace))
}

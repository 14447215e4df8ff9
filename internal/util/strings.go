// Package util provides small helpers shared across the library.
package util

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging sensitive data like tokens and codes,
// where only a short prefix may be shown.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ContainsAll reports whether every element of needles is present in
// haystack. Used for scope subset checks.
func ContainsAll(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, s := range haystack {
		set[s] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

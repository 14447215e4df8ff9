package security

import (
	"testing"
	"time"
)

func TestIsExpiredWithGrace(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{"future", now.Add(time.Hour), 0, false},
		{"well past", now.Add(-time.Hour), 5 * time.Second, true},
		{"inside grace", now.Add(-2 * time.Second), 5 * time.Second, false},
		{"just past grace", now.Add(-6 * time.Second), 5 * time.Second, true},
		{"zero time never expires", time.Time{}, 0, false},
		{"zero grace is strict", now.Add(-time.Millisecond), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredWithGrace(tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpiredWithGrace(%v, %v) = %v, want %v", tt.expiresAt, tt.grace, got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Now().Add(-time.Second)) {
		t.Error("IsExpired ignored the default grace period")
	}
	if !IsExpired(time.Now().Add(-DefaultClockSkewGracePeriod - time.Second)) {
		t.Error("IsExpired missed an expiry past the grace period")
	}
}

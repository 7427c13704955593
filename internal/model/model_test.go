package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHold_OwnershipAndLiveness(t *testing.T) {
	now := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	h := Hold{UserID: "u1", SessionID: "s1", Status: HoldActive, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, h.OwnedBy("u1", ""))
	assert.True(t, h.OwnedBy("other", "s1"))
	assert.False(t, h.OwnedBy("other", "s2"))
	assert.False(t, h.OwnedBy("", ""))

	assert.True(t, h.IsLive(now))
	assert.False(t, h.IsLive(now.Add(time.Minute)))
	h.Status = HoldReleased
	assert.False(t, h.IsLive(now))

	assert.Equal(t, "u1:s1", h.LockValue())
}

func TestAdmissionToken_Deadline(t *testing.T) {
	now := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	booking := now.Add(10 * time.Minute)

	tests := []struct {
		name       string
		tok        AdmissionToken
		at         time.Time
		expired    bool
		bookable   bool
		wantDeadln time.Time
	}{
		{
			name:       "waiting before expiry",
			tok:        AdmissionToken{Status: TokenWaiting, ExpiresAt: now.Add(time.Hour)},
			at:         now,
			wantDeadln: now.Add(time.Hour),
		},
		{
			name:       "waiting at expiry",
			tok:        AdmissionToken{Status: TokenWaiting, ExpiresAt: now.Add(time.Hour)},
			at:         now.Add(time.Hour),
			expired:    true,
			wantDeadln: now.Add(time.Hour),
		},
		{
			name:       "active inside booking window",
			tok:        AdmissionToken{Status: TokenActive, ExpiresAt: now.Add(30 * time.Minute), BookingExpiresAt: &booking},
			at:         now.Add(5 * time.Minute),
			bookable:   true,
			wantDeadln: booking,
		},
		{
			name:       "active past booking window",
			tok:        AdmissionToken{Status: TokenActive, ExpiresAt: now.Add(30 * time.Minute), BookingExpiresAt: &booking},
			at:         booking,
			expired:    true,
			wantDeadln: booking,
		},
		{
			name:       "used tokens never expire again",
			tok:        AdmissionToken{Status: TokenUsed, ExpiresAt: now},
			at:         now.Add(time.Hour),
			wantDeadln: now,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDeadln, tt.tok.Deadline())
			assert.Equal(t, tt.expired, tt.tok.IsExpired(tt.at))
			assert.Equal(t, tt.bookable, tt.tok.IsActiveForBooking(tt.at))
		})
	}
}

func TestTokenStatus_IsLive(t *testing.T) {
	assert.True(t, TokenWaiting.IsLive())
	assert.True(t, TokenActive.IsLive())
	for _, s := range []TokenStatus{TokenUsed, TokenExpired, TokenCancelled} {
		assert.False(t, s.IsLive(), s)
	}
}

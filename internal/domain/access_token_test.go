package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessTokenCan(t *testing.T) {
	tests := []struct {
		abilities string
		ability   string
		want      bool
	}{
		{`["*"]`, AbilitySettle, true},
		{`["settlements:write"]`, AbilitySettle, true},
		{`["notifications:read"]`, AbilitySettle, false},
		{`[]`, AbilityNotifications, false},
		{``, AbilityNotifications, false},
		{`not json`, AbilitySettle, false},
	}
	for _, tt := range tests {
		tok := &AccessToken{Abilities: tt.abilities}
		assert.Equal(t, tt.want, tok.Can(tt.ability), "%q can %s", tt.abilities, tt.ability)
	}
}

func TestAccessTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.False(t, (&AccessToken{}).Expired(now))
	assert.True(t, (&AccessToken{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&AccessToken{ExpiresAt: &future}).Expired(now))
}

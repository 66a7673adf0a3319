package domain

import (
	"encoding/json"
	"time"
)

const (
	AbilityAll           = "*"
	AbilitySettle        = "settlements:write"
	AbilityNotifications = "notifications:read"
)

// AccessToken is an API token issued to an operator or an investor. Only the
// sha256 of the secret part is stored.
type AccessToken struct {
	ID        int64
	TokenHash string
	OwnerRef  string
	Abilities string
	ExpiresAt *time.Time
}

func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// Can reports whether the token grants ability. Abilities are stored as a
// JSON array of strings.
func (t *AccessToken) Can(ability string) bool {
	var list []string
	if err := json.Unmarshal([]byte(t.Abilities), &list); err != nil {
		return false
	}
	for _, a := range list {
		if a == AbilityAll || a == ability {
			return true
		}
	}
	return false
}

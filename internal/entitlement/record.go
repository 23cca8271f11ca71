// Package entitlement holds the authorization grant for one device and
// activation pairing, plus the expiry-aware persistent cache for it.
package entitlement

import "time"

// Record is the entitlement granted by a successful verification. It is
// either fully populated from a verifier response or absent entirely; the
// client never keeps a partially hydrated record.
type Record struct {
	CardCode    string `json:"cardCode"`
	UserID      string `json:"userId"`
	CardID      string `json:"cardId"`
	ProductName string `json:"productName"`

	// ExpireTime is epoch milliseconds; zero means unlimited.
	ExpireTime          int64    `json:"expireTime"`
	ExpireTimeText      string   `json:"expireTimeText"`
	ActivateTimeText    string   `json:"activateTimeText"`
	RemainingTimes      int      `json:"remainingTimes"`
	HasTimeLimit        bool     `json:"hasTimeLimit"`
	HasTimesLimit       bool     `json:"hasTimesLimit"`
	AuthorizedMachines  []string `json:"authorizedMachines"`
	CurrentMachineCount int      `json:"currentMachineCount"`
	MaxMachineCount     int      `json:"maxMachineCount"`
}

// Expired reports whether the record's time limit has passed at the given
// instant. Records without a time limit never expire, whatever the expiry
// timestamp holds.
func (r *Record) Expired(now time.Time) bool {
	if r == nil || !r.HasTimeLimit {
		return false
	}
	return r.ExpireTime < now.UnixMilli()
}

// ExpiryDisplay returns the expiry text for user-facing messages, with a
// literal marker for unlimited entitlements.
func (r *Record) ExpiryDisplay() string {
	if r.ExpireTimeText == "" {
		return "permanent"
	}
	return r.ExpireTimeText
}

// Clone returns a copy so callers cannot mutate the session-owned record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.AuthorizedMachines != nil {
		cp.AuthorizedMachines = append([]string(nil), r.AuthorizedMachines...)
	}
	return &cp
}

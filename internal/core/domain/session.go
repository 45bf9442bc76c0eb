package domain

import "time"

// Session records one issued bearer token. Write-once/read-many: there
// is no revocation endpoint, so rows are retired by the store's TTL
// index on ExpiresAt rather than an explicit delete path.
type Session struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	UserID    string    `json:"userId" bson:"user_id"`
	MachineID string    `json:"machineId,omitempty" bson:"machine_id,omitempty"`
	TokenHash string    `json:"-" bson:"token_hash"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expires_at"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

package store

import "time"

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusFailed   = "failed"
	StatusExpired  = "expired"
)

const DirectionCredit = "credit"

type Intent struct {
	Code             string    `json:"code"`
	UserID           string    `json:"userId"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	PaymentMethod    string    `json:"paymentMethod"`
	GatewayReference string    `json:"gatewayReference,omitempty"`
	RedirectTarget   string    `json:"redirectTarget,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Terminal reports whether the intent can no longer transition.
func (i Intent) Terminal() bool {
	return i.Status != StatusPending
}

type User struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

type LedgerEntry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	IntentCode string    `json:"intentCode"`
	Amount     int64     `json:"amount"`
	Direction  string    `json:"direction"`
	CreatedAt  time.Time `json:"createdAt"`
}

func validTarget(status string) bool {
	switch status {
	case StatusApproved, StatusFailed, StatusExpired:
		return true
	}
	return false
}

package topup

import (
	"context"
	"time"

	"wallet.hh/internal/gateway"
	"wallet.hh/internal/store"
)

// IntentStore persists intents and owns the conditional status update that
// every transition goes through. Implemented by store.Store and store.BoltStore.
type IntentStore interface {
	GetUser(ctx context.Context, id string) (store.User, error)
	CreateIntent(ctx context.Context, in store.Intent) (store.Intent, error)
	GetIntent(ctx context.Context, code string) (store.Intent, error)
	SetGatewayReference(ctx context.Context, code, reference, redirectTarget string) error
	UpdateStatus(ctx context.Context, code, status string) (store.Intent, bool, error)
	ListActiveIntents(ctx context.Context, userID string, now time.Time) ([]store.Intent, error)
	ExpireDue(ctx context.Context, now time.Time) ([]store.Intent, error)
}

type Gateway interface {
	RequestInquiry(ctx context.Context, in gateway.InquiryRequest) (gateway.InquiryResult, error)
}

type CreateTopupInput struct {
	UserID        string
	Amount        string
	PaymentMethod string
	Contact       gateway.Contact
}

type Issued struct {
	Code           string
	RedirectTarget string
	ExpiresAt      time.Time
}

// Outcome is the payment result reported by the gateway, already mapped from
// its wire format.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomePending
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePending:
		return "pending"
	case OutcomeFailure:
		return "failure"
	}
	return "unknown"
}

type Callback struct {
	Code      string
	Outcome   Outcome
	Amount    int64
	Reference string
}

type Result int

const (
	ResultReconciled Result = iota + 1
	ResultAlreadyTerminal
	ResultPending
)

func (r Result) String() string {
	switch r {
	case ResultReconciled:
		return "reconciled"
	case ResultAlreadyTerminal:
		return "already_terminal"
	case ResultPending:
		return "pending"
	}
	return "unknown"
}

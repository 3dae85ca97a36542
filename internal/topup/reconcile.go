package topup

import (
	"context"
	"errors"
	"fmt"

	"wallet.hh/internal/eventlog"
	"wallet.hh/internal/store"
)

// Reconcile applies a verified gateway callback. Only the caller whose
// conditional pending->approved update succeeds credits the balance, so
// duplicate or concurrent deliveries for the same code credit at most once.
func (s *Service) Reconcile(ctx context.Context, cb Callback) (Result, error) {
	intent, err := s.store.GetIntent(ctx, cb.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			eventlog.Event(s.logger, "webhook_unknown_intent", map[string]any{
				"code":    cb.Code,
				"outcome": cb.Outcome.String(),
			})
			return 0, ErrIntentNotFound
		}
		return 0, fmt.Errorf("get intent: %w", err)
	}

	if cb.Amount > 0 && cb.Amount != intent.Amount {
		eventlog.Event(s.logger, "webhook_amount_mismatch", map[string]any{
			"code":            intent.Code,
			"intent_amount":   intent.Amount,
			"callback_amount": cb.Amount,
		})
		return 0, ErrAmountMismatch
	}

	switch cb.Outcome {
	case OutcomeSuccess:
		return s.transition(ctx, intent, store.StatusApproved, cb)
	case OutcomeFailure:
		return s.transition(ctx, intent, store.StatusFailed, cb)
	case OutcomePending:
		if intent.Terminal() {
			return ResultAlreadyTerminal, nil
		}
		return ResultPending, nil
	}
	return 0, ErrUnknownOutcome
}

func (s *Service) transition(ctx context.Context, intent store.Intent, status string, cb Callback) (Result, error) {
	updated, changed, err := s.store.UpdateStatus(ctx, intent.Code, status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrIntentNotFound
		}
		return 0, fmt.Errorf("update intent %s to %s: %w", intent.Code, status, err)
	}

	if !changed {
		eventlog.Event(s.logger, "intent_already_terminal", map[string]any{
			"code":      updated.Code,
			"status":    updated.Status,
			"requested": status,
		})
		return ResultAlreadyTerminal, nil
	}

	fields := map[string]any{
		"code":      updated.Code,
		"user_id":   updated.UserID,
		"status":    updated.Status,
		"reference": cb.Reference,
	}
	if status == store.StatusApproved {
		fields["credited"] = updated.Amount
	}
	eventlog.Event(s.logger, "intent_reconciled", fields)
	return ResultReconciled, nil
}

package topup

import (
	"context"
	"fmt"

	"wallet.hh/internal/eventlog"
)

// SweepExpired expires every pending intent past its deadline. It is safe to
// run concurrently with itself and with Reconcile.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire due intents: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	codes := make([]string, 0, len(expired))
	for _, it := range expired {
		codes = append(codes, it.Code)
	}
	eventlog.Event(s.logger, "intents_expired", map[string]any{
		"count": len(expired),
		"codes": codes,
	})
	return len(expired), nil
}

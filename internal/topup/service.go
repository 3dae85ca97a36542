package topup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"wallet.hh/internal/eventlog"
	"wallet.hh/internal/gateway"
	"wallet.hh/internal/store"
)

const (
	DefaultMinAmount     int64 = 10_000
	DefaultMaxAmount     int64 = 10_000_000
	DefaultTTL                 = time.Hour
	DefaultPaymentMethod       = "VC"
	DefaultProductDetail       = "Wallet topup"
)

type Config struct {
	MinAmount            int64
	MaxAmount            int64
	TTL                  time.Duration
	DefaultPaymentMethod string
	ProductDetails       string
	// PersistenceTimeout bounds the failure write made after the caller's
	// context may already be done.
	PersistenceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinAmount <= 0 {
		c.MinAmount = DefaultMinAmount
	}
	if c.MaxAmount <= 0 {
		c.MaxAmount = DefaultMaxAmount
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if strings.TrimSpace(c.DefaultPaymentMethod) == "" {
		c.DefaultPaymentMethod = DefaultPaymentMethod
	}
	if strings.TrimSpace(c.ProductDetails) == "" {
		c.ProductDetails = DefaultProductDetail
	}
	if c.PersistenceTimeout <= 0 {
		c.PersistenceTimeout = store.DefaultTimeout
	}
	return c
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service issues topup intents, reconciles gateway callbacks and expires
// stale intents. It holds no mutable state of its own; all coordination goes
// through IntentStore.UpdateStatus.
type Service struct {
	store   IntentStore
	gateway Gateway
	cfg     Config
	logger  eventlog.Logger
	now     func() time.Time
}

func NewService(st IntentStore, gw Gateway, cfg Config, logger eventlog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		gateway: gw,
		cfg:     cfg.withDefaults(),
		logger:  eventlog.OrNop(logger),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

// CreateTopup validates the request, persists a pending intent and asks the
// gateway for a payment target. A failed inquiry leaves the intent failed.
func (s *Service) CreateTopup(ctx context.Context, in CreateTopupInput) (Issued, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return Issued{}, ErrInvalidUserID
	}
	amount, err := s.ParseAmount(in.Amount)
	if err != nil {
		return Issued{}, err
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Issued{}, ErrUserNotFound
		}
		return Issued{}, fmt.Errorf("get user: %w", err)
	}

	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" {
		method = s.cfg.DefaultPaymentMethod
	}

	now := s.now().UTC()
	intent, err := s.store.CreateIntent(ctx, store.Intent{
		Code:          NewCode(now),
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: method,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Issued{}, ErrUserNotFound
		}
		return Issued{}, fmt.Errorf("create intent: %w", err)
	}

	res, err := s.gateway.RequestInquiry(ctx, gateway.InquiryRequest{
		OrderCode:      intent.Code,
		Amount:         intent.Amount,
		PaymentMethod:  intent.PaymentMethod,
		ProductDetails: s.cfg.ProductDetails,
		Contact:        in.Contact,
		Expiry:         s.cfg.TTL,
	})
	if err != nil {
		s.failIntent(ctx, intent, err)
		return Issued{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	if err := s.store.SetGatewayReference(ctx, intent.Code, res.Reference, res.RedirectTarget); err != nil {
		eventlog.Event(s.logger, "topup_reference_save_failed", map[string]any{
			"code":  intent.Code,
			"error": err.Error(),
		})
	}

	eventlog.Event(s.logger, "topup_created", map[string]any{
		"code":           intent.Code,
		"user_id":        intent.UserID,
		"amount":         intent.Amount,
		"payment_method": intent.PaymentMethod,
		"reference":      res.Reference,
	})
	return Issued{
		Code:           intent.Code,
		RedirectTarget: res.RedirectTarget,
		ExpiresAt:      intent.ExpiresAt,
	}, nil
}

// failIntent runs even when ctx is already cancelled: the caller is about to
// be told the topup failed, so the intent must not stay pending.
func (s *Service) failIntent(ctx context.Context, intent store.Intent, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistenceTimeout)
	defer cancel()

	fields := map[string]any{
		"code":    intent.Code,
		"user_id": intent.UserID,
		"amount":  intent.Amount,
		"cause":   cause.Error(),
	}
	if _, _, err := s.store.UpdateStatus(ctx, intent.Code, store.StatusFailed); err != nil {
		fields["error"] = err.Error()
		eventlog.Event(s.logger, "topup_fail_mark_failed", fields)
		return
	}
	eventlog.Event(s.logger, "topup_gateway_failed", fields)
}

// ParseAmount checks that raw is a whole number within the configured bounds.
func (s *Service) ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(raw, "-") {
				return 0, fmt.Errorf("%w: minimum is %d", ErrAmountTooLow, s.cfg.MinAmount)
			}
			return 0, fmt.Errorf("%w: maximum is %d", ErrAmountTooHigh, s.cfg.MaxAmount)
		}
		return 0, ErrAmountNotNumber
	}
	if amount < s.cfg.MinAmount {
		return 0, fmt.Errorf("%w: minimum is %d", ErrAmountTooLow, s.cfg.MinAmount)
	}
	if amount > s.cfg.MaxAmount {
		return 0, fmt.Errorf("%w: maximum is %d", ErrAmountTooHigh, s.cfg.MaxAmount)
	}
	return amount, nil
}

func (s *Service) GetIntent(ctx context.Context, code string) (store.Intent, error) {
	it, err := s.store.GetIntent(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Intent{}, ErrIntentNotFound
		}
		return store.Intent{}, err
	}
	return it, nil
}

// ListActive returns the user's pending intents that have not passed their
// deadline, newest first.
func (s *Service) ListActive(ctx context.Context, userID string) ([]store.Intent, error) {
	return s.store.ListActiveIntents(ctx, userID, s.now().UTC())
}

// NewCode builds an intent code from the millisecond timestamp and 48 random
// bits. The store's uniqueness constraint is the final guard.
func NewCode(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "TP" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

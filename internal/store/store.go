package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultTimeout = 5 * time.Second

const intentColumns = `code, user_id, amount, status, payment_method, gateway_reference,
	redirect_target, created_at, expires_at, updated_at`

type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout bounds every store call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store keeps intents, users and ledger entries in PostgreSQL. Status
// transitions are single conditional UPDATEs so concurrent instances sharing
// the database agree on exactly one winner.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{pool: pool, timeout: o.timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) CreateUser(ctx context.Context, id string, balance int64) (User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, balance)
		VALUES ($1, $2)
		RETURNING id, balance, created_at
	`, id, balance).Scan(
		&u.ID,
		&u.Balance,
		&u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u User
	err := s.pool.QueryRow(ctx, "SELECT id, balance, created_at FROM users WHERE id = $1", id).Scan(
		&u.ID,
		&u.Balance,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) CreateIntent(ctx context.Context, in Intent) (Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO intents (code, user_id, amount, status, payment_method, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6)
		RETURNING `+intentColumns,
		in.Code,
		in.UserID,
		in.Amount,
		StatusPending,
		in.PaymentMethod,
		in.CreatedAt,
		in.ExpiresAt,
	)
	created, err := scanIntent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Intent{}, ErrDuplicateCode
		}
		if isForeignKeyViolation(err) {
			return Intent{}, ErrUserNotFound
		}
		return Intent{}, err
	}
	return created, nil
}

func (s *Store) GetIntent(ctx context.Context, code string) (Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return getIntent(ctx, s.pool, code)
}

func (s *Store) SetGatewayReference(ctx context.Context, code, reference, redirectTarget string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE intents
		SET gateway_reference = $2, redirect_target = $3, updated_at = now()
		WHERE code = $1
	`, code, reference, redirectTarget)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves a pending intent to status. It reports changed=false,
// together with the stored intent, when the intent was already terminal.
// Approval credits the owner's balance and writes the ledger entry inside the
// same transaction as the status change.
func (s *Store) UpdateStatus(ctx context.Context, code, status string) (Intent, bool, error) {
	if !validTarget(status) {
		return Intent{}, false, ErrInvalidStatus
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Intent{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		UPDATE intents
		SET status = $2, updated_at = now()
		WHERE code = $1 AND status = $3
		RETURNING `+intentColumns, code, status, StatusPending)
	updated, err := scanIntent(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, false, err
		}
		existing, gerr := getIntent(ctx, tx, code)
		if gerr != nil {
			return Intent{}, false, gerr
		}
		return existing, false, nil
	}

	if status == StatusApproved {
		if err := creditIntent(ctx, tx, updated); err != nil {
			return Intent{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Intent{}, false, err
	}
	return updated, true, nil
}

func (s *Store) ListActiveIntents(ctx context.Context, userID string, now time.Time) ([]Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM intents
		WHERE user_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY created_at DESC
	`, userID, StatusPending, now)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

// ExpireDue marks every pending intent whose deadline is at or before now as
// expired and returns the intents it transitioned.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		UPDATE intents
		SET status = $1, updated_at = now()
		WHERE status = $2 AND expires_at <= $3
		RETURNING `+intentColumns, StatusExpired, StatusPending, now)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (s *Store) ListLedger(ctx context.Context, userID string) ([]LedgerEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, intent_code, amount, direction, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LedgerEntry, error) {
		var e LedgerEntry
		err := row.Scan(&e.ID, &e.UserID, &e.IntentCode, &e.Amount, &e.Direction, &e.CreatedAt)
		return e, err
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getIntent(ctx context.Context, q querier, code string) (Intent, error) {
	row := q.QueryRow(ctx, `SELECT `+intentColumns+` FROM intents WHERE code = $1`, code)
	it, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, ErrNotFound
		}
		return Intent{}, err
	}
	return it, nil
}

func creditIntent(ctx context.Context, tx pgx.Tx, it Intent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, intent_code, amount, direction)
		VALUES ($1, $2, $3, $4)
	`, it.UserID, it.Code, it.Amount, DirectionCredit)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyCredited
		}
		return err
	}

	tag, err := tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", it.Amount, it.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanIntent(row pgx.Row) (Intent, error) {
	var it Intent
	err := row.Scan(
		&it.Code,
		&it.UserID,
		&it.Amount,
		&it.Status,
		&it.PaymentMethod,
		&it.GatewayReference,
		&it.RedirectTarget,
		&it.CreatedAt,
		&it.ExpiresAt,
		&it.UpdatedAt,
	)
	return it, err
}

func collectIntents(rows pgx.Rows) ([]Intent, error) {
	intents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Intent, error) {
		return scanIntent(row)
	})
	if err != nil {
		return nil, err
	}
	if intents == nil {
		intents = []Intent{}
	}
	return intents, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503"
}

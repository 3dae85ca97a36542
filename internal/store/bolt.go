package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	usersBucket   = []byte("users")
	intentsBucket = []byte("intents")
	ledgerBucket  = []byte("ledger")
)

// BoltStore is the embedded alternative to Store. Bolt runs one writer at a
// time, so the read-check-write inside a single Update transaction is the
// conditional update. A bolt file can only be opened by one process; use
// Store when several instances share state.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path and ensures the buckets exist.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{usersBucket, intentsBucket, ledgerBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateUser(ctx context.Context, id string, balance int64) (User, error) {
	u := User{ID: id, Balance: balance, CreatedAt: time.Now().UTC()}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(id)) != nil {
			return ErrUserExists
		}
		return putJSON(b, id, u)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *BoltStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(usersBucket), id, &u, ErrUserNotFound)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *BoltStore) CreateIntent(ctx context.Context, in Intent) (Intent, error) {
	in.Status = StatusPending
	in.UpdatedAt = in.CreatedAt
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(usersBucket).Get([]byte(in.UserID)) == nil {
			return ErrUserNotFound
		}
		b := tx.Bucket(intentsBucket)
		if b.Get([]byte(in.Code)) != nil {
			return ErrDuplicateCode
		}
		return putJSON(b, in.Code, in)
	})
	if err != nil {
		return Intent{}, err
	}
	return in, nil
}

func (s *BoltStore) GetIntent(ctx context.Context, code string) (Intent, error) {
	var it Intent
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(intentsBucket), code, &it, ErrNotFound)
	})
	if err != nil {
		return Intent{}, err
	}
	return it, nil
}

func (s *BoltStore) SetGatewayReference(ctx context.Context, code, reference, redirectTarget string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(intentsBucket)
		var it Intent
		if err := getJSON(b, code, &it, ErrNotFound); err != nil {
			return err
		}
		it.GatewayReference = reference
		it.RedirectTarget = redirectTarget
		it.UpdatedAt = time.Now().UTC()
		return putJSON(b, code, it)
	})
}

// UpdateStatus has the same contract as Store.UpdateStatus.
func (s *BoltStore) UpdateStatus(ctx context.Context, code, status string) (Intent, bool, error) {
	if !validTarget(status) {
		return Intent{}, false, ErrInvalidStatus
	}

	var (
		result  Intent
		changed bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(intentsBucket)
		if err := getJSON(b, code, &result, ErrNotFound); err != nil {
			return err
		}
		if result.Terminal() {
			return nil
		}

		result.Status = status
		result.UpdatedAt = time.Now().UTC()
		if err := putJSON(b, code, result); err != nil {
			return err
		}
		if status == StatusApproved {
			if err := creditIntentBolt(tx, result); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return Intent{}, false, err
	}
	return result, changed, nil
}

func (s *BoltStore) ListActiveIntents(ctx context.Context, userID string, now time.Time) ([]Intent, error) {
	intents := []Intent{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(intentsBucket).ForEach(func(k, v []byte) error {
			var it Intent
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			if it.UserID == userID && it.Status == StatusPending && it.ExpiresAt.After(now) {
				intents = append(intents, it)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.After(intents[j].CreatedAt)
	})
	return intents, nil
}

func (s *BoltStore) ExpireDue(ctx context.Context, now time.Time) ([]Intent, error) {
	expired := []Intent{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(intentsBucket)
		var due []Intent
		err := b.ForEach(func(k, v []byte) error {
			var it Intent
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			if it.Status == StatusPending && !it.ExpiresAt.After(now) {
				due = append(due, it)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Bolt forbids mutating a bucket while iterating it.
		updatedAt := time.Now().UTC()
		for _, it := range due {
			it.Status = StatusExpired
			it.UpdatedAt = updatedAt
			if err := putJSON(b, it.Code, it); err != nil {
				return err
			}
			expired = append(expired, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *BoltStore) ListLedger(ctx context.Context, userID string) ([]LedgerEntry, error) {
	entries := []LedgerEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ledgerBucket).ForEach(func(k, v []byte) error {
			var e LedgerEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.UserID == userID {
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func creditIntentBolt(tx *bolt.Tx, it Intent) error {
	ledger := tx.Bucket(ledgerBucket)
	if ledger.Get([]byte(it.Code)) != nil {
		return ErrAlreadyCredited
	}

	users := tx.Bucket(usersBucket)
	var u User
	if err := getJSON(users, it.UserID, &u, ErrUserNotFound); err != nil {
		return err
	}
	u.Balance += it.Amount
	if err := putJSON(users, u.ID, u); err != nil {
		return err
	}

	seq, err := ledger.NextSequence()
	if err != nil {
		return err
	}
	return putJSON(ledger, it.Code, LedgerEntry{
		ID:         int64(seq),
		UserID:     it.UserID,
		IntentCode: it.Code,
		Amount:     it.Amount,
		Direction:  DirectionCredit,
		CreatedAt:  time.Now().UTC(),
	})
}

func getJSON(b *bolt.Bucket, key string, v any, missing error) error {
	data := b.Get([]byte(key))
	if data == nil {
		return missing
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

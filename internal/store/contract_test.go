package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wallet.hh/internal/store"
)

type intentStore interface {
	CreateUser(ctx context.Context, id string, balance int64) (store.User, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	CreateIntent(ctx context.Context, in store.Intent) (store.Intent, error)
	GetIntent(ctx context.Context, code string) (store.Intent, error)
	SetGatewayReference(ctx context.Context, code, reference, redirectTarget string) error
	UpdateStatus(ctx context.Context, code, status string) (store.Intent, bool, error)
	ListActiveIntents(ctx context.Context, userID string, now time.Time) ([]store.Intent, error)
	ExpireDue(ctx context.Context, now time.Time) ([]store.Intent, error)
	ListLedger(ctx context.Context, userID string) ([]store.LedgerEntry, error)
}

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// runContract exercises behaviour both backends must share. newStore must
// return an empty store.
func runContract(t *testing.T, newStore func(t *testing.T) intentStore) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("create intent", func(t *testing.T) { testCreateIntent(t, newStore(t)) })
	t.Run("approve credits once", func(t *testing.T) { testApproveCreditsOnce(t, newStore(t)) })
	t.Run("terminal is final", func(t *testing.T) { testTerminalIsFinal(t, newStore(t)) })
	t.Run("concurrent approve", func(t *testing.T) { testConcurrentApprove(t, newStore(t)) })
	t.Run("list active", func(t *testing.T) { testListActive(t, newStore(t)) })
	t.Run("expire due", func(t *testing.T) { testExpireDue(t, newStore(t)) })
	t.Run("expire races approve", func(t *testing.T) { testExpireRacesApprove(t, newStore(t)) })
}

func mustCreateUser(t *testing.T, st intentStore, id string, balance int64) {
	t.Helper()
	if _, err := st.CreateUser(context.Background(), id, balance); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func mustCreateIntent(t *testing.T, st intentStore, code, userID string, amount int64, createdAt time.Time) store.Intent {
	t.Helper()
	it, err := st.CreateIntent(context.Background(), store.Intent{
		Code:          code,
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: "VC",
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return it
}

func balanceOf(t *testing.T, st intentStore, id string) int64 {
	t.Helper()
	u, err := st.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u.Balance
}

func testUsers(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 100)

	if _, err := st.CreateUser(ctx, "u1", 5); !errors.Is(err, store.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := st.GetUser(ctx, "ghost"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if b := balanceOf(t, st, "u1"); b != 100 {
		t.Fatalf("expected balance 100, got %d", b)
	}
}

func testCreateIntent(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 0)

	it := mustCreateIntent(t, st, "TP1-a", "u1", 50000, baseTime)
	if it.Status != store.StatusPending {
		t.Fatalf("expected pending, got %s", it.Status)
	}

	_, err := st.CreateIntent(ctx, store.Intent{Code: "TP1-a", UserID: "u1", Amount: 1, CreatedAt: baseTime, ExpiresAt: baseTime})
	if !errors.Is(err, store.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
	_, err = st.CreateIntent(ctx, store.Intent{Code: "TP1-b", UserID: "ghost", Amount: 1, CreatedAt: baseTime, ExpiresAt: baseTime})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := st.SetGatewayReference(ctx, "TP1-a", "REF", "https://pay"); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	got, err := st.GetIntent(ctx, "TP1-a")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.GatewayReference != "REF" || got.RedirectTarget != "https://pay" || got.Amount != 50000 {
		t.Fatalf("unexpected intent: %+v", got)
	}
	if !got.ExpiresAt.Equal(baseTime.Add(time.Hour)) {
		t.Fatalf("expected expiry %s, got %s", baseTime.Add(time.Hour), got.ExpiresAt)
	}

	if _, err := st.GetIntent(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.SetGatewayReference(ctx, "missing", "REF", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testApproveCreditsOnce(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 10)
	mustCreateIntent(t, st, "TP1-a", "u1", 50000, baseTime)

	it, changed, err := st.UpdateStatus(ctx, "TP1-a", store.StatusApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !changed || it.Status != store.StatusApproved {
		t.Fatalf("expected approved change, got changed=%v status=%s", changed, it.Status)
	}

	_, changed, err = st.UpdateStatus(ctx, "TP1-a", store.StatusApproved)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if changed {
		t.Fatalf("expected second approve to be a no-op")
	}

	if b := balanceOf(t, st, "u1"); b != 50010 {
		t.Fatalf("expected balance 50010, got %d", b)
	}
	entries, err := st.ListLedger(ctx, "u1")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].IntentCode != "TP1-a" || entries[0].Amount != 50000 || entries[0].Direction != store.DirectionCredit {
		t.Fatalf("unexpected ledger: %+v", entries)
	}
}

func testTerminalIsFinal(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 0)
	mustCreateIntent(t, st, "TP1-a", "u1", 50000, baseTime)

	if _, _, err := st.UpdateStatus(ctx, "TP1-a", store.StatusPending); !errors.Is(err, store.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, changed, err := st.UpdateStatus(ctx, "TP1-a", store.StatusFailed); err != nil || !changed {
		t.Fatalf("fail: changed=%v err=%v", changed, err)
	}

	for _, status := range []string{store.StatusApproved, store.StatusExpired, store.StatusFailed} {
		it, changed, err := st.UpdateStatus(ctx, "TP1-a", status)
		if err != nil {
			t.Fatalf("update to %s: %v", status, err)
		}
		if changed || it.Status != store.StatusFailed {
			t.Fatalf("expected failed to stay, got changed=%v status=%s", changed, it.Status)
		}
	}
	if b := balanceOf(t, st, "u1"); b != 0 {
		t.Fatalf("expected balance 0, got %d", b)
	}
	if _, _, err := st.UpdateStatus(ctx, "missing", store.StatusApproved); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testConcurrentApprove(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 0)
	mustCreateIntent(t, st, "TP1-a", "u1", 50000, baseTime)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	start := make(chan struct{})
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			status := store.StatusApproved
			if i%3 == 0 {
				status = store.StatusExpired
			}
			_, changed, err := st.UpdateStatus(ctx, "TP1-a", status)
			if err != nil {
				errs <- err
				return
			}
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}(i)
	}

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("update status: %v", err)
	}
	if changes != 1 {
		t.Fatalf("expected exactly one transition, got %d", changes)
	}

	it, err := st.GetIntent(ctx, "TP1-a")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	want := int64(0)
	if it.Status == store.StatusApproved {
		want = 50000
	}
	if b := balanceOf(t, st, "u1"); b != want {
		t.Fatalf("status %s: expected balance %d, got %d", it.Status, want, b)
	}
}

func testListActive(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 0)
	mustCreateUser(t, st, "u2", 0)

	mustCreateIntent(t, st, "TP1-old", "u1", 10000, baseTime.Add(-2*time.Hour))
	mustCreateIntent(t, st, "TP1-a", "u1", 20000, baseTime)
	mustCreateIntent(t, st, "TP1-b", "u1", 30000, baseTime.Add(time.Minute))
	mustCreateIntent(t, st, "TP1-done", "u1", 40000, baseTime)
	mustCreateIntent(t, st, "TP2-a", "u2", 50000, baseTime)
	if _, _, err := st.UpdateStatus(ctx, "TP1-done", store.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := st.ListActiveIntents(ctx, "u1", baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 2 || got[0].Code != "TP1-b" || got[1].Code != "TP1-a" {
		t.Fatalf("expected [TP1-b TP1-a], got %+v", got)
	}

	none, err := st.ListActiveIntents(ctx, "nobody", baseTime)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}
}

func testExpireDue(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 0)

	mustCreateIntent(t, st, "TP1-due", "u1", 10000, baseTime)
	mustCreateIntent(t, st, "TP1-edge", "u1", 10000, baseTime.Add(time.Minute))
	mustCreateIntent(t, st, "TP1-fresh", "u1", 10000, baseTime.Add(2*time.Minute))
	mustCreateIntent(t, st, "TP1-paid", "u1", 10000, baseTime)
	if _, _, err := st.UpdateStatus(ctx, "TP1-paid", store.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Deadline equal to now counts as due.
	expired, err := st.ExpireDue(ctx, baseTime.Add(time.Hour+time.Minute))
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	codes := map[string]bool{}
	for _, it := range expired {
		codes[it.Code] = true
		if it.Status != store.StatusExpired {
			t.Fatalf("expected expired status, got %s", it.Status)
		}
	}
	if len(codes) != 2 || !codes["TP1-due"] || !codes["TP1-edge"] {
		t.Fatalf("expected TP1-due and TP1-edge, got %v", codes)
	}

	again, err := st.ExpireDue(ctx, baseTime.Add(time.Hour+time.Minute))
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected second sweep to be empty, got %d", len(again))
	}

	it, err := st.GetIntent(ctx, "TP1-paid")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if it.Status != store.StatusApproved {
		t.Fatalf("expected approved to stay, got %s", it.Status)
	}
}

func testExpireRacesApprove(t *testing.T, st intentStore) {
	ctx := context.Background()
	mustCreateUser(t, st, "u1", 0)

	const intents = 10
	codes := make([]string, 0, intents)
	for i := 0; i < intents; i++ {
		code := fmt.Sprintf("TP1-race-%d", i)
		mustCreateIntent(t, st, code, "u1", 10000, baseTime)
		codes = append(codes, code)
	}
	// Every intent is past its deadline.
	now := baseTime.Add(2 * time.Hour)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved = map[string]bool{}
		expired  = map[string]bool{}
	)
	start := make(chan struct{})
	errs := make(chan error, intents+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		got, err := st.ExpireDue(ctx, now)
		if err != nil {
			errs <- err
			return
		}
		mu.Lock()
		for _, it := range got {
			expired[it.Code] = true
		}
		mu.Unlock()
	}()
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			<-start
			_, changed, err := st.UpdateStatus(ctx, code, store.StatusApproved)
			if err != nil {
				errs <- err
				return
			}
			if changed {
				mu.Lock()
				approved[code] = true
				mu.Unlock()
			}
		}(code)
	}

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("race: %v", err)
	}

	var want int64
	for _, code := range codes {
		if approved[code] == expired[code] {
			t.Fatalf("%s: expected exactly one winner, approved=%v expired=%v", code, approved[code], expired[code])
		}
		it, err := st.GetIntent(ctx, code)
		if err != nil {
			t.Fatalf("get intent: %v", err)
		}
		wantStatus := store.StatusExpired
		if approved[code] {
			wantStatus = store.StatusApproved
			want += it.Amount
		}
		if it.Status != wantStatus {
			t.Fatalf("%s: expected status %s, got %s", code, wantStatus, it.Status)
		}
	}

	if b := balanceOf(t, st, "u1"); b != want {
		t.Fatalf("expected balance %d, got %d", want, b)
	}
	entries, err := st.ListLedger(ctx, "u1")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != len(approved) {
		t.Fatalf("expected %d ledger entries, got %d", len(approved), len(entries))
	}
}

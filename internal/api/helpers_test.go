package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wallet.hh/internal/api"
	"wallet.hh/internal/auth"
	"wallet.hh/internal/gateway"
	"wallet.hh/internal/store"
	"wallet.hh/internal/topup"
	"wallet.hh/internal/webhook"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "test-webhook-secret"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *fakeGateway) RequestInquiry(ctx context.Context, in gateway.InquiryRequest) (gateway.InquiryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return gateway.InquiryResult{}, g.err
	}
	return gateway.InquiryResult{
		RedirectTarget: "https://pay.example/" + in.OrderCode,
		Reference:      "REF-" + in.OrderCode,
	}, nil
}

func (g *fakeGateway) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testEnv struct {
	store    *store.BoltStore
	server   *httptest.Server
	client   *http.Client
	jwt      *auth.JWT
	verifier *webhook.Verifier
	gateway  *fakeGateway
	clock    *testClock
}

type envOptions struct {
	ratePerSecond float64
	rateBurst     int
}

func setupTest(t *testing.T) *testEnv {
	return setupTestWith(t, envOptions{})
}

func setupTestWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	gw := &fakeGateway{}
	clock := &testClock{now: time.Now().UTC()}
	logger := log.New(io.Discard, "", 0)
	svc := topup.NewService(st, gw, topup.Config{}, logger, topup.WithClock(clock.Now))

	jwtAuth := auth.NewJWT(jwtSecret)
	verifier := webhook.NewVerifier(webhookSecret)
	srv := api.NewServer(api.Deps{
		Topups:        svc,
		Users:         st,
		Verifier:      verifier,
		Auth:          jwtAuth,
		RatePerSecond: opts.ratePerSecond,
		RateBurst:     opts.rateBurst,
	}, logger)
	ts := httptest.NewServer(srv.Routes())

	env := &testEnv{
		store:    st,
		server:   ts,
		client:   &http.Client{Timeout: 3 * time.Second},
		jwt:      jwtAuth,
		verifier: verifier,
		gateway:  gw,
		clock:    clock,
	}
	t.Cleanup(func() {
		ts.Close()
		st.Close()
	})
	return env
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()

	tok, err := e.jwt.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) doRequest(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func (e *testEnv) postWebhook(t *testing.T, body, signature string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/webhook/payment", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

// createTopup issues a topup through the API and returns its code.
func (e *testEnv) createTopup(t *testing.T, userID string, amount int64) string {
	t.Helper()

	body, _ := json.Marshal(map[string]any{"userId": userID, "amount": amount})
	resp := e.doRequest(t, http.MethodPost, "/topup", string(body), e.token(t, userID, auth.RoleUser))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create topup: expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	var got createTopupResponse
	decodeBody(t, resp, &got)
	return got.Code
}

func callbackBody(code, resultCode string, amount int64) string {
	body, _ := json.Marshal(map[string]any{
		"merchantOrderId": code,
		"resultCode":      resultCode,
		"amount":          amount,
		"reference":       "REF-" + code,
	})
	return string(body)
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func seedUser(t *testing.T, st *store.BoltStore, id string, balance int64) {
	t.Helper()

	if _, err := st.CreateUser(context.Background(), id, balance); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func getBalance(t *testing.T, st *store.BoltStore, id string) int64 {
	t.Helper()

	u, err := st.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return u.Balance
}

func getStatus(t *testing.T, st *store.BoltStore, code string) string {
	t.Helper()

	it, err := st.GetIntent(context.Background(), code)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	return it.Status
}

type createTopupResponse struct {
	Code           string    `json:"code"`
	RedirectTarget string    `json:"redirectTarget"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type intentResponse struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type webhookResponse struct {
	Status           string `json:"status"`
	Result           string `json:"result"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

package api

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"wallet.hh/internal/auth"
	"wallet.hh/internal/eventlog"
	"wallet.hh/internal/store"
	"wallet.hh/internal/topup"
	"wallet.hh/internal/webhook"
)

const requestIDHeader = "X-Request-ID"

type Logger = eventlog.Logger

type Authorizer interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, id string, balance int64) (store.User, error)
	GetUser(ctx context.Context, id string) (store.User, error)
}

type Deps struct {
	Topups   *topup.Service
	Users    UserStore
	Verifier *webhook.Verifier
	Auth     Authorizer
	// RatePerSecond and RateBurst throttle topup creation per user inside
	// this process. Zero disables throttling.
	RatePerSecond float64
	RateBurst     int
}

type Server struct {
	topups   *topup.Service
	users    UserStore
	verifier *webhook.Verifier
	auth     Authorizer
	limiter  *rateLimiter
	logger   Logger
}

func NewServer(deps Deps, logger Logger) *Server {
	return &Server{
		topups:   deps.Topups,
		users:    deps.Users,
		verifier: deps.Verifier,
		auth:     deps.Auth,
		limiter:  newRateLimiter(deps.RatePerSecond, deps.RateBurst),
		logger:   eventlog.OrNop(logger),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /topup", s.authMiddleware(http.HandlerFunc(s.handleCreateTopup)))
	mux.Handle("GET /topup/active", s.authMiddleware(http.HandlerFunc(s.handleActiveTopups)))
	mux.Handle("GET /topup/{code}", s.authMiddleware(http.HandlerFunc(s.handleGetTopup)))
	mux.HandleFunc("POST /webhook/payment", s.handleWebhook)
	mux.Handle("POST /internal/sweep", s.authMiddleware(s.adminOnly(http.HandlerFunc(s.handleSweep))))
	mux.Handle("POST /users", s.authMiddleware(s.adminOnly(http.HandlerFunc(s.handleCreateUser))))
	mux.Handle("GET /users/{id}", s.authMiddleware(http.HandlerFunc(s.handleGetUser)))
	return s.recoverer(s.requestID(mux))
}

type principalKey struct{}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey{}).(auth.Principal)
	return p
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("panic: %v\n%s", rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

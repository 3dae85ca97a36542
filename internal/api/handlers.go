package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"wallet.hh/internal/gateway"
	"wallet.hh/internal/store"
	"wallet.hh/internal/topup"
	"wallet.hh/internal/webhook"
)

const maxWebhookBody = 1 << 20

type createTopupRequest struct {
	UserID        string          `json:"userId"`
	Amount        json.RawMessage `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	Contact       gateway.Contact `json:"contact"`
}

type createTopupResponse struct {
	Code           string    `json:"code"`
	RedirectTarget string    `json:"redirectTarget"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type intentResponse struct {
	Code             string    `json:"code"`
	UserID           string    `json:"userId"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	PaymentMethod    string    `json:"paymentMethod"`
	GatewayReference string    `json:"gatewayReference,omitempty"`
	RedirectTarget   string    `json:"redirectTarget,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

type webhookResponse struct {
	Status           string `json:"status"`
	Result           string `json:"result"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

type sweepResponse struct {
	Swept int `json:"swept"`
}

type createUserRequest struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleCreateTopup(w http.ResponseWriter, r *http.Request) {
	var req createTopupRequest
	if err := decodeStrict(r.Body, &req); err != nil {
		s.logEvent("topup_create_failed", map[string]any{
			"reason": "invalid_request",
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	principal := principalFrom(r.Context())
	userID := strings.TrimSpace(req.UserID)
	if userID == "" && !principal.IsAdmin() {
		userID = principal.UserID
	}
	if userID == "" {
		s.logEvent("topup_create_failed", map[string]any{
			"reason": topup.ErrInvalidUserID.Code,
		})
		writeErrorMessage(w, http.StatusBadRequest, topup.ErrInvalidUserID.Code, topup.ErrInvalidUserID.Message)
		return
	}
	if !principal.CanAct(userID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if !s.limiter.Allow(userID) {
		s.logEvent("topup_rate_limited", map[string]any{
			"user_id": userID,
		})
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	issued, err := s.topups.CreateTopup(r.Context(), topup.CreateTopupInput{
		UserID:        userID,
		Amount:        rawAmount(req.Amount),
		PaymentMethod: req.PaymentMethod,
		Contact:       req.Contact,
	})
	if err != nil {
		var verr *topup.ValidationError
		reason := "internal_error"
		switch {
		case errors.As(err, &verr):
			reason = verr.Code
			writeErrorMessage(w, http.StatusBadRequest, verr.Code, err.Error())
		case errors.Is(err, topup.ErrGateway):
			reason = "gateway_error"
			writeError(w, http.StatusBadGateway, "gateway_error")
		default:
			s.logger.Printf("create topup error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		s.logEvent("topup_create_failed", map[string]any{
			"reason":  reason,
			"user_id": userID,
		})
		return
	}

	writeJSON(w, http.StatusCreated, createTopupResponse{
		Code:           issued.Code,
		RedirectTarget: issued.RedirectTarget,
		ExpiresAt:      issued.ExpiresAt,
	})
}

// handleWebhook authenticates the raw body before anything else reads it.
// Nothing is parsed or stored for a request whose signature does not match.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if !s.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)) {
		s.logEvent("webhook_signature_rejected", map[string]any{
			"remote_addr": r.RemoteAddr,
			"body_bytes":  len(body),
		})
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	cb, err := webhook.ParseCallback(body)
	if err != nil {
		s.logEvent("webhook_rejected", map[string]any{
			"reason": "malformed_callback",
		})
		writeErrorMessage(w, http.StatusBadRequest, "malformed_callback", err.Error())
		return
	}

	res, err := s.topups.Reconcile(r.Context(), cb)
	if err != nil {
		switch {
		case errors.Is(err, topup.ErrIntentNotFound):
			writeError(w, http.StatusNotFound, "intent_not_found")
		case errors.Is(err, topup.ErrAmountMismatch):
			writeError(w, http.StatusUnprocessableEntity, "amount_mismatch")
		case errors.Is(err, topup.ErrUnknownOutcome):
			writeError(w, http.StatusBadRequest, "malformed_callback")
		default:
			s.logger.Printf("reconcile error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Status:           "received",
		Result:           res.String(),
		AlreadyProcessed: res == topup.ResultAlreadyTerminal,
	})
}

func (s *Server) handleActiveTopups(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		userID = principal.UserID
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	if !principal.CanAct(userID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	intents, err := s.topups.ListActive(r.Context(), userID)
	if err != nil {
		s.logger.Printf("list active topups error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]intentResponse, 0, len(intents))
	for _, it := range intents {
		out = append(out, toIntentResponse(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTopup(w http.ResponseWriter, r *http.Request) {
	intent, err := s.topups.GetIntent(r.Context(), r.PathValue("code"))
	if err != nil {
		if errors.Is(err, topup.ErrIntentNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.logger.Printf("get topup error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	// Another user's intent is reported as missing.
	if !principalFrom(r.Context()).CanAct(intent.UserID) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	writeJSON(w, http.StatusOK, toIntentResponse(intent))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.topups.SweepExpired(r.Context())
	if err != nil {
		s.logger.Printf("sweep error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Swept: n})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeStrict(r.Body, &req); err != nil {
		s.logEvent("user_create_failed", map[string]any{
			"reason": "invalid_request",
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := validateCreateUser(req); err != nil {
		s.logEvent("user_create_failed", map[string]any{
			"reason":  "invalid_request",
			"user_id": req.ID,
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	user, err := s.users.CreateUser(r.Context(), strings.TrimSpace(req.ID), req.Balance)
	if err != nil {
		reason := "internal_error"
		switch {
		case errors.Is(err, store.ErrUserExists):
			reason = "user_exists"
			writeError(w, http.StatusConflict, "user_exists")
		default:
			s.logger.Printf("create user error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		s.logEvent("user_create_failed", map[string]any{
			"reason":  reason,
			"user_id": req.ID,
			"balance": req.Balance,
		})
		return
	}

	s.logEvent("user_created", map[string]any{
		"user_id": user.ID,
		"balance": user.Balance,
	})
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !principalFrom(r.Context()).CanAct(id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	user, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.logger.Printf("get user error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func validateCreateUser(req createUserRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("invalid id")
	}
	if req.Balance < 0 {
		return errors.New("invalid balance")
	}
	return nil
}

func toIntentResponse(it store.Intent) intentResponse {
	return intentResponse{
		Code:             it.Code,
		UserID:           it.UserID,
		Amount:           it.Amount,
		Status:           it.Status,
		PaymentMethod:    it.PaymentMethod,
		GatewayReference: it.GatewayReference,
		RedirectTarget:   it.RedirectTarget,
		CreatedAt:        it.CreatedAt,
		ExpiresAt:        it.ExpiresAt,
	}
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Balance:   u.Balance,
		CreatedAt: u.CreatedAt,
	}
}

package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"wallet.hh/internal/topup"
)

var ErrMalformedCallback = errors.New("malformed callback")

type callbackPayload struct {
	MerchantOrderID string          `json:"merchantOrderId"`
	ResultCode      string          `json:"resultCode"`
	Status          string          `json:"status"`
	Amount          json.RawMessage `json:"amount"`
	Reference       string          `json:"reference"`
}

// ParseCallback decodes a JSON or form-encoded callback body. It must only be
// called after Verify succeeded on the same bytes.
func ParseCallback(body []byte) (topup.Callback, error) {
	var p callbackPayload
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return topup.Callback{}, fmt.Errorf("%w: empty body", ErrMalformedCallback)
	}

	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return topup.Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
	} else {
		form, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return topup.Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
		p.MerchantOrderID = form.Get("merchantOrderId")
		p.ResultCode = form.Get("resultCode")
		p.Status = form.Get("status")
		p.Reference = form.Get("reference")
		if a := form.Get("amount"); a != "" {
			p.Amount = json.RawMessage(strconv.Quote(a))
		}
	}

	code := strings.TrimSpace(p.MerchantOrderID)
	if code == "" {
		return topup.Callback{}, fmt.Errorf("%w: merchantOrderId is required", ErrMalformedCallback)
	}
	outcome := mapOutcome(p.ResultCode, p.Status)
	if outcome == topup.OutcomeUnknown {
		return topup.Callback{}, fmt.Errorf("%w: unknown result %q/%q", ErrMalformedCallback, p.ResultCode, p.Status)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return topup.Callback{}, err
	}

	return topup.Callback{
		Code:      code,
		Outcome:   outcome,
		Amount:    amount,
		Reference: strings.TrimSpace(p.Reference),
	}, nil
}

func mapOutcome(resultCode, status string) topup.Outcome {
	switch strings.TrimSpace(resultCode) {
	case "00":
		return topup.OutcomeSuccess
	case "01":
		return topup.OutcomePending
	case "02":
		return topup.OutcomeFailure
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "paid", "settlement":
		return topup.OutcomeSuccess
	case "pending":
		return topup.OutcomePending
	case "failed", "failure", "expired", "cancel", "canceled", "cancelled":
		return topup.OutcomeFailure
	}
	return topup.OutcomeUnknown
}

// parseAmount accepts a JSON number or a numeric string. A missing amount is
// reported as zero, meaning "not checked".
func parseAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return 0, nil
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil || amount < 0 {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrMalformedCallback, s)
	}
	return amount, nil
}

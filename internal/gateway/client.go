package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultPath    = "/webapi/api/merchant/v2/inquiry"

	statusCodeOK = "00"
	maxBody      = 1 << 20
	snippetLen   = 256
)

type Config struct {
	BaseURL            string
	Path               string
	MerchantCode       string
	Secret             string
	SignatureAlgorithm string
	CallbackURL        string
	ReturnURL          string
	Timeout            time.Duration
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type InquiryRequest struct {
	OrderCode      string
	Amount         int64
	PaymentMethod  string
	ProductDetails string
	Contact        Contact
	Expiry         time.Duration
}

type InquiryResult struct {
	RedirectTarget string
	Reference      string
}

type inquiryPayload struct {
	MerchantCode    string `json:"merchantCode"`
	PaymentAmount   int64  `json:"paymentAmount"`
	PaymentMethod   string `json:"paymentMethod"`
	MerchantOrderID string `json:"merchantOrderId"`
	ProductDetails  string `json:"productDetails"`
	Email           string `json:"email,omitempty"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	CustomerVAName  string `json:"customerVaName,omitempty"`
	CallbackURL     string `json:"callbackUrl,omitempty"`
	ReturnURL       string `json:"returnUrl,omitempty"`
	ExpiryPeriod    int    `json:"expiryPeriod,omitempty"`
	Signature       string `json:"signature"`
}

type inquiryResponse struct {
	MerchantCode  string `json:"merchantCode"`
	Reference     string `json:"reference"`
	PaymentURL    string `json:"paymentUrl"`
	VANumber      string `json:"vaNumber"`
	QRString      string `json:"qrString"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// Client sends payment inquiries to the gateway. It never retries; a failed
// inquiry is reported to the caller as *Error.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base url is empty")
	}
	if cfg.MerchantCode == "" {
		return nil, errors.New("gateway merchant code is empty")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SignatureAlgorithm == "" {
		cfg.SignatureAlgorithm = AlgorithmHMACSHA256
	}
	if _, err := Sign(cfg.SignatureAlgorithm, "", "", 0, ""); err != nil {
		return nil, fmt.Errorf("%w: %q", err, cfg.SignatureAlgorithm)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) RequestInquiry(ctx context.Context, in InquiryRequest) (InquiryResult, error) {
	const op = "inquiry"

	signature, err := Sign(c.cfg.SignatureAlgorithm, c.cfg.MerchantCode, in.OrderCode, in.Amount, c.cfg.Secret)
	if err != nil {
		return InquiryResult{}, &Error{Op: op, Err: err}
	}

	payload := inquiryPayload{
		MerchantCode:    c.cfg.MerchantCode,
		PaymentAmount:   in.Amount,
		PaymentMethod:   in.PaymentMethod,
		MerchantOrderID: in.OrderCode,
		ProductDetails:  in.ProductDetails,
		Email:           strings.TrimSpace(in.Contact.Email),
		PhoneNumber:     strings.TrimSpace(in.Contact.Phone),
		CustomerVAName:  strings.TrimSpace(in.Contact.Name),
		CallbackURL:     c.cfg.CallbackURL,
		ReturnURL:       c.cfg.ReturnURL,
		ExpiryPeriod:    int(in.Expiry / time.Minute),
		Signature:       signature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return InquiryResult{}, &Error{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return InquiryResult{}, &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return InquiryResult{}, &Error{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return InquiryResult{}, &Error{Op: op, StatusCode: res.StatusCode, Timeout: isTimeout(err), Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return InquiryResult{}, &Error{
			Op:         op,
			StatusCode: res.StatusCode,
			Body:       snippet(raw),
			Err:        ErrRejected,
		}
	}

	var out inquiryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return InquiryResult{}, &Error{
			Op:         op,
			StatusCode: res.StatusCode,
			Body:       snippet(raw),
			Err:        fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}
	if out.StatusCode != statusCodeOK {
		return InquiryResult{}, &Error{
			Op:         op,
			StatusCode: res.StatusCode,
			Body:       snippet(raw),
			Err:        fmt.Errorf("%w: %s %s", ErrRejected, out.StatusCode, out.StatusMessage),
		}
	}

	target := firstNonEmpty(out.PaymentURL, out.QRString, out.VANumber)
	if target == "" {
		return InquiryResult{}, &Error{
			Op:         op,
			StatusCode: res.StatusCode,
			Body:       snippet(raw),
			Err:        fmt.Errorf("%w: no payment target", ErrMalformedResponse),
		}
	}

	return InquiryResult{
		RedirectTarget: target,
		Reference:      strings.TrimSpace(out.Reference),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > snippetLen {
		s = s[:snippetLen]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

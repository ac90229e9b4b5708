// Package apiclient is a typed client for the billing API, used by subctl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// APIError is a non-2xx response of the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
}

// Client talks to the API on behalf of the user the access token belongs to.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
	// stream has no overall timeout; event streams stay open.
	stream *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New parses the user id out of token. The signature is checked by the API,
// not here.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("access token has no subject")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  claims.Subject,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	stream := *c.http
	stream.Timeout = 0
	c.stream = &stream
	return c, nil
}

// UserID is the subject of the access token.
func (c *Client) UserID() string { return c.userID }

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}
	var body dto.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Code != "" {
		apiErr.Code, apiErr.Message = body.Code, body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// FetchSubscription returns model.ErrSubscriptionNotFound when the user has
// no subscription. userID must be the token's subject.
func (c *Client) FetchSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	if userID != c.userID {
		return nil, fmt.Errorf("client is signed in as %s, not %s", c.userID, userID)
	}
	var out dto.SubscriptionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/me", nil, &out); err != nil {
		if IsCode(err, "not_found") {
			return nil, model.ErrSubscriptionNotFound
		}
		return nil, err
	}
	if out.Subscription == nil {
		return nil, model.ErrSubscriptionNotFound
	}
	return out.Subscription, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, plan model.SubscriptionType, returnURL string) (string, error) {
	var out dto.CheckoutResponse
	err := c.do(ctx, http.MethodPost, "/v1/subscriptions/checkout", dto.CheckoutRequest{PriceID: string(plan), ReturnURL: returnURL}, &out)
	return out.URL, err
}

func (c *Client) VerifyCheckoutSession(ctx context.Context, sessionID string) (*model.Subscription, error) {
	var out dto.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions/verify", dto.VerifyRequest{SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	return &model.Subscription{
		OwnerID:            c.userID,
		Status:             out.Status,
		SubscriptionType:   out.SubscriptionType,
		CurrentPeriodStart: out.CurrentPeriodStart,
		CurrentPeriodEnd:   out.CurrentPeriodEnd,
		PriceID:            out.PriceID,
	}, nil
}

func (c *Client) CancelSubscription(ctx context.Context) (*model.Subscription, error) {
	var out dto.CancelResponse
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions/cancel", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &model.Subscription{OwnerID: c.userID, Status: out.Status, CurrentPeriodEnd: out.CurrentPeriodEnd}, nil
}

// ChangePlan returns a checkout URL when the API answers with one instead of
// changing the plan in place.
func (c *Client) ChangePlan(ctx context.Context, plan model.SubscriptionType) (string, error) {
	var out dto.ChangePlanResponse
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions/change-plan", dto.ChangePlanRequest{NewPriceID: string(plan)}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) BillingHistory(ctx context.Context) ([]model.Invoice, error) {
	var out dto.BillingHistoryResponse
	err := c.do(ctx, http.MethodPost, "/v1/billing/history", struct{}{}, &out)
	return out.Invoices, err
}

func (c *Client) InvoicePDF(ctx context.Context, invoiceID string) (string, error) {
	var out dto.InvoicePDFResponse
	err := c.do(ctx, http.MethodPost, "/v1/billing/invoice-pdf", dto.InvoicePDFRequest{InvoiceID: invoiceID}, &out)
	return out.PDFURL, err
}

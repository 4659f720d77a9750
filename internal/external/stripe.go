package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"decodr/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// Metadata keys written on Stripe objects so webhook events can be traced
// back to an account.
const (
	StripeMetaUserID  = "supabase_user_id"
	StripeMetaProduct = "product"
	StripeProductName = "decodr_premium"
)

// Stripe event types the webhook handler acts on.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)

// StripeClientConfig configures a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // defaults to https://api.stripe.com
	Logger    *slog.Logger
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a client with its own "stripe" circuit breaker.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		"decodr-api/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a client over an existing BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CheckoutParams describes a premium subscription checkout.
type CheckoutParams struct {
	CustomerID string
	UserID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// FindOrCreateCustomer returns the Stripe customer tagged with userID,
// creating one when the search finds none. Searching first keeps a retried
// checkout from leaving duplicate customers behind.
func (s *StripeClient) FindOrCreateCustomer(ctx context.Context, userID, email string) (string, error) {
	q := url.Values{}
	q.Set("query", fmt.Sprintf("metadata['%s']:'%s'", StripeMetaUserID, userID))
	q.Set("limit", "1")

	var found stripeList[stripeCustomer]
	if err := s.call(ctx, http.MethodGet, "/v1/customers/search", q, &found, "FindOrCreateCustomer.search"); err != nil {
		return "", err
	}
	if len(found.Data) > 0 {
		return found.Data[0].ID, nil
	}

	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}
	form.Set("metadata["+StripeMetaUserID+"]", userID)

	var created stripeCustomer
	if err := s.call(ctx, http.MethodPost, "/v1/customers", form, &created, "FindOrCreateCustomer.create"); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "stripe customer created",
		"user_id", userID,
		"customer_id", created.ID,
		"request_id", types.GetRequestID(ctx),
	)
	return created.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for one unit of
// PriceID. The user id is attached to both the session and the resulting
// subscription so every lifecycle event can be attributed.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (checkoutURL, sessionID string, err error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", p.CustomerID)
	form.Set("client_reference_id", p.UserID)
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("metadata["+StripeMetaUserID+"]", p.UserID)
	form.Set("metadata["+StripeMetaProduct+"]", StripeProductName)
	form.Set("subscription_data[metadata]["+StripeMetaUserID+"]", p.UserID)
	form.Set("subscription_data[metadata]["+StripeMetaProduct+"]", StripeProductName)

	var session stripeSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session, "CreateCheckoutSession"); err != nil {
		return "", "", err
	}
	return session.URL, session.ID, nil
}

// CreatePortalSession opens the self-service billing portal for a customer.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var session stripeSession
	if err := s.call(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, &session, "CreatePortalSession"); err != nil {
		return "", err
	}
	return session.URL, nil
}

// ListActiveSubscriptions returns the ids of the customer's active
// subscriptions.
func (s *StripeClient) ListActiveSubscriptions(ctx context.Context, customerID string) ([]string, error) {
	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("status", "active")
	q.Set("limit", "100")

	var list stripeList[stripeSubscription]
	if err := s.call(ctx, http.MethodGet, "/v1/subscriptions", q, &list, "ListActiveSubscriptions"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Data))
	for _, sub := range list.Data {
		ids = append(ids, sub.ID)
	}
	return ids, nil
}

// CancelSubscription cancels a subscription immediately.
func (s *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	var sub stripeSubscription
	return s.call(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub, "CancelSubscription")
}

// call sends one request. For GET and DELETE params go in the query string;
// otherwise they are form-encoded in the body. A 2xx body is decoded into out.
func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, out any, operation string) error {
	reqURL := s.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, operation+": failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapStripeError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.handleErrorResponse(ctx, resp, operation)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, operation+": failed to decode Stripe response", err)
	}
	return nil
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

func (s *StripeClient) handleErrorResponse(ctx context.Context, resp *http.Response, operation string) error {
	var stripeErr stripeErrorResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(body, &stripeErr)

	s.logger.WarnContext(ctx, "stripe request rejected",
		"operation", operation,
		"status", resp.StatusCode,
		"stripe_type", stripeErr.Error.Type,
		"stripe_code", stripeErr.Error.Code,
		"stripe_param", stripeErr.Error.Param,
		"request_id", types.GetRequestID(ctx),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, operation+": Stripe rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, operation+": Stripe server error", nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message), nil,
			map[string]any{"stripe_code": stripeErr.Error.Code},
		)
	}
}

func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, operation+": Stripe request failed", err)
}

type stripeList[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StripeVerifier checks Stripe-Signature headers with the official webhook
// package (HMAC-SHA256, default 300s tolerance).
type StripeVerifier struct{}

func (StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

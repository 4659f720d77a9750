package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

var (
	stripeKeyPattern = regexp.MustCompile(`^sk_(test|live)_[0-9a-zA-Z]{24,}$`)
	priceIDPattern   = regexp.MustCompile(`^price_[0-9a-zA-Z]+$`)
)

const checkTimeout = 10 * time.Second

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ConnectFunc opens and closes a database connection to prove the URL works.
type ConnectFunc func(ctx context.Context, dsn string) error

func pgxConnect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// Checker validates operator input, contacting the real service where a
// cheap read-only call exists.
type Checker struct {
	http          HTTPClient
	connect       ConnectFunc
	openAIBaseURL string
	stripeBaseURL string
}

func NewChecker() *Checker {
	return &Checker{
		http:          &http.Client{Timeout: checkTimeout},
		connect:       pgxConnect,
		openAIBaseURL: "https://api.openai.com/v1",
		stripeBaseURL: "https://api.stripe.com",
	}
}

func (c *Checker) NonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("value must not be empty")
	}
	return nil
}

func (c *Checker) HTTPSURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return fmt.Errorf("not a valid URL: %q", v)
	}
	if u.Scheme != "https" {
		return errors.New("URL must use https")
	}
	return nil
}

func (c *Checker) DatabaseURL(v string) error {
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("scheme must be postgres or postgresql, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("database URL has no host")
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if err := c.connect(ctx, v); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	return nil
}

func (c *Checker) OpenAIKey(v string) error {
	if !strings.HasPrefix(v, "sk-") {
		return errors.New("OpenAI keys start with sk-")
	}
	return c.probe(c.openAIBaseURL+"/models", v)
}

func (c *Checker) StripeKey(v string) error {
	if !stripeKeyPattern.MatchString(v) {
		return errors.New("expected sk_test_ or sk_live_ followed by at least 24 characters")
	}
	return c.probe(c.stripeBaseURL+"/v1/balance", v)
}

func (c *Checker) WebhookSecret(v string) error {
	if !strings.HasPrefix(v, "whsec_") || len(v) <= len("whsec_") {
		return errors.New("webhook secrets start with whsec_")
	}
	return nil
}

func (c *Checker) PriceID(v string) error {
	if !priceIDPattern.MatchString(v) {
		return errors.New("expected a Stripe price ID like price_123")
	}
	return nil
}

func (c *Checker) RedisURL(v string) error {
	if _, err := redis.ParseURL(v); err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	return nil
}

// probe issues an authenticated GET and treats 401/403 as a bad key.
func (c *Checker) probe(endpoint, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("key rejected (HTTP %d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, endpoint)
	}
	return nil
}

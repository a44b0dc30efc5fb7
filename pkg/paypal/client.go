package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/lunamail/billing-backend/pkg/config"
	"github.com/lunamail/billing-backend/pkg/logger"
)

// ErrNotFound is returned when PayPal reports 404 for a resource id.
var ErrNotFound = errors.New("paypal: resource not found")

// Client is a minimal REST client for the PayPal billing and payments APIs.
// Access tokens are cached until shortly before expiry.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client
	logger       *logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient validates credentials and returns a PayPal client.
func NewClient(cfg config.PayPalConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal client id and secret are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("paypal base url is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logg,
	}, nil
}

// GetSubscription fetches a billing subscription by id.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	path := "/v1/billing/subscriptions/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListTransactions returns the captured transactions of a subscription in
// the given window.
func (c *Client) ListTransactions(ctx context.Context, subscriptionID string, start, end time.Time) ([]Transaction, error) {
	query := url.Values{}
	query.Set("start_time", start.UTC().Format(time.RFC3339))
	query.Set("end_time", end.UTC().Format(time.RFC3339))
	path := fmt.Sprintf("/v1/billing/subscriptions/%s/transactions?%s",
		url.PathEscape(subscriptionID), query.Encode())

	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// CancelSubscription cancels a billing subscription. PayPal answers 204 on
// success and 422 when the subscription is already in a terminal state.
func (c *Client) CancelSubscription(ctx context.Context, id, reason string) error {
	body := map[string]string{"reason": reason}
	path := fmt.Sprintf("/v1/billing/subscriptions/%s/cancel", url.PathEscape(id))
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// GetRefund fetches a refund object by id.
func (c *Client) GetRefund(ctx context.Context, id string) (*Refund, error) {
	var ref Refund
	path := "/v2/payments/refunds/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// VerifyWebhookSignature asks PayPal to verify a webhook delivery. It must
// be called before the event payload is trusted.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	if c.webhookID == "" {
		return false, errors.New("paypal webhook id is not configured")
	}
	request := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", request, &out); err != nil {
		return false, err
	}
	return out.VerificationStatus == "SUCCESS", nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("paypal: token request failed with %d: %s", resp.StatusCode, payload)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("paypal: decode token response: %w", err)
	}

	c.token = out.AccessToken
	// renew one minute early to avoid using a token at the edge of expiry
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

// doJSON performs an authenticated request, retrying transient upstream
// failures with exponential backoff.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paypal: encode request body: %w", err)
		}
		payload = encoded
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("paypal: %s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			// token may have been revoked; drop the cache and retry
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			return retry.RetryableError(fmt.Errorf("paypal: %s %s: unauthorized", method, path))
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("paypal: %s %s: upstream %d", method, path, resp.StatusCode))
		case resp.StatusCode >= 400:
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("paypal: %s %s failed with %d: %s", method, path, resp.StatusCode, detail)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("paypal: decode response: %w", err)
		}
		return nil
	})
}

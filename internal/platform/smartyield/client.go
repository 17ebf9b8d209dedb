// Package smartyield is the REST client for the Smart Yield data API, the
// source of pool listings and per-account senior redemption history.
package smartyield

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/syport/internal/domain"
)

// Config configures the API client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second; <= 0 disables limiting
	Burst     int
}

// Client is the Smart Yield data API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client.
//
// BaseURL is the API root, e.g. "https://api.barnbridge.com".
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// FetchPools returns every pool listed by the API.
func (c *Client) FetchPools(ctx context.Context) ([]domain.Pool, error) {
	params := url.Values{}
	params.Set("originator", domain.FilterAll)
	params.Set("underlyingSymbol", domain.FilterAll)

	body, err := c.doGet(ctx, "/api/smartyield/pools?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("smartyield: fetch pools: %w", err)
	}

	var resp poolsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("smartyield: decode pools: %w", err)
	}

	pools := make([]domain.Pool, 0, len(resp.Data))
	for _, p := range resp.Data {
		pools = append(pools, p.ToDomain())
	}
	return pools, nil
}

// FetchSeniorRedeems returns one page of the account's senior redemptions
// and the total number of matching redemptions.
func (c *Client) FetchSeniorRedeems(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	q = q.Normalized()
	if q.Account == "" {
		return domain.RedeemPage{}, fmt.Errorf("smartyield: fetch senior redeems: %w: empty account", domain.ErrInvalidQuery)
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.PageSize))
	params.Set("originator", q.Originator)
	params.Set("token", q.Token)

	path := fmt.Sprintf("/api/smartyield/users/%s/redeems/senior?%s", url.PathEscape(q.Account), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.RedeemPage{}, fmt.Errorf("smartyield: fetch senior redeems %s: %w", q.Account, err)
	}

	var resp redeemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.RedeemPage{}, fmt.Errorf("smartyield: decode senior redeems: %w", err)
	}

	page := domain.RedeemPage{
		Data:  make([]domain.SeniorRedeem, 0, len(resp.Data)),
		Count: resp.Meta.Count,
	}
	for _, r := range resp.Data {
		page.Data = append(page.Data, r.ToDomain())
	}
	return page, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstream, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

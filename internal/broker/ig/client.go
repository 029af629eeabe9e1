// Package ig implements the broker client against the IG dealing REST API.
//
// A session is opened with POST /session; the CST and X-SECURITY-TOKEN
// response headers authenticate every later call together with the API key.
// All HTTP traffic runs through a circuit breaker so a dead gateway fails
// fast instead of stalling a run on per-call timeouts.
package ig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/domain"
	"cfd-trader/internal/retry"
)

// Gateway endpoints by account type.
const (
	DemoBaseURL = "https://demo-api.ig.com/gateway/deal"
	LiveBaseURL = "https://api.ig.com/gateway/deal"
)

// Default configuration values.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultBreakerInterval = 60 * time.Second
	DefaultBreakerTimeout  = 30 * time.Second
	defaultTripFailures    = 5
)

// Credentials identify a dealing account.
type Credentials struct {
	AccountType string // "DEMO" or "LIVE"
	APIKey      string
	Identifier  string
	Password    string
}

// BaseURL resolves the gateway for the account type; anything that is not
// explicitly LIVE uses the demo gateway.
func (c Credentials) BaseURL() string {
	if strings.EqualFold(c.AccountType, "LIVE") {
		return LiveBaseURL
	}
	return DemoBaseURL
}

// Client is the REST implementation of broker.Client.
type Client struct {
	creds       Credentials
	baseURL     string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	loginPolicy retry.Policy
	log         zerolog.Logger

	mu            sync.Mutex
	cst           string
	securityToken string
	accountID     string
}

var _ broker.Client = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithBaseURL overrides the gateway URL derived from the account type.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithLoginPolicy sets the retry policy for session login.
func WithLoginPolicy(p retry.Policy) Option {
	return func(c *Client) { c.loginPolicy = p }
}

// New creates a dealing client. Call Login before any other method.
func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:       creds,
		baseURL:     creds.BaseURL(),
		client:      &http.Client{Timeout: DefaultTimeout},
		loginPolicy: retry.Backoff{Count: 3, Initial: 1 * time.Second, Max: 5 * time.Second, Mult: 2.0},
		log:         zerolog.Nop(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "ig-rest",
		Interval: DefaultBreakerInterval,
		Timeout:  DefaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login opens a dealing session, retrying transient failures, and captures
// the auth tokens from the response headers.
func (c *Client) Login(ctx context.Context) error {
	return retry.Do(ctx, c.loginPolicy, c.login)
}

func (c *Client) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"identifier": c.creds.Identifier,
		"password":   c.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("X-IG-API-KEY", c.creds.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", "2")

	resp, err := c.send(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("login: status %d: %s", resp.status, truncateBody(resp.body))
	}

	cst := resp.header.Get("CST")
	securityToken := resp.header.Get("X-SECURITY-TOKEN")
	if cst == "" || securityToken == "" {
		return fmt.Errorf("login: session response missing auth tokens")
	}

	var sess sessionResponse
	if err := json.Unmarshal(resp.body, &sess); err != nil {
		return fmt.Errorf("login: decode session: %w", err)
	}
	accountID := sess.CurrentAccountID
	if accountID == "" {
		accountID = sess.AccountID
	}

	c.mu.Lock()
	c.cst = cst
	c.securityToken = securityToken
	c.accountID = accountID
	c.mu.Unlock()

	c.log.Info().Str("account_id", accountID).Msg("dealing session opened")
	return nil
}

// GetBars fetches up to max candles and returns them in ascending time order.
func (c *Client) GetBars(ctx context.Context, epic, resolution string, max int) ([]domain.Bar, error) {
	path := fmt.Sprintf("/prices/%s?resolution=%s&max=%d",
		url.PathEscape(epic), url.QueryEscape(resolution), max)

	var payload pricesResponse
	if err := c.get(ctx, path, "3", &payload); err != nil {
		return nil, &broker.MarketDataError{Op: "prices", Err: err}
	}
	return normalizeBars(payload.Prices), nil
}

// GetMarketMetadata fetches and flattens the market details for an epic.
func (c *Client) GetMarketMetadata(ctx context.Context, epic string) (*domain.MarketMetadata, error) {
	var payload marketResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(epic), "3", &payload); err != nil {
		return nil, &broker.MarketDataError{Op: "markets", Err: err}
	}
	return normalizeMarket(epic, &payload), nil
}

// GetOpenPositions lists open positions. Failures surface as ErrUnavailable
// so callers apply their documented unavailability policy.
func (c *Client) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	var payload positionsResponse
	if err := c.get(ctx, "/positions", "2", &payload); err != nil {
		return nil, fmt.Errorf("open positions: %w: %w", broker.ErrUnavailable, err)
	}
	return normalizePositions(&payload), nil
}

// GetAccountBalance reads the balance from the current session. Any failure,
// including a response without account info, reports ErrUnavailable.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	var sess sessionResponse
	if err := c.get(ctx, "/session", "1", &sess); err != nil {
		return 0, fmt.Errorf("account balance: %w: %w", broker.ErrUnavailable, err)
	}
	if sess.AccountInfo == nil || sess.AccountInfo.Balance == nil {
		return 0, fmt.Errorf("account balance: session has no account info: %w", broker.ErrUnavailable)
	}
	return *sess.AccountInfo.Balance, nil
}

// SubmitOrder posts a market order and returns the deal reference. A failed
// submission is terminal; the caller must not retry it.
func (c *Client) SubmitOrder(ctx context.Context, order *domain.OrderRequest) (string, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return "", &broker.SubmissionError{Err: fmt.Errorf("marshal order: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/positions/otc", bytes.NewReader(body))
	if err != nil {
		return "", &broker.SubmissionError{Err: fmt.Errorf("create order request: %w", err)}
	}
	c.authHeaders(req, "2")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return "", &broker.SubmissionError{Err: err}
	}
	if resp.status != http.StatusOK {
		return "", &broker.SubmissionError{StatusCode: resp.status, Body: truncateBody(resp.body)}
	}

	var out dealReferenceResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", &broker.SubmissionError{Err: fmt.Errorf("decode order response: %w", err)}
	}
	if out.DealReference == "" {
		return "", &broker.SubmissionError{Err: fmt.Errorf("order response missing dealReference")}
	}
	return out.DealReference, nil
}

// GetConfirmation polls the confirmation endpoint for a deal reference.
func (c *Client) GetConfirmation(ctx context.Context, dealReference string) (*domain.Confirmation, error) {
	var conf domain.Confirmation
	if err := c.get(ctx, "/confirms/"+url.PathEscape(dealReference), "1", &conf); err != nil {
		return nil, fmt.Errorf("confirmation %s: %w", dealReference, err)
	}
	return &conf, nil
}

// get performs an authenticated GET and decodes a 200 response into out.
func (c *Client) get(ctx context.Context, path, version string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authHeaders(req, version)

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.status, truncateBody(resp.body))
	}
	if out != nil {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) authHeaders(req *http.Request, version string) {
	c.mu.Lock()
	cst, securityToken, accountID := c.cst, c.securityToken, c.accountID
	c.mu.Unlock()

	req.Header.Set("X-IG-API-KEY", c.creds.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", version)
	if cst != "" {
		req.Header.Set("CST", cst)
	}
	if securityToken != "" {
		req.Header.Set("X-SECURITY-TOKEN", securityToken)
	}
	// Required by the prices endpoint on some accounts.
	if accountID != "" {
		req.Header.Set("IG-ACCOUNT-ID", accountID)
	}
}

// apiResponse carries a fully-read HTTP exchange out of the breaker.
type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

// send executes the request through the circuit breaker. Transport errors
// and 5xx responses count as failures; 4xx responses do not trip the
// breaker, the status is returned for the caller to classify.
func (c *Client) send(req *http.Request) (*apiResponse, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, truncateBody(body))
		}
		return &apiResponse{status: resp.StatusCode, header: resp.Header, body: body}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*apiResponse), nil
}

func truncateBody(b []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

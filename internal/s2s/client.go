// Package s2s implements the authenticated service-to-service channel
// between the credential issuer and the ballot recorder. The channel carries
// credential hashes and aggregates only; no voter identity ever crosses it.
package s2s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/auth"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ballot"
)

// Client calls the peer service's /s2s endpoints, authenticating with the
// shared static key and retrying transient failures with bounded backoff.
type Client struct {
	baseURL     string
	key         string
	httpClient  *http.Client
	maxAttempts int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// NewClient creates a client for the peer at baseURL.
func NewClient(baseURL, key string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		key:         key,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type registerRequest struct {
	CredentialHash string    `json:"credential_hash"`
	ElectionID     string    `json:"election_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RegisterCredential registers a credential hash with the recorder. The
// recorder treats duplicate registrations as success, so a retry after a
// lost ack cannot create inconsistent registry entries.
func (c *Client) RegisterCredential(ctx context.Context, credentialHash, electionID string, expiresAt time.Time) error {
	body := registerRequest{
		CredentialHash: credentialHash,
		ElectionID:     electionID,
		ExpiresAt:      expiresAt.UTC(),
	}
	return c.do(ctx, http.MethodPost, "/s2s/register-credential", body, nil)
}

// FetchResults pulls the aggregate tally for an election from the recorder.
func (c *Client) FetchResults(ctx context.Context, electionID string) (ballot.Tally, error) {
	var tally ballot.Tally
	path := "/s2s/results?" + url.Values{"election_id": {electionID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &tally); err != nil {
		return ballot.Tally{}, err
	}
	return tally, nil
}

type redeemedResponse struct {
	Redeemed map[string]time.Time `json:"redeemed"`
}

// ListRedeemed pulls the used credential hashes for an election, feeding the
// issuer's reconciliation sweep.
func (c *Client) ListRedeemed(ctx context.Context, electionID string) (map[string]time.Time, error) {
	var resp redeemedResponse
	path := "/s2s/redeemed?" + url.Values{"election_id": {electionID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Redeemed == nil {
		resp.Redeemed = map[string]time.Time{}
	}
	return resp.Redeemed, nil
}

type redemptionReport struct {
	CredentialHash string    `json:"credential_hash"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

// ReportRedemption tells the issuer a credential hash was spent. Best effort:
// callers fire it asynchronously and a failure never touches the recorded
// ballot, since the reconciliation pull catches anything lost here.
func (c *Client) ReportRedemption(ctx context.Context, credentialHash string, redeemedAt time.Time) error {
	body := redemptionReport{CredentialHash: credentialHash, RedeemedAt: redeemedAt.UTC()}
	return c.do(ctx, http.MethodPost, "/s2s/redemption", body, nil)
}

// do executes one S2S call with bounded exponential backoff. Only transport
// errors and 5xx responses are retried; a 4xx is a contract violation and
// fails immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.S2SKeyHeader, c.key)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		retry, err := c.handle(resp, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return fmt.Errorf("s2s %s %s: %w", method, path, lastErr)
}

// handle consumes one response. The bool reports whether a retry is worthwhile.
func (c *Client) handle(resp *http.Response, out any) (bool, error) {
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("peer returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("peer rejected request: %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}

// Package agent is the client of the agent admin API the endorser drives.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
)

const (
	defaultTimeout = 30 * time.Second
	maxBody        = 10 << 20

	endorserJob = "TRANSACTION_ENDORSER"
)

// Config configures the client.
type Config struct {
	URL         string
	APIKey      string
	WalletToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client calls the agent admin API.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// New creates a client for the admin API at cfg.URL.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("agent admin url is empty")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.Wrapf(err, "invalid agent admin url %q", cfg.URL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		token:   cfg.WalletToken,
		http:    hc,
	}, nil
}

// PublicDID returns the public DID of the endorser's wallet.
func (c *Client) PublicDID(ctx context.Context) (string, error) {
	var resp struct {
		Result *struct {
			DID string `json:"did"`
		} `json:"result"`
	}
	if err := c.call(ctx, http.MethodGet, "wallet/did/public", nil, &resp); err != nil {
		return "", err
	}
	if resp.Result == nil || resp.Result.DID == "" {
		return "", errors.Wrap(dto.ErrNotFound, "endorser wallet has no public DID")
	}
	return resp.Result.DID, nil
}

// StatusConfig returns the agent's own configuration.
func (c *Client) StatusConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	var resp struct {
		Config map[string]json.RawMessage `json:"config"`
	}
	if err := c.call(ctx, http.MethodGet, "status/config", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Config == nil {
		resp.Config = map[string]json.RawMessage{}
	}
	return resp.Config, nil
}

// ConnectionMetadata returns the metadata the agent keeps for a connection.
func (c *Client) ConnectionMetadata(ctx context.Context, connectionID string) (map[string]json.RawMessage, error) {
	var resp struct {
		Results map[string]json.RawMessage `json:"results"`
	}
	if err := c.call(ctx, http.MethodGet, "connections/"+url.PathEscape(connectionID)+"/metadata", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = map[string]json.RawMessage{}
	}
	return resp.Results, nil
}

// AcceptConnection accepts a connection request with the protocol it arrived on.
func (c *Client) AcceptConnection(ctx context.Context, connectionID string, protocol dto.ConnectionProtocol) error {
	path := "connections/" + url.PathEscape(connectionID) + "/accept-request"
	if protocol == dto.ProtocolDIDExchange {
		path = "didexchange/" + url.PathEscape(connectionID) + "/accept-request"
	}
	return c.call(ctx, http.MethodPost, path, nil, nil)
}

// SetEndorserRole makes the agent act as endorser on a connection.
func (c *Client) SetEndorserRole(ctx context.Context, connectionID string) error {
	q := url.Values{"transaction_my_job": {endorserJob}}
	return c.call(ctx, http.MethodPost, "transactions/"+url.PathEscape(connectionID)+"/set-endorser-role", q, nil)
}

// EndorseTransaction endorses a transaction and returns the agent's record of it.
func (c *Client) EndorseTransaction(ctx context.Context, transactionID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.call(ctx, http.MethodPost, "transactions/"+url.PathEscape(transactionID)+"/endorse", nil, &resp)
	return resp, err
}

// RefuseTransaction refuses a transaction and returns the agent's record of it.
func (c *Client) RefuseTransaction(ctx context.Context, transactionID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.call(ctx, http.MethodPost, "transactions/"+url.PathEscape(transactionID)+"/refuse", nil, &resp)
	return resp, err
}

// GetSchema looks a schema up by its ledger sequence number (or id).
func (c *Client) GetSchema(ctx context.Context, seqNo string) (*dto.Schema, error) {
	var resp struct {
		Schema *dto.Schema `json:"schema"`
	}
	if err := c.call(ctx, http.MethodGet, "schemas/"+url.PathEscape(seqNo), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Schema == nil || resp.Schema.ID == "" {
		return nil, errors.Wrapf(dto.ErrExternalAgent, "schema %s not found on ledger", seqNo)
	}
	return resp.Schema, nil
}

// call sends a request and decodes the JSON response into out, if non-nil. Every
// failure is reported as dto.ErrExternalAgent.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.Wrapf(dto.ErrExternalAgent, "build %s %s: %v", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log.Debugf("agent %s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(dto.ErrExternalAgent, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrapf(dto.ErrExternalAgent, "read %s %s: %v", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(dto.ErrExternalAgent, "%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(dto.ErrExternalAgent, "decode %s %s: %v", method, path, err)
	}
	return nil
}

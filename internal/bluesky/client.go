// Package bluesky is a minimal authenticated XRPC client for the historical
// backfill driver: it logs into a PDS, pages com.atproto.sync.listRepos, and
// fetches each repo's current state as a CAR via com.atproto.sync.getRepo.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultHost = "https://bsky.network"

// Client is a thin HTTP wrapper over the sync XRPC endpoints. Login is
// optional: public relays serve listRepos/getRepo without auth, but a PDS
// operating under auth can still be targeted the same way.
type Client struct {
	host       string
	httpClient *http.Client

	// populated after Login
	accessJwt string
	did       string
}

// NewClient creates a new sync API client. If host is empty, it defaults to
// the production relay.
func NewClient(host string) *Client {
	if host == "" {
		host = defaultHost
	}
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Login authenticates with a PDS and stores the session token. Use an App
// Password, not the account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// RepoInfo is one entry of a listRepos page.
type RepoInfo struct {
	DID    string `json:"did"`
	Head   string `json:"head"`
	Rev    string `json:"rev"`
	Active bool   `json:"active"`
}

// ListReposOutput is one page of com.atproto.sync.listRepos.
type ListReposOutput struct {
	Cursor string     `json:"cursor"`
	Repos  []RepoInfo `json:"repos"`
}

// ListRepos fetches one page of repos known to the host, starting after
// cursor (empty for the first page). limit is capped at 1000 upstream.
func (c *Client) ListRepos(ctx context.Context, cursor string, limit int) (*ListReposOutput, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var out ListReposOutput
	if err := c.get(ctx, "/xrpc/com.atproto.sync.listRepos", q, &out); err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return &out, nil
}

// GetRepo fetches did's full repo as a CAR file.
func (c *Client) GetRepo(ctx context.Context, did string) ([]byte, error) {
	q := url.Values{}
	q.Set("did", did)

	body, err := c.getRaw(ctx, "/xrpc/com.atproto.sync.getRepo", q)
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", did, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.getRaw(ctx, path, query)
	if err != nil {
		return err
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

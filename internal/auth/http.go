package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"relayhub/internal/domain"
)

// ErrNoRefreshToken reports a refresh attempt without a configured token.
var ErrNoRefreshToken = errors.New("no refresh token configured")

// Client talks to the central auth provider over JSON/HTTP.
type Client struct {
	base string
	http *http.Client

	mu           sync.Mutex
	refreshToken string
	save         func(string) // invoked with each rotated refresh token
}

// NewClient returns a Client for the provider at base. save may be nil; when
// set it is called with every rotated refresh token.
func NewClient(base, refreshToken string, httpClient *http.Client, save func(string)) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient, refreshToken: refreshToken, save: save}
}

// Resolve maps a connection token to a durable identity record.
func (c *Client) Resolve(ctx context.Context, token domain.Token) (domain.UserRecord, error) {
	var out struct {
		Username domain.Username `json:"username"`
		Attrs    map[string]any  `json:"attrs"`
		Error    string          `json:"error"`
	}
	in := struct {
		QueryToken domain.Token `json:"queryToken"`
	}{QueryToken: token}
	if err := c.post(ctx, "/who-is", in, &out); err != nil {
		return domain.UserRecord{}, err
	}
	if out.Error != "" {
		return domain.UserRecord{}, fmt.Errorf("resolve token: %s", out.Error)
	}
	return domain.UserRecord{Username: out.Username, Attrs: out.Attrs}, nil
}

// Refresh rotates the upstream session credential.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	current := c.refreshToken
	c.mu.Unlock()
	if current == "" {
		return ErrNoRefreshToken
	}

	var out struct {
		RefreshToken string `json:"refreshToken"`
		Error        string `json:"error"`
	}
	in := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: current}
	if err := c.post(ctx, "/refresh", in, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return fmt.Errorf("refresh credential: %s", out.Error)
	}
	if out.RefreshToken != "" {
		c.mu.Lock()
		c.refreshToken = out.RefreshToken
		save := c.save
		c.mu.Unlock()
		if save != nil {
			save(out.RefreshToken)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("auth post %s: %s", c.base+path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var (
	_ domain.IdentityResolver    = (*Client)(nil)
	_ domain.CredentialRefresher = (*Client)(nil)
)

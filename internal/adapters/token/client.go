// Package token fetches join credentials from the token service over HTTP.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoleFormat selects how the role is encoded in the request body.
type RoleFormat string

const (
	RoleAsString RoleFormat = "string"
	RoleAsInt    RoleFormat = "int"
)

var ErrUnexpectedStatus = errors.New("unexpected token service status")

const maxBody = 64 << 10

type Config struct {
	URL        string
	Timeout    time.Duration
	RoleFormat RoleFormat
	HTTPClient *http.Client
}

// Client implements core.TokenProvider.
type Client struct {
	url        string
	roleFormat RoleFormat
	httpClient *http.Client
}

var _ core.TokenProvider = (*Client)(nil)

func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if cfg.RoleFormat == "" {
		cfg.RoleFormat = RoleAsString
	}
	return &Client{url: cfg.URL, roleFormat: cfg.RoleFormat, httpClient: hc}
}

type tokenRequest struct {
	ChannelName string     `json:"channel_name"`
	UID         domain.UID `json:"uid"`
	Role        any        `json:"role"`
}

type tokenResponse struct {
	Token *string `json:"token"`
}

func (c *Client) encodeRole(r domain.Role) any {
	if c.roleFormat == RoleAsInt {
		return int(r)
	}
	return r.String()
}

// FetchToken posts {channel_name, uid, role} and returns the credential.
// A body without a string token yields core.ErrMissingToken.
func (c *Client) FetchToken(ctx context.Context, cfg domain.SessionConfig) (domain.JoinCredential, error) {
	body, err := json.Marshal(tokenRequest{
		ChannelName: string(cfg.ChannelName),
		UID:         cfg.LocalIdentity,
		Role:        c.encodeRole(cfg.Role),
	})
	if err != nil {
		return domain.JoinCredential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.JoinCredential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.JoinCredential{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.JoinCredential{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.JoinCredential{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil || tr.Token == nil || *tr.Token == "" {
		log.Warn().
			Str("module", "adapters.token").
			Str("channel", string(cfg.ChannelName)).
			Int("body_len", len(data)).
			Msg("token missing from response")
		return domain.JoinCredential{}, core.ErrMissingToken
	}

	log.Debug().
		Str("module", "adapters.token").
		Str("channel", string(cfg.ChannelName)).
		Stringer("uid", cfg.LocalIdentity).
		Msg("token fetched")
	return domain.JoinCredential{Token: *tr.Token, IssuedFor: cfg}, nil
}

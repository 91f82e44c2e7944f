package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

const brokersPrefix = "/api/integrations/brokers"

// Health checks the sidecar's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "healthy" {
		return errors.Errorf("backend unhealthy: %q", out.Status)
	}
	return nil
}

// Brokers returns the catalog and connection state the backend holds. Used
// at startup to restore a session that survived a client restart.
func (c *Client) Brokers(ctx context.Context) (*BrokersStatus, error) {
	var out BrokersStatus
	if err := c.do(ctx, http.MethodGet, brokersPrefix, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConnectTWS(ctx context.Context, req TWSConnectRequest) (*ConnectResult, error) {
	var out ConnectResult
	if err := c.do(ctx, http.MethodPost, brokersPrefix+"/connect", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*ConnectResult, error) {
	var out ConnectResult
	if err := c.do(ctx, http.MethodPost, brokersPrefix+"/login", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) KeyAuth(ctx context.Context, req KeyAuthRequest) (*ConnectResult, error) {
	var out ConnectResult
	if err := c.do(ctx, http.MethodPost, brokersPrefix+"/key-auth", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OAuthStart(ctx context.Context, req OAuthStartRequest) (*OAuthStartResult, error) {
	var out OAuthStartResult
	if err := c.do(ctx, http.MethodPost, brokersPrefix+"/oauth/start", req, &out); err != nil {
		return nil, err
	}
	if out.AuthURL == "" {
		return nil, errors.New("backend returned no auth_url")
	}
	return &out, nil
}

func (c *Client) OAuthExchange(ctx context.Context, req OAuthExchangeRequest) (*ConnectResult, error) {
	var out ConnectResult
	if err := c.do(ctx, http.MethodPost, brokersPrefix+"/oauth/exchange", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Disconnect(ctx context.Context, broker string) error {
	path := fmt.Sprintf("%s/disconnect/%s", brokersPrefix, url.PathEscape(broker))
	var out disconnectResponse
	return c.do(ctx, http.MethodPost, path, nil, &out)
}

func (c *Client) Accounts(ctx context.Context, broker string) ([]Account, error) {
	path := fmt.Sprintf("%s/%s/accounts", brokersPrefix, url.PathEscape(broker))
	var out accountsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

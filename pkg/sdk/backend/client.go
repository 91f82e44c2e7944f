// Package backend is the HTTP client for the local trading backend. The
// backend owns the actual broker protocols; this client only moves JSON.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
)

// API is the backend surface the desk core depends on. *Client implements
// it; tests use the Mock in this package.
type API interface {
	Health(ctx context.Context) error
	Brokers(ctx context.Context) (*BrokersStatus, error)
	ConnectTWS(ctx context.Context, req TWSConnectRequest) (*ConnectResult, error)
	Login(ctx context.Context, req LoginRequest) (*ConnectResult, error)
	KeyAuth(ctx context.Context, req KeyAuthRequest) (*ConnectResult, error)
	OAuthStart(ctx context.Context, req OAuthStartRequest) (*OAuthStartResult, error)
	OAuthExchange(ctx context.Context, req OAuthExchangeRequest) (*ConnectResult, error)
	Disconnect(ctx context.Context, broker string) error
	Accounts(ctx context.Context, broker string) ([]Account, error)
}

// APIError carries a non-2xx backend response. Detail is the backend's
// human-readable reason when it sends one.
type APIError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend %s: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend %s", e.Status)
}

type Client struct {
	rc  *resty.Client
	log *logrus.Entry
}

var _ API = (*Client)(nil)

// NewClient builds a client for the given base URL. resty picks up proxy
// settings from the environment on its own.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// Honor Retry-After on rate limits.
			if resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{
		rc:  rc,
		log: logger.WithField("component", "backend"),
	}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.rc.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "godesk-client")
	return r
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	r := c.newRequest(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}

	c.log.Debugf("%s %s", method, path)

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = r.Get(path)
	case http.MethodPost:
		resp, err = r.Post(path)
	default:
		return fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsSuccess() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	var payload struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(resp.Body(), &payload) == nil && payload.Detail != "" {
		apiErr.Detail = payload.Detail
	} else if b := strings.TrimSpace(string(resp.Body())); b != "" {
		apiErr.Detail = b
	}
	return apiErr
}

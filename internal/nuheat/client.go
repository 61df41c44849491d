package nuheat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
)

// A TokenSource provides valid access tokens for API calls. Implemented by Authenticator.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, rejected string) (string, error)
}

const clientTimeout = 15 * time.Second

// Client is a typed façade over the Conductor API. All calls carry a valid
// access token; if the server rejects it anyway, the call refreshes the token
// once and retries once before giving up, so a permanently invalid credential
// can't cause a retry loop.
type Client struct {
	TokenSource
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a Client using auth as its token source.
func NewClient(auth TokenSource, logger *slog.Logger, options ...ClientOption) *Client {
	c := Client{
		TokenSource: auth,
		baseURL:     ServerURL,
		httpClient:  &http.Client{Timeout: clientTimeout},
		logger:      logger,
	}
	for _, option := range options {
		option(&c)
	}
	return &c
}

type ClientOption func(*Client)

// WithBaseURL overrides the API server URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithRequestMetrics instruments the client's transport with the provided request metrics.
func WithRequestMetrics(m metrics.RequestMetrics) ClientOption {
	return func(c *Client) {
		rt := c.httpClient.Transport
		if rt == nil {
			rt = http.DefaultTransport
		}
		c.httpClient.Transport = roundtripper.New(
			roundtripper.WithRequestMetrics(m),
			roundtripper.WithRoundTripper(rt),
		)
	}
}

// NewRequestMetrics returns request metrics for a Client, with the variable
// part of the request path collapsed so serial numbers don't blow up label
// cardinality.
func NewRequestMetrics(namespace, subsystem string) metrics.RequestMetrics {
	return metrics.NewRequestMetrics(metrics.Options{
		Namespace: namespace,
		Subsystem: subsystem,
		LabelValues: func(request *http.Request, statusCode int) (string, string, string) {
			path := request.URL.Path
			for _, prefix := range []string{"/api/v1/Thermostat", "/api/v1/Group"} {
				if strings.HasPrefix(path, prefix) {
					path = prefix
					break
				}
			}
			return request.Method, path, strconv.Itoa(statusCode)
		},
	})
}

// Thermostats returns all thermostats on the account.
func (c *Client) Thermostats(ctx context.Context) ([]Thermostat, error) {
	var thermostats []Thermostat
	err := c.call(ctx, http.MethodGet, "/api/v1/Thermostat", nil, &thermostats)
	return thermostats, err
}

// Thermostat returns the current state of one thermostat.
func (c *Client) Thermostat(ctx context.Context, serialNumber string) (Thermostat, error) {
	var thermostat Thermostat
	err := c.call(ctx, http.MethodGet, "/api/v1/Thermostat/"+serialNumber, nil, &thermostat)
	return thermostat, err
}

// Groups returns all thermostat groups on the account.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var groups []Group
	err := c.call(ctx, http.MethodGet, "/api/v1/Group", nil, &groups)
	return groups, err
}

// Group returns the current state of one group.
func (c *Client) Group(ctx context.Context, groupID string) (Group, error) {
	var group Group
	err := c.call(ctx, http.MethodGet, "/api/v1/Group/"+groupID, nil, &group)
	return group, err
}

// Account returns the account preferences.
func (c *Client) Account(ctx context.Context) (Account, error) {
	var account Account
	err := c.call(ctx, http.MethodGet, "/api/v1/Account", nil, &account)
	return account, err
}

// SetTemperature sets a thermostat's setpoint, in the account's temperature
// scale, with the given hold kind.
func (c *Client) SetTemperature(ctx context.Context, serialNumber, name string, setPoint Temperature, mode ScheduleMode) error {
	return c.call(ctx, http.MethodPut, "/api/v1/Thermostat", setPointRequest{
		SerialNumber: serialNumber,
		Name:         name,
		SetPointTemp: setPoint,
		ScheduleMode: mode,
	}, nil)
}

// SetScheduleMode sets a thermostat's schedule mode, leaving its setpoint untouched.
func (c *Client) SetScheduleMode(ctx context.Context, serialNumber string, mode ScheduleMode) error {
	return c.call(ctx, http.MethodPut, "/api/v1/Thermostat", scheduleModeRequest{
		SerialNumber: serialNumber,
		ScheduleMode: mode,
	}, nil)
}

// SetGroupAway sets a group's away mode.
func (c *Client) SetGroupAway(ctx context.Context, groupID string, away bool) error {
	return c.call(ctx, http.MethodPut, "/api/v1/Group", groupAwayRequest{
		GroupID:  groupID,
		AwayMode: away,
	}, nil)
}

func (c *Client) call(ctx context.Context, method, path string, request, response any) error {
	token, err := c.TokenSource.Token(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, method, path, token, request, response)
	if errors.Is(err, ErrUnauthorized) {
		// the server rejected a token we considered valid. refresh it and retry
		// the call, once.
		token, err2 := c.TokenSource.ForceRefresh(ctx, token)
		var authErr *AuthError
		switch {
		case err2 == nil:
			err = c.do(ctx, method, path, token, request, response)
		case errors.As(err2, &authErr):
			// the token record itself is gone. report that, not the 401 that
			// triggered the refresh: callers need to know to reauthorize.
			err = err2
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, request, response any) error {
	var body io.Reader
	if request != nil {
		buf, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: ErrNetwork, err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if response == nil {
			return nil
		}
		if err = json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case http.StatusNoContent:
		return nil
	default:
		return errorFromResponse(resp)
	}
}

// Package apiclient talks to the policy REST backend.
package apiclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/tossie79/tmhcc-insurance/internal/model"
)

const (
	DefaultTimeout = 10 * time.Second

	// maxBodyBytes caps a single backend response.
	maxBodyBytes = 8 << 20
)

// ErrNotFound is returned for a 404 from the backend.
var ErrNotFound = stderrors.New("policy not found")

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string { return fmt.Sprintf("GET %s: %v", e.Path, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is any non-200 response other than 404.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.Path, e.Code, http.StatusText(e.Code))
}

// MalformedError means a 200 body did not match the expected response shape.
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("GET %s: malformed response: %v", e.Path, e.Err)
}
func (e *MalformedError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logr.Logger
}

type Client struct {
	base *url.URL
	http *http.Client
	log  logr.Logger
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, stderrors.New("apiclient: base url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "apiclient: parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Client{base: u, http: hc, log: log.WithName("apiclient")}, nil
}

// ListPath is the backend path of the policy list.
func ListPath() string { return "/policies/" }

// PolicyPath is the backend path of one policy. The number is percent-encoded
// as a single path segment.
func PolicyPath(policyNumber string) string {
	return "/policies/" + url.PathEscape(policyNumber)
}

// Response is a completed exchange with the backend.
type Response struct {
	Path     string
	Status   int
	Body     []byte
	Duration time.Duration
}

// Fetch performs a GET against the backend. A non-nil Response is returned
// whenever the backend answered, including with an error status; the error is
// then ErrNotFound or a *StatusError. A nil Response comes with a
// *TransportError.
func (c *Client) Fetch(ctx context.Context, path string) (*Response, error) {
	start := time.Now()
	target := c.base.String() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Path: path, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Path: path, Err: errors.Wrap(err, "read body")}
	}

	out := &Response{Path: path, Status: res.StatusCode, Body: body, Duration: time.Since(start)}
	c.log.V(1).Info("backend response", "path", path, "status", res.StatusCode, "bytes", len(body), "duration", out.Duration)

	switch {
	case res.StatusCode == http.StatusOK:
		return out, nil
	case res.StatusCode == http.StatusNotFound:
		return out, errors.Wrapf(ErrNotFound, "GET %s", path)
	default:
		return out, &StatusError{Path: path, Code: res.StatusCode}
	}
}

// List returns every policy in backend order.
func (c *Client) List(ctx context.Context) ([]model.Policy, error) {
	res, err := c.Fetch(ctx, ListPath())
	if err != nil {
		return nil, err
	}
	policies, err := model.DecodePolicyList(res.Body)
	if err != nil {
		return nil, &MalformedError{Path: res.Path, Err: err}
	}
	return policies, nil
}

// Get returns one policy by its number.
func (c *Client) Get(ctx context.Context, policyNumber string) (*model.Policy, error) {
	policyNumber = strings.TrimSpace(policyNumber)
	if policyNumber == "" {
		return nil, stderrors.New("apiclient: policy number is empty")
	}
	res, err := c.Fetch(ctx, PolicyPath(policyNumber))
	if err != nil {
		return nil, err
	}
	p, err := model.DecodePolicy(res.Body)
	if err != nil {
		return nil, &MalformedError{Path: res.Path, Err: err}
	}
	if p == nil {
		return nil, errors.Wrapf(ErrNotFound, "GET %s: null body", res.Path)
	}
	return p, nil
}

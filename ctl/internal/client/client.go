package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sofadb/sofa/pkg/types"
)

const (
	DefaultServer      = "http://127.0.0.1:5984"
	DefaultAdminHeader = "X-Sofa-Admin-Key"
	defaultTimeout     = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	Server string
	// AdminKey is sent in AdminHeader on /_config writes when non-empty.
	AdminKey    string
	AdminHeader string
	Timeout     time.Duration
}

// Welcome is the body of GET /.
type Welcome struct {
	CouchDB string `json:"couchdb"`
	Version string `json:"version"`
	UUID    string `json:"uuid"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *APIError) Error() string {
	if e.Err == "" {
		return fmt.Sprintf("client: server returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("client: %s: %s (HTTP %d)", e.Err, e.Reason, e.Status)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

// Client is safe for concurrent use.
type Client struct {
	r    *resty.Client
	opts Options
}

// New returns a Client for o.Server.
func New(o Options) (*Client, error) {
	if o.Server == "" {
		o.Server = DefaultServer
	}
	u, err := url.Parse(o.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: server %q must be an http(s) URL", o.Server)
	}
	if o.AdminHeader == "" {
		o.AdminHeader = DefaultAdminHeader
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(o.Server, "/")).
		SetTimeout(o.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{r: r, opts: o}, nil
}

// Server returns the base URL requests are sent to.
func (c *Client) Server() string { return c.opts.Server }

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.r.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&APIError{}).
		Get(path)
	if err != nil {
		return fmt.Errorf("client: GET %s: %w", path, err)
	}
	return check(resp)
}

func check(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}

// Welcome fetches GET /.
func (c *Client) Welcome(ctx context.Context) (Welcome, error) {
	var w Welcome
	err := c.get(ctx, "/", &w)
	return w, err
}

// Status fetches the reconfiguration status.
func (c *Client) Status(ctx context.Context) (types.Status, error) {
	var st types.Status
	err := c.get(ctx, "/_sofa/status", &st)
	return st, err
}

// ConfigAll returns every set option grouped by section.
func (c *Client) ConfigAll(ctx context.Context) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	err := c.get(ctx, "/_config", &out)
	return out, err
}

// ConfigSection returns the options of one section.
func (c *Client) ConfigSection(ctx context.Context, section string) (map[string]string, error) {
	out := make(map[string]string)
	err := c.get(ctx, "/_config/"+url.PathEscape(section), &out)
	return out, err
}

// ConfigGet returns one option value.
func (c *Client) ConfigGet(ctx context.Context, section, key string) (string, error) {
	var v string
	err := c.get(ctx, configPath(section, key), &v)
	return v, err
}

// ConfigSet writes value to section.key and returns the previous value.
// value is sent as a JSON scalar: string, bool, number or nil.
func (c *Client) ConfigSet(ctx context.Context, section, key string, value any) (string, error) {
	// resty sends a string body verbatim; encode it so the server sees a
	// JSON string.
	body, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("client: encode %s.%s: %w", section, key, err)
	}

	var old string
	req := c.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&old).
		SetError(&APIError{})
	if c.opts.AdminKey != "" {
		req.SetHeader(c.opts.AdminHeader, c.opts.AdminKey)
	}

	p := configPath(section, key)
	resp, err := req.Put(p)
	if err != nil {
		return "", fmt.Errorf("client: PUT %s: %w", p, err)
	}
	return old, check(resp)
}

// Metrics returns the raw Prometheus text exposition.
func (c *Client) Metrics(ctx context.Context) ([]byte, error) {
	resp, err := c.r.R().
		SetContext(ctx).
		SetHeader("Accept", "text/plain").
		Get("/_sofa/metrics")
	if err != nil {
		return nil, fmt.Errorf("client: GET /_sofa/metrics: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode()}
	}
	return resp.Body(), nil
}

func configPath(section, key string) string {
	return "/_config/" + url.PathEscape(section) + "/" + url.PathEscape(key)
}

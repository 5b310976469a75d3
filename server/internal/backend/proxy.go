package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const proxyTimeout = 30 * time.Second

// proxyBackend forwards every database operation to a remote CouchDB.
type proxyBackend struct {
	target string
	client *resty.Client
}

// OpenProxy returns a Backend talking to the CouchDB at opts.Target.
// No request is made until the first operation.
func OpenProxy(_ context.Context, opts Options) (Backend, error) {
	u, err := url.Parse(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("backend: parse proxy target: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: proxy target %q: scheme must be http or https", opts.Target)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.Target, "/")).
		SetTimeout(proxyTimeout).
		SetHeader("Accept", "application/json")
	return &proxyBackend{target: opts.Target, client: client}, nil
}

func (p *proxyBackend) Name() string { return "proxy" }

// remoteError maps a non-2xx response onto the backend error set.
func remoteError(resp *resty.Response, notFound error) error {
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return notFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrDBExists
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidDBName, strings.TrimSpace(resp.String()))
	}
	return fmt.Errorf("backend: proxy %s %s: status %d: %s",
		resp.Request.Method, resp.Request.URL, resp.StatusCode(), strings.TrimSpace(resp.String()))
}

func (p *proxyBackend) AllDBs(ctx context.Context) ([]string, error) {
	var out []string
	resp, err := p.client.R().SetContext(ctx).SetResult(&out).Get("/_all_dbs")
	if err != nil {
		return nil, fmt.Errorf("backend: proxy all_dbs: %w", err)
	}
	if resp.IsError() {
		return nil, remoteError(resp, ErrNotFound)
	}
	return out, nil
}

func (p *proxyBackend) CreateDB(ctx context.Context, db string) error {
	resp, err := p.client.R().SetContext(ctx).
		SetPathParam("db", db).
		Put("/{db}")
	if err != nil {
		return fmt.Errorf("backend: proxy create db: %w", err)
	}
	if resp.IsError() {
		return remoteError(resp, ErrDBNotFound)
	}
	return nil
}

func (p *proxyBackend) DestroyDB(ctx context.Context, db string) error {
	resp, err := p.client.R().SetContext(ctx).
		SetPathParam("db", db).
		Delete("/{db}")
	if err != nil {
		return fmt.Errorf("backend: proxy destroy db: %w", err)
	}
	if resp.IsError() {
		return remoteError(resp, ErrDBNotFound)
	}
	return nil
}

func (p *proxyBackend) DBInfo(ctx context.Context, db string) (DBInfo, error) {
	var info DBInfo
	resp, err := p.client.R().SetContext(ctx).
		SetPathParam("db", db).
		SetResult(&info).
		Get("/{db}")
	if err != nil {
		return DBInfo{}, fmt.Errorf("backend: proxy db info: %w", err)
	}
	if resp.IsError() {
		return DBInfo{}, remoteError(resp, ErrDBNotFound)
	}
	info.Backend = "proxy"
	return info, nil
}

func (p *proxyBackend) Get(ctx context.Context, db, id string) (Doc, error) {
	var doc Doc
	resp, err := p.client.R().SetContext(ctx).
		SetPathParams(map[string]string{"db": db, "id": id}).
		SetResult(&doc).
		Get("/{db}/{id}")
	if err != nil {
		return nil, fmt.Errorf("backend: proxy get: %w", err)
	}
	if resp.IsError() {
		return nil, remoteError(resp, ErrNotFound)
	}
	return doc, nil
}

// writeResult is CouchDB's reply to document writes.
type writeResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

func (p *proxyBackend) Put(ctx context.Context, db string, doc Doc) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", ErrMissingID
	}
	var res writeResult
	resp, err := p.client.R().SetContext(ctx).
		SetPathParams(map[string]string{"db": db, "id": id}).
		SetBody(doc).
		SetResult(&res).
		Put("/{db}/{id}")
	if err != nil {
		return "", fmt.Errorf("backend: proxy put: %w", err)
	}
	if resp.IsError() {
		return "", remoteError(resp, ErrDBNotFound)
	}
	return res.Rev, nil
}

func (p *proxyBackend) Delete(ctx context.Context, db, id, rev string) (string, error) {
	var res writeResult
	resp, err := p.client.R().SetContext(ctx).
		SetPathParams(map[string]string{"db": db, "id": id}).
		SetQueryParam("rev", rev).
		SetResult(&res).
		Delete("/{db}/{id}")
	if err != nil {
		return "", fmt.Errorf("backend: proxy delete: %w", err)
	}
	if resp.IsError() {
		return "", remoteError(resp, ErrNotFound)
	}
	return res.Rev, nil
}

func (p *proxyBackend) AllDocs(ctx context.Context, db string) ([]Row, error) {
	var res struct {
		Rows []Row `json:"rows"`
	}
	resp, err := p.client.R().SetContext(ctx).
		SetPathParam("db", db).
		SetResult(&res).
		Get("/{db}/_all_docs")
	if err != nil {
		return nil, fmt.Errorf("backend: proxy all_docs: %w", err)
	}
	if resp.IsError() {
		return nil, remoteError(resp, ErrDBNotFound)
	}
	if res.Rows == nil {
		res.Rows = []Row{}
	}
	return res.Rows, nil
}

// Close is a no-op; the remote server owns the data.
func (p *proxyBackend) Close() error {
	return nil
}

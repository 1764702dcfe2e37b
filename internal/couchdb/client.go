package couchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/geodirect/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client is the process-scoped handle to one CouchDB server. It owns the
// HTTP transport; database handles share it.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

func New(p Params) *Client {
	return NewWithURL(p.Config.CouchDBURL, p.Log)
}

// NewWithURL builds a client against the given server URL. The URL must not
// end with a slash.
func NewWithURL(rawURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(rawURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.Named("couchdb"),
	}
}

// Ping verifies connectivity and warns when the server is older than the
// 2.x line, which lacks /_find and per-database index support.
func (c *Client) Ping(ctx context.Context) error {
	var info struct {
		Version string `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, nil, &info); err != nil {
		return fmt.Errorf("connecting to CouchDB instance at %s: %w", c.baseURL, err)
	}

	major, _ := strconv.Atoi(strings.SplitN(info.Version, ".", 2)[0])
	if major < 2 {
		c.log.Warn("CouchDB server is older than 2.0; some database methods may not work",
			zap.String("version", info.Version))
	}

	return nil
}

// EnsureDatabase creates the named database if it does not already exist.
// CouchDB answers 412 Precondition Failed when the database is present,
// which is success for our purposes.
func (c *Client) EnsureDatabase(ctx context.Context, name string) error {
	res, err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return transportError(http.MethodPut, "/"+name, err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusPreconditionFailed {
		return nil
	}

	return c.checkStatus(http.MethodPut, "/"+name, res)
}

// EnsureIndex creates a mango index named {db}-indexes over the given
// fields. Index creation is idempotent on the server side.
func (c *Client) EnsureIndex(ctx context.Context, db string, fields []string) error {
	body := map[string]any{
		"index": map[string]any{"fields": fields},
		"name":  db + "-indexes",
	}

	return c.doJSON(ctx, http.MethodPost, "/"+url.PathEscape(db)+"/_index", nil, body, nil)
}

// DB returns a handle scoped to the named database.
func (c *Client) DB(name string) *Database {
	return &Database{
		client: c,
		name:   name,
		log:    c.log.With(zap.String("database", name)),
	}
}

// do issues a request and returns the raw response. Transport errors are
// returned as-is; the caller maps status codes.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

// doJSON issues a request, maps the response status onto the error
// taxonomy and decodes the body into out when given.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	res, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return transportError(method, path, err)
	}
	defer drain(res)

	if err := c.checkStatus(method, path, res); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("couchdb: decoding %s %s response: %v: %w", method, path, err, ErrUnavailable)
	}

	return nil
}

// checkStatus translates an error response into the taxonomy. A 404 is a
// legitimate outcome on reads and is not logged; everything else is.
func (c *Client) checkStatus(method, path string, res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}

	var detail struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(res.Body).Decode(&detail)

	err := newStatusError(method, path, res.StatusCode, detail.Error, detail.Reason)
	if res.StatusCode != http.StatusNotFound {
		c.log.Error("document store request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", res.StatusCode),
			zap.String("reason", detail.Reason))
	}

	return err
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

// docPath escapes a document id for use in a URL path, keeping the
// "_design/" prefix intact so design documents resolve.
func docPath(db, id string) string {
	prefix := ""
	if rest, ok := strings.CutPrefix(id, "_design/"); ok {
		prefix = "_design/"
		id = rest
	}

	return "/" + url.PathEscape(db) + "/" + prefix + url.PathEscape(id)
}

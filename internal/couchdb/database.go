package couchdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Database is a handle scoped to one named database. All operations are
// single round-trips and none retry on conflict; revision-mismatch handling
// belongs to the caller, which has the business context to decide whether
// re-fetching and retrying is safe.
type Database struct {
	client *Client
	name   string
	log    *zap.Logger
}

func (d *Database) Name() string {
	return d.name
}

// Get fetches the document with the given id into out. rev is advisory and
// may be empty, in which case the current revision is returned.
func (d *Database) Get(ctx context.Context, id, rev string, out any) error {
	query := url.Values{}
	if rev != "" {
		query.Set("rev", rev)
	}

	return d.client.doJSON(ctx, http.MethodGet, docPath(d.name, id), query, nil, out)
}

// Create persists a new document. When doc carries no id the server assigns
// one. The server-assigned id and revision are written back onto doc.
func (d *Database) Create(ctx context.Context, doc DocumentRef) error {
	var res writeResponse
	if err := d.client.doJSON(ctx, http.MethodPost, "/"+url.PathEscape(d.name), nil, doc, &res); err != nil {
		return err
	}

	doc.SetDocID(res.ID)
	doc.SetDocRev(res.Rev)

	return nil
}

// Update replaces the document at id, guarded by the expected revision.
// A stale revision yields ErrConflict; the new revision is written back
// onto doc on success.
func (d *Database) Update(ctx context.Context, id string, doc DocumentRef, rev string) error {
	query := url.Values{}
	if rev != "" {
		query.Set("rev", rev)
	}

	var res writeResponse
	if err := d.client.doJSON(ctx, http.MethodPut, docPath(d.name, id), query, doc, &res); err != nil {
		return err
	}

	doc.SetDocID(res.ID)
	doc.SetDocRev(res.Rev)

	return nil
}

// Delete removes the document at id, guarded by the expected revision.
func (d *Database) Delete(ctx context.Context, id, rev string) error {
	query := url.Values{}
	query.Set("rev", rev)

	return d.client.doJSON(ctx, http.MethodDelete, docPath(d.name, id), query, nil, nil)
}

// Exists reports whether a document with the given id exists.
func (d *Database) Exists(ctx context.Context, id string) (bool, error) {
	res, err := d.client.do(ctx, http.MethodHead, docPath(d.name, id), nil, nil)
	if err != nil {
		return false, transportError(http.MethodHead, docPath(d.name, id), err)
	}
	defer drain(res)

	switch {
	case res.StatusCode == http.StatusOK:
		return true, nil
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, d.client.checkStatus(http.MethodHead, docPath(d.name, id), res)
	}
}

// Find runs a mango selector query and decodes the matched documents into
// out, which must be a pointer to a slice.
func (d *Database) Find(ctx context.Context, req FindRequest, out any) error {
	var res findResponse
	path := "/" + url.PathEscape(d.name) + "/_find"
	if err := d.client.doJSON(ctx, http.MethodPost, path, nil, req, &res); err != nil {
		return err
	}

	if res.Warning != "" {
		d.log.Warn("find query warning", zap.String("warning", res.Warning))
	}

	if err := json.Unmarshal(res.Docs, out); err != nil {
		return fmt.Errorf("couchdb: decoding find results for %s: %w", d.name, err)
	}

	return nil
}

// List fetches every document in the database into out, a pointer to a
// slice, and reports pagination info.
func (d *Database) List(ctx context.Context, out any) (ListResult, error) {
	query := url.Values{}
	query.Set("include_docs", "true")

	var res struct {
		TotalRows int64 `json:"total_rows"`
		Offset    int64 `json:"offset"`
		Rows      []struct {
			Doc json.RawMessage `json:"doc"`
		} `json:"rows"`
	}
	path := "/" + url.PathEscape(d.name) + "/_all_docs"
	if err := d.client.doJSON(ctx, http.MethodGet, path, query, nil, &res); err != nil {
		return ListResult{}, err
	}

	docs := make([]json.RawMessage, 0, len(res.Rows))
	for _, row := range res.Rows {
		docs = append(docs, row.Doc)
	}
	buf, err := json.Marshal(docs)
	if err != nil {
		return ListResult{}, fmt.Errorf("couchdb: reassembling list results for %s: %w", d.name, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return ListResult{}, fmt.Errorf("couchdb: decoding list results for %s: %w", d.name, err)
	}

	return ListResult{Offset: res.Offset, TotalRows: res.TotalRows}, nil
}

// Count reports the total number of documents in the database.
func (d *Database) Count(ctx context.Context) (int64, error) {
	var res struct {
		TotalRows int64 `json:"total_rows"`
	}
	path := "/" + url.PathEscape(d.name) + "/_all_docs"
	if err := d.client.doJSON(ctx, http.MethodGet, path, nil, nil, &res); err != nil {
		return 0, err
	}

	return res.TotalRows, nil
}

// View queries a view for its raw emitted rows. Reduce is always forced
// off; use ReducedView for aggregated results.
func (d *Database) View(ctx context.Context, designDoc, view string, opts ViewOptions) (ViewResult, error) {
	if opts.Reduce != nil && *opts.Reduce {
		d.log.Warn("View was passed reduce=true; this method always sets reduce to false, consider ReducedView",
			zap.String("view", designDoc+"/"+view))
	}

	return d.queryView(ctx, designDoc, view, opts, false)
}

// ReducedView queries a view for its reduced rows. Without group or
// group_level set the result collapses to a single aggregate across all
// keys, which is rarely what a per-key caller wants.
func (d *Database) ReducedView(ctx context.Context, designDoc, view string, opts ViewOptions) (ViewResult, error) {
	if opts.Reduce != nil && !*opts.Reduce {
		d.log.Warn("ReducedView was passed reduce=false; this method always sets reduce to true, consider View",
			zap.String("view", designDoc+"/"+view))
	}
	if !opts.Group && opts.GroupLevel == 0 {
		d.log.Debug("ReducedView is not grouping its results; the reduced value collapses across all keys",
			zap.String("view", designDoc+"/"+view))
	}

	return d.queryView(ctx, designDoc, view, opts, true)
}

func (d *Database) queryView(ctx context.Context, designDoc, view string, opts ViewOptions, reduce bool) (ViewResult, error) {
	query, err := opts.query(reduce)
	if err != nil {
		return ViewResult{}, err
	}

	path := fmt.Sprintf("/%s/_design/%s/_view/%s", url.PathEscape(d.name), url.PathEscape(designDoc), url.PathEscape(view))

	var res ViewResult
	if err := d.client.doJSON(ctx, http.MethodGet, path, query, nil, &res); err != nil {
		return ViewResult{}, err
	}

	return res, nil
}

package couchdb

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Meta carries CouchDB's reserved identity fields. Embed it in any persisted
// payload type to satisfy DocumentRef.
type Meta struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`
}

func (m *Meta) DocID() string        { return m.ID }
func (m *Meta) DocRev() string       { return m.Rev }
func (m *Meta) SetDocID(id string)   { m.ID = id }
func (m *Meta) SetDocRev(rev string) { m.Rev = rev }

// DocumentRef is implemented by persisted types so write operations can
// apply the server-assigned id and revision back onto the document.
type DocumentRef interface {
	DocID() string
	DocRev() string
	SetDocID(id string)
	SetDocRev(rev string)
}

// writeResponse is the body CouchDB returns from create/update/delete.
// Writes never echo the document, only its new identity.
type writeResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// FindRequest is a mango selector query for POST /{db}/_find.
type FindRequest struct {
	Selector map[string]any `json:"selector"`
	Limit    int            `json:"limit,omitempty"`
	Skip     int            `json:"skip,omitempty"`
	Fields   []string       `json:"fields,omitempty"`
}

type findResponse struct {
	Docs    json.RawMessage `json:"docs"`
	Warning string          `json:"warning,omitempty"`
}

// ViewOptions control a view query. Keys are JSON-encoded on the wire.
type ViewOptions struct {
	Reduce     *bool
	Group      bool
	GroupLevel int
	StartKey   any
	EndKey     any
	Limit      int
	Descending bool
}

func (o ViewOptions) query(reduce bool) (url.Values, error) {
	q := url.Values{}
	q.Set("reduce", strconv.FormatBool(reduce))

	if o.Group {
		q.Set("group", "true")
	}
	if o.GroupLevel > 0 {
		q.Set("group_level", strconv.Itoa(o.GroupLevel))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Descending {
		q.Set("descending", "true")
	}
	if o.StartKey != nil {
		key, err := json.Marshal(o.StartKey)
		if err != nil {
			return nil, fmt.Errorf("couchdb: encoding start_key: %w", err)
		}
		q.Set("start_key", string(key))
	}
	if o.EndKey != nil {
		key, err := json.Marshal(o.EndKey)
		if err != nil {
			return nil, fmt.Errorf("couchdb: encoding end_key: %w", err)
		}
		q.Set("end_key", string(key))
	}

	return q, nil
}

// ViewRow is one emitted or reduced row from a view query.
type ViewRow struct {
	ID    string          `json:"id,omitempty"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ViewResult is the response body of a view query. TotalRows and Offset are
// only populated for non-reduced queries.
type ViewResult struct {
	TotalRows int64     `json:"total_rows"`
	Offset    int64     `json:"offset"`
	Rows      []ViewRow `json:"rows"`
}

// ListResult reports pagination info for a List call.
type ListResult struct {
	Offset    int64
	TotalRows int64
}

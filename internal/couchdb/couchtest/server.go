// Package couchtest provides an in-memory CouchDB stand-in for tests. It
// speaks the wire subset the store client uses: document CRUD with revision
// checking, mango _find with equality selectors, design documents, _all_docs
// and view queries. Views are evaluated through Go map/reduce functions
// registered per view name, including the re-reduce mode over partial
// results.
package couchtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Emit is one key/value pair produced by a map function.
type Emit struct {
	Key   any
	Value any
}

// KeyRef pairs an emitted key with the id of the document it came from,
// mirroring the first argument CouchDB hands to a reduce function.
type KeyRef struct {
	Key any
	ID  string
}

// View is a Go mirror of a JavaScript map/reduce pair. Reduce is called
// with rereduce=false over leaf values and rereduce=true over prior reduce
// outputs.
type View struct {
	Map    func(doc map[string]any) []Emit
	Reduce func(keys []KeyRef, values []any, rereduce bool) any
}

// rereduceChunk is deliberately small so any view over more than a handful
// of documents exercises the re-reduce path.
const rereduceChunk = 3

type database struct {
	docs map[string]map[string]any
	seq  map[string]int
}

// Server is one in-memory CouchDB instance.
type Server struct {
	mu        sync.Mutex
	dbs       map[string]*database
	views     map[string]View
	failDocs  map[string]bool
	docWrites int

	httpSrv *httptest.Server
}

func NewServer() *Server {
	s := &Server{
		dbs:      make(map[string]*database),
		views:    make(map[string]View),
		failDocs: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("PUT /{db}", s.handleCreateDB)
	mux.HandleFunc("POST /{db}", s.handleCreateDoc)
	mux.HandleFunc("POST /{db}/_index", s.handleCreateIndex)
	mux.HandleFunc("POST /{db}/_find", s.handleFind)
	mux.HandleFunc("GET /{db}/_all_docs", s.handleAllDocs)
	mux.HandleFunc("GET /{db}/_design/{doc}/_view/{view}", s.handleView)
	mux.HandleFunc("GET /{db}/_design/{doc}", s.handleGetDesign)
	mux.HandleFunc("PUT /{db}/_design/{doc}", s.handlePutDesign)
	// A separate "HEAD /{db}/{id}" pattern would conflict with
	// "GET /{db}/_all_docs" under ServeMux precedence rules (GET patterns
	// also match HEAD), so HEAD is dispatched inside the GET handler.
	mux.HandleFunc("GET /{db}/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			s.handleHeadDoc(w, r)
			return
		}
		s.handleGetDoc(w, r)
	})
	mux.HandleFunc("PUT /{db}/{id}", s.handlePutDoc)
	mux.HandleFunc("DELETE /{db}/{id}", s.handleDeleteDoc)

	s.httpSrv = httptest.NewServer(mux)

	return s
}

func (s *Server) URL() string {
	return s.httpSrv.URL
}

func (s *Server) Close() {
	s.httpSrv.Close()
}

// RegisterView installs the Go evaluator for a named view.
func (s *Server) RegisterView(designDoc, view string, v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[designDoc+"/"+view] = v
}

// DocWrites reports how many document writes (create or update) the server
// has accepted.
func (s *Server) DocWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docWrites
}

// FailWritesTo makes every write to the given document id answer 500.
func (s *Server) FailWritesTo(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDocs[id] = true
}

// CreateDatabase provisions a database directly, bypassing HTTP.
func (s *Server) CreateDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDB(name)
}

func (s *Server) ensureDB(name string) *database {
	db, ok := s.dbs[name]
	if !ok {
		db = &database{docs: make(map[string]map[string]any), seq: make(map[string]int)}
		s.dbs[name] = db
	}
	return db
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, name, reason string) {
	writeJSON(w, status, map[string]string{"error": name, "reason": reason})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"couchdb": "Welcome", "version": "3.3.3"})
}

func (s *Server) handleCreateDB(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("db")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dbs[name]; ok {
		writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
		return
	}

	s.ensureDB(name)
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dbs[r.PathValue("db")]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "created"})
}

func (s *Server) handleCreateDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	id, _ := doc["_id"].(string)
	if id == "" {
		id = fmt.Sprintf("doc-%06d", len(db.docs)+1)
	}
	if s.failDocs[id] {
		writeError(w, http.StatusInternalServerError, "internal_server_error", "induced failure")
		return
	}
	if _, exists := db.docs[id]; exists {
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}

	rev := s.storeDoc(db, id, doc)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": rev})
}

func (s *Server) storeDoc(db *database, id string, doc map[string]any) string {
	db.seq[id]++
	rev := strconv.Itoa(db.seq[id]) + "-fake"
	doc["_id"] = id
	doc["_rev"] = rev
	db.docs[id] = doc
	s.docWrites++
	return rev
}

func (s *Server) handleGetDesign(w http.ResponseWriter, r *http.Request) {
	s.getDoc(w, r, "_design/"+r.PathValue("doc"))
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	s.getDoc(w, r, r.PathValue("id"))
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	doc, ok := db.docs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHeadDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if ok {
		_, ok = db.docs[r.PathValue("id")]
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutDesign(w http.ResponseWriter, r *http.Request) {
	s.putDoc(w, r, "_design/"+r.PathValue("doc"))
}

func (s *Server) handlePutDoc(w http.ResponseWriter, r *http.Request) {
	s.putDoc(w, r, r.PathValue("id"))
}

func (s *Server) putDoc(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	if s.failDocs[id] {
		writeError(w, http.StatusInternalServerError, "internal_server_error", "induced failure")
		return
	}

	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rev := r.URL.Query().Get("rev")
	if rev == "" {
		rev, _ = doc["_rev"].(string)
	}

	if current, exists := db.docs[id]; exists {
		if rev != current["_rev"] {
			writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
			return
		}
	} else if rev != "" {
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}

	newRev := s.storeDoc(db, id, doc)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": newRev})
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	id := r.PathValue("id")
	current, exists := db.docs[id]
	if !exists {
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	if r.URL.Query().Get("rev") != current["_rev"] {
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}

	delete(db.docs, id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "rev": "deleted"})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	var req struct {
		Selector map[string]any `json:"selector"`
		Limit    int            `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	docs := make([]map[string]any, 0)
	for _, id := range sortedIDs(db) {
		if strings.HasPrefix(id, "_design/") {
			continue
		}
		doc := db.docs[id]
		if matchesSelector(doc, req.Selector) {
			docs = append(docs, doc)
		}
		if req.Limit > 0 && len(docs) == req.Limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}

// matchesSelector supports the equality subset of mango selectors.
func matchesSelector(doc, selector map[string]any) bool {
	for field, want := range selector {
		if !jsonEqual(doc[field], want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	includeDocs := r.URL.Query().Get("include_docs") == "true"
	rows := make([]map[string]any, 0, len(db.docs))
	for _, id := range sortedIDs(db) {
		doc := db.docs[id]
		row := map[string]any{"id": id, "key": id, "value": map[string]any{"rev": doc["_rev"]}}
		if includeDocs {
			row["doc"] = doc
		}
		rows = append(rows, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{"total_rows": len(rows), "offset": 0, "rows": rows})
}

func sortedIDs(db *database) []string {
	ids := make([]string, 0, len(db.docs))
	for id := range db.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[r.PathValue("db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	viewName := r.PathValue("doc") + "/" + r.PathValue("view")
	view, ok := s.views[viewName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "missing_named_view")
		return
	}

	query := r.URL.Query()
	emitted := s.runMap(db, view)
	emitted = filterRows(emitted, query)

	if query.Get("reduce") != "true" {
		rows := make([]map[string]any, 0, len(emitted))
		for _, e := range emitted {
			rows = append(rows, map[string]any{"id": e.id, "key": e.Key, "value": e.Value})
		}
		writeJSON(w, http.StatusOK, map[string]any{"total_rows": len(emitted), "offset": 0, "rows": rows})
		return
	}

	group := query.Get("group") == "true" || query.Get("group_level") != ""
	rows := reduceRows(view, emitted, group)
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

type emittedRow struct {
	Emit
	id string
}

func (s *Server) runMap(db *database, view View) []emittedRow {
	var out []emittedRow
	for _, id := range sortedIDs(db) {
		if strings.HasPrefix(id, "_design/") {
			continue
		}
		for _, e := range view.Map(db.docs[id]) {
			out = append(out, emittedRow{Emit: e, id: id})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return collate(out[i].Key, out[j].Key) < 0
	})

	return out
}

func filterRows(rows []emittedRow, query url.Values) []emittedRow {
	if raw := query.Get("start_key"); raw != "" {
		var start any
		if err := json.Unmarshal([]byte(raw), &start); err == nil {
			filtered := rows[:0]
			for _, row := range rows {
				if collate(row.Key, start) >= 0 {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
	}
	if raw := query.Get("end_key"); raw != "" {
		var end any
		if err := json.Unmarshal([]byte(raw), &end); err == nil {
			filtered := rows[:0]
			for _, row := range rows {
				if collate(row.Key, end) <= 0 {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
	}
	return rows
}

func reduceRows(view View, rows []emittedRow, group bool) []map[string]any {
	if !group {
		if len(rows) == 0 {
			return []map[string]any{}
		}
		return []map[string]any{{"key": nil, "value": runReduce(view, rows)}}
	}

	var out []map[string]any
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && collate(rows[end].Key, rows[start].Key) == 0 {
			end++
		}
		out = append(out, map[string]any{"key": rows[start].Key, "value": runReduce(view, rows[start:end])})
		start = end
	}
	return out
}

// runReduce mirrors CouchDB's incremental reduction: leaves are reduced in
// chunks and the partial results combined with rereduce=true.
func runReduce(view View, rows []emittedRow) any {
	if len(rows) <= rereduceChunk {
		return reduceLeaves(view, rows)
	}

	var partials []any
	for start := 0; start < len(rows); start += rereduceChunk {
		end := min(start+rereduceChunk, len(rows))
		partials = append(partials, reduceLeaves(view, rows[start:end]))
	}

	return view.Reduce(nil, partials, true)
}

func reduceLeaves(view View, rows []emittedRow) any {
	keys := make([]KeyRef, len(rows))
	values := make([]any, len(rows))
	for i, row := range rows {
		keys[i] = KeyRef{Key: row.Key, ID: row.id}
		values[i] = row.Value
	}
	return view.Reduce(keys, values, false)
}

// collate orders keys the way CouchDB does for the types we use: null,
// then numbers, then strings.
func collate(a, b any) int {
	ra, rb := collateRank(a), collateRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch va := a.(type) {
	case float64:
		vb := b.(float64)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	case string:
		return strings.Compare(va, b.(string))
	default:
		return 0
	}
}

func collateRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

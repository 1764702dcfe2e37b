package couchdb_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/couchdb/couchtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testDoc struct {
	couchdb.Meta
	Name   string `json:"name"`
	ShopID int64  `json:"shop_id"`
}

func newTestClient(t *testing.T) (*couchdb.Client, *couchtest.Server) {
	t.Helper()

	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)

	return couchdb.NewWithURL(srv.URL(), zap.NewNop()), srv
}

func TestPing(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Ping(context.Background()))
}

func TestEnsureDatabaseIdempotent(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureDatabase(ctx, "shop_1_logs"))
	// Second call hits 412 Precondition Failed, which is success.
	require.NoError(t, client.EnsureDatabase(ctx, "shop_1_logs"))
}

func TestCreateAssignsIDAndRevision(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))

	doc := testDoc{Name: "first", ShopID: 7}
	require.NoError(t, client.DB("docs").Create(ctx, &doc))

	assert.NotEmpty(t, doc.ID)
	assert.NotEmpty(t, doc.Rev)

	var got testDoc
	require.NoError(t, client.DB("docs").Get(ctx, doc.ID, "", &got))
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, doc.Rev, got.Rev)
}

func TestCreateExistingIDConflicts(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))
	db := client.DB("docs")

	doc := testDoc{Name: "first"}
	doc.ID = "fixed-id"
	require.NoError(t, db.Create(ctx, &doc))

	dup := testDoc{Name: "second"}
	dup.ID = "fixed-id"
	err := db.Create(ctx, &dup)
	assert.ErrorIs(t, err, couchdb.ErrConflict)
}

func TestUpdateStaleRevisionConflicts(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))
	db := client.DB("docs")

	doc := testDoc{Name: "v1"}
	require.NoError(t, db.Create(ctx, &doc))
	staleRev := doc.Rev

	doc.Name = "v2"
	require.NoError(t, db.Update(ctx, doc.ID, &doc, staleRev))
	assert.NotEqual(t, staleRev, doc.Rev)

	// Same stale revision again must fail; the client never retries.
	stale := testDoc{Name: "v3"}
	stale.ID = doc.ID
	err := db.Update(ctx, doc.ID, &stale, staleRev)
	assert.ErrorIs(t, err, couchdb.ErrConflict)

	var statusErr *couchdb.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 409, statusErr.Status)
}

func TestDeleteRevisionGuard(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))
	db := client.DB("docs")

	doc := testDoc{Name: "doomed"}
	require.NoError(t, db.Create(ctx, &doc))
	staleRev := doc.Rev

	doc.Name = "edited"
	require.NoError(t, db.Update(ctx, doc.ID, &doc, doc.Rev))

	err := db.Delete(ctx, doc.ID, staleRev)
	assert.ErrorIs(t, err, couchdb.ErrConflict)

	require.NoError(t, db.Delete(ctx, doc.ID, doc.Rev))

	var got testDoc
	err = db.Get(ctx, doc.ID, "", &got)
	assert.ErrorIs(t, err, couchdb.ErrNotFound)

	exists, err := db.Exists(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetMissingIsNotFound(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))

	var got testDoc
	err := client.DB("docs").Get(ctx, "nope", "", &got)
	assert.ErrorIs(t, err, couchdb.ErrNotFound)

	exists, err := client.DB("docs").Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFindBySelector(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))
	db := client.DB("docs")

	for _, shopID := range []int64{1, 2, 2} {
		doc := testDoc{Name: "doc", ShopID: shopID}
		require.NoError(t, db.Create(ctx, &doc))
	}

	var matched []testDoc
	require.NoError(t, db.Find(ctx, couchdb.FindRequest{
		Selector: map[string]any{"shop_id": int64(2)},
	}, &matched))

	require.Len(t, matched, 2)
	for _, doc := range matched {
		assert.Equal(t, int64(2), doc.ShopID)
	}
}

func TestListAndCount(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))
	db := client.DB("docs")

	for i := 0; i < 3; i++ {
		doc := testDoc{Name: "doc", ShopID: int64(i)}
		require.NoError(t, db.Create(ctx, &doc))
	}

	var all []testDoc
	res, err := db.List(ctx, &all)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, int64(3), res.TotalRows)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRawViewRows(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureDatabase(ctx, "docs"))
	db := client.DB("docs")

	srv.RegisterView("list", "by-shop", couchtest.View{
		Map: func(doc map[string]any) []couchtest.Emit {
			return []couchtest.Emit{{Key: doc["shop_id"], Value: doc["name"]}}
		},
		Reduce: func(keys []couchtest.KeyRef, values []any, rereduce bool) any {
			if rereduce {
				var total float64
				for _, v := range values {
					total += v.(float64)
				}
				return total
			}
			return float64(len(values))
		},
	})

	names := []string{"alpha", "beta", "gamma"}
	for i, name := range names {
		doc := testDoc{Name: name, ShopID: int64(i + 1)}
		doc.ID = name
		require.NoError(t, db.Create(ctx, &doc))
	}

	res, err := db.View(ctx, "list", "by-shop", couchdb.ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TotalRows)
	require.Len(t, res.Rows, 3)

	// Raw rows arrive in key order, each carrying the emitting document's
	// id alongside the emitted key and value.
	for i, row := range res.Rows {
		var key float64
		var value string
		require.NoError(t, json.Unmarshal(row.Key, &key))
		require.NoError(t, json.Unmarshal(row.Value, &value))
		assert.Equal(t, float64(i+1), key)
		assert.Equal(t, names[i], value)
		assert.Equal(t, names[i], row.ID)
	}

	// start_key narrows raw rows the same way it narrows reduced ones.
	res, err = db.View(ctx, "list", "by-shop", couchdb.ViewOptions{StartKey: 2})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	// Even when reduce=true is passed in, this method forces it off and
	// keeps returning emitted rows rather than the aggregate.
	reduce := true
	res, err = db.View(ctx, "list", "by-shop", couchdb.ViewOptions{Reduce: &reduce})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.NotEmpty(t, res.Rows[0].ID)
}

func TestStoreUnavailableOnTransportFailure(t *testing.T) {
	client := couchdb.NewWithURL("http://127.0.0.1:1", zap.NewNop())

	var got testDoc
	err := client.DB("docs").Get(context.Background(), "id", "", &got)
	assert.ErrorIs(t, err, couchdb.ErrUnavailable)
}

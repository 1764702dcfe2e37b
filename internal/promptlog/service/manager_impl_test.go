package service

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/geodirect/internal/clock"
	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/couchdb/couchtest"
	"github.com/smallbiznis/geodirect/internal/promptlog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Go mirrors of the JavaScript view pairs in domain/views.go, driving the
// test server's view evaluation. They must implement the same two-mode
// reduce contract as the JS sources.

func countByTimestampView() couchtest.View {
	return couchtest.View{
		Map: func(doc map[string]any) []couchtest.Emit {
			return []couchtest.Emit{{Key: doc["timestamp"]}}
		},
		Reduce: reducePromptCount,
	}
}

func reducePromptCount(keys []couchtest.KeyRef, values []any, rereduce bool) any {
	if rereduce {
		var total float64
		for _, v := range values {
			total += v.(float64)
		}
		return total
	}

	return float64(len(values))
}

func countByGeodirectView() couchtest.View {
	return couchtest.View{
		Map: func(doc map[string]any) []couchtest.Emit {
			return []couchtest.Emit{{Key: doc["geodirect_id"]}}
		},
		Reduce: reducePromptCountByRule,
	}
}

func reducePromptCountByRule(keys []couchtest.KeyRef, values []any, rereduce bool) any {
	if !rereduce {
		counts := make(map[string]float64)
		for _, key := range keys {
			counts[key.Key.(string)]++
		}
		return counts
	}

	merged := make(map[string]float64)
	for _, v := range values {
		for id, n := range v.(map[string]float64) {
			merged[id] += n
		}
	}
	return merged
}

func newTestManager(t *testing.T) (domain.Manager, *couchtest.Server, *clock.FakeClock) {
	t.Helper()

	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	srv.RegisterView(domain.DesignDocName, domain.CountByTimestampView, countByTimestampView())
	srv.RegisterView(domain.DesignDocName, domain.CountByGeodirectView, countByGeodirectView())

	fakeClock := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	manager := New(Params{
		Client: couchdb.NewWithURL(srv.URL(), zap.NewNop()),
		Log:    zap.NewNop(),
		Clock:  fakeClock,
	})

	return manager, srv, fakeClock
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "geodirect_shop_12345_logs", domain.DatabaseName(12345))
}

func TestPrepareIdempotent(t *testing.T) {
	manager, srv, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Prepare(ctx, 7))
	writes := srv.DocWrites()
	assert.Equal(t, 1, writes, "one design doc write on first prepare")

	// Database already exists: still success, and no view resync.
	require.NoError(t, manager.Prepare(ctx, 7))
	assert.Equal(t, writes, srv.DocWrites())
}

func TestAppendStampsTimestampServerSide(t *testing.T) {
	manager, _, fakeClock := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.Prepare(ctx, 7))

	prompt, err := manager.Append(ctx, domain.AppendRequest{
		ShopID:       7,
		GeodirectID:  "geo-1",
		GeodirectRev: "3-abc",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, prompt.ID)
	assert.NotEmpty(t, prompt.Rev)
	assert.Equal(t, fakeClock.Now().UnixMilli(), prompt.Timestamp)
	assert.Equal(t, "geo-1", prompt.GeodirectID)
	assert.Equal(t, "3-abc", prompt.GeodirectRev)
}

func TestAppendIDEncodesClockTime(t *testing.T) {
	manager, _, fakeClock := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.Prepare(ctx, 7))

	first, err := manager.Append(ctx, domain.AppendRequest{ShopID: 7, GeodirectID: "geo-1"})
	require.NoError(t, err)

	// The id and the timestamp field must read the same clock, or id
	// order and timestamp order diverge under skew.
	id, err := ulid.Parse(first.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(first.Timestamp), id.Time())

	fakeClock.Advance(time.Hour)
	second, err := manager.Append(ctx, domain.AppendRequest{ShopID: 7, GeodirectID: "geo-1"})
	require.NoError(t, err)
	assert.Less(t, first.ID, second.ID)
}

func TestAppendValidation(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Append(ctx, domain.AppendRequest{GeodirectID: "geo-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidShop)

	_, err = manager.Append(ctx, domain.AppendRequest{ShopID: 7})
	assert.ErrorIs(t, err, domain.ErrInvalidGeodirect)
}

func TestCountSinceMonotone(t *testing.T) {
	manager, _, fakeClock := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.Prepare(ctx, 7))

	// Two events before the cutoff.
	for i := 0; i < 2; i++ {
		_, err := manager.Append(ctx, domain.AppendRequest{ShopID: 7, GeodirectID: "geo-1"})
		require.NoError(t, err)
		fakeClock.Advance(time.Minute)
	}

	cutoff := fakeClock.Now().UnixMilli()

	// Enough events past the cutoff to push the view into re-reduce.
	const after = 8
	for i := 0; i < after; i++ {
		count, err := manager.CountSince(ctx, 7, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)

		_, err = manager.Append(ctx, domain.AppendRequest{ShopID: 7, GeodirectID: "geo-1"})
		require.NoError(t, err)
		fakeClock.Advance(time.Minute)
	}

	count, err := manager.CountSince(ctx, 7, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(after), count)

	// The full-history count still includes the two early events.
	count, err = manager.CountSince(ctx, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(after+2), count)
}

func TestCountSinceEmptyDatabase(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.Prepare(ctx, 7))

	count, err := manager.CountSince(ctx, 7, 0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCountByGeodirect(t *testing.T) {
	manager, _, fakeClock := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.Prepare(ctx, 7))

	appends := map[string]int{"geo-1": 5, "geo-2": 3}
	for id, n := range appends {
		for i := 0; i < n; i++ {
			_, err := manager.Append(ctx, domain.AppendRequest{ShopID: 7, GeodirectID: id})
			require.NoError(t, err)
			fakeClock.Advance(time.Second)
		}
	}

	counts, err := manager.CountByGeodirect(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"geo-1": 5, "geo-2": 3}, counts)
}

func TestCountByGeodirectEmpty(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.Prepare(ctx, 7))

	counts, err := manager.CountByGeodirect(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

// The two-mode reduce contract: a leaf pass over N raw values returns N,
// a combining pass over prior outputs returns their sum. Counting keys are
// timestamps and rule ids, so summing raw values on the leaf pass would be
// wrong; summing is only correct over already-reduced partials.
func TestReduceContract(t *testing.T) {
	leaves := make([]any, 5)
	keys := make([]couchtest.KeyRef, 5)
	for i := range keys {
		keys[i] = couchtest.KeyRef{Key: float64(1000 + i), ID: "doc"}
	}

	assert.Equal(t, float64(5), reducePromptCount(keys, leaves, false))
	assert.Equal(t, float64(6), reducePromptCount(nil, []any{float64(1), float64(2), float64(3)}, true))
}

func TestReduceByRuleContract(t *testing.T) {
	keys := []couchtest.KeyRef{
		{Key: "geo-1", ID: "a"},
		{Key: "geo-1", ID: "b"},
		{Key: "geo-2", ID: "c"},
	}

	first := reducePromptCountByRule(keys, make([]any, 3), false)
	assert.Equal(t, map[string]float64{"geo-1": 2, "geo-2": 1}, first)

	merged := reducePromptCountByRule(nil, []any{
		map[string]float64{"geo-1": 2, "geo-2": 1},
		map[string]float64{"geo-1": 4, "geo-3": 7},
	}, true)
	assert.Equal(t, map[string]float64{"geo-1": 6, "geo-2": 1, "geo-3": 7}, merged)
}

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/declanlscott/printdesk-sub004/internal/tenants"
	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

// fakeQueue records batches and rejects entries whose id is in reject.
type fakeQueue struct {
	batches [][]pipeline.BatchEntry
	reject  map[string]bool
	err     error
}

func (q *fakeQueue) SendBatch(_ context.Context, entries []pipeline.BatchEntry) (pipeline.BatchResult, error) {
	if q.err != nil {
		return pipeline.BatchResult{}, q.err
	}
	q.batches = append(q.batches, entries)
	var result pipeline.BatchResult
	for _, e := range entries {
		if q.reject[e.ID] {
			result.Failed = append(result.Failed, pipeline.FailedEntry{
				ID: e.ID, Code: "InternalError", Message: "rejected",
			})
			continue
		}
		result.Sent = append(result.Sent, pipeline.SentEntry{ID: e.ID, MessageID: uuid.NewString()})
	}
	return result, nil
}

func (q *fakeQueue) Receive(context.Context, int, time.Duration) ([]pipeline.Message, error) {
	panic("not used")
}
func (q *fakeQueue) Delete(context.Context, string) error          { panic("not used") }
func (q *fakeQueue) DeadLetters(context.Context) ([]pipeline.Message, error) {
	panic("not used")
}
func (q *fakeQueue) Len() int { return 0 }

func seedTenants(t *testing.T, store tenants.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("tenant-%02d", i)
		err := store.Save(context.Background(), tenants.Tenant{
			ID:                id,
			Slug:              id,
			Status:            tenants.StatusActive,
			InfraProgramInput: json.RawMessage(fmt.Sprintf(`{"region":"r-%d"}`, i)),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestDispatchAllBatchesByQueueLimit(t *testing.T) {
	store := tenants.NewMemoryStore()
	seedTenants(t, store, 25)
	queue := &fakeQueue{}

	summary, err := New(store, queue, nil, nil).DispatchAll(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 25, summary.Dispatched)
	require.Empty(t, summary.Failed)

	require.Len(t, queue.batches, 3)
	require.Len(t, queue.batches[0], pipeline.MaxBatchSize)
	require.Len(t, queue.batches[1], pipeline.MaxBatchSize)
	require.Len(t, queue.batches[2], 5)
}

func TestDispatchAllReportsExactlyTheFailedEntries(t *testing.T) {
	store := tenants.NewMemoryStore()
	ids := seedTenants(t, store, 10)
	queue := &fakeQueue{reject: map[string]bool{ids[3]: true, ids[7]: true}}

	summary, err := New(store, queue, nil, nil).DispatchAll(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Success)
	require.Equal(t, 8, summary.Dispatched)
	require.Len(t, summary.Failed, 2)

	failedIDs := map[string]bool{}
	for _, f := range summary.Failed {
		failedIDs[f.ID] = true
	}
	require.True(t, failedIDs[ids[3]])
	require.True(t, failedIDs[ids[7]])
}

func TestDispatchAllSkipsIneligibleTenants(t *testing.T) {
	store := tenants.NewMemoryStore()
	seedTenants(t, store, 2)
	require.NoError(t, store.Save(context.Background(), tenants.Tenant{
		ID:     "tenant-suspended",
		Slug:   "suspended",
		Status: tenants.StatusSuspended,
	}))
	queue := &fakeQueue{}

	summary, err := New(store, queue, nil, nil).DispatchAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Dispatched)
}

func TestDispatchAllSurvivesRequestFailure(t *testing.T) {
	store := tenants.NewMemoryStore()
	seedTenants(t, store, 3)
	queue := &fakeQueue{err: fmt.Errorf("queue unreachable")}

	summary, err := New(store, queue, nil, nil).DispatchAll(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Success)
	require.Equal(t, 0, summary.Dispatched)
	require.Len(t, summary.Failed, 3)
	for _, f := range summary.Failed {
		require.Equal(t, "RequestError", f.Code)
	}
}

func TestDispatchSingleReturnsDispatchID(t *testing.T) {
	store := tenants.NewMemoryStore()
	queue := &fakeQueue{}

	id, err := New(store, queue, nil, nil).Dispatch(context.Background(),
		"tenant-1", json.RawMessage(`{"region":"eu-west-1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, queue.batches, 1)
	item, err := pipeline.DecodeBody(pipeline.Message{Body: queue.batches[0][0].Body})
	require.NoError(t, err)
	require.Equal(t, "tenant-1", item.TenantID)
	require.JSONEq(t, `{"region":"eu-west-1"}`, string(item.Payload))
}

func TestDispatchSingleSurfacesRejection(t *testing.T) {
	store := tenants.NewMemoryStore()
	queue := &fakeQueue{reject: map[string]bool{"tenant-1": true}}

	_, err := New(store, queue, nil, nil).Dispatch(context.Background(),
		"tenant-1", json.RawMessage(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "InternalError")
}

func TestDispatchAllObserverSeesTotals(t *testing.T) {
	store := tenants.NewMemoryStore()
	ids := seedTenants(t, store, 4)
	queue := &fakeQueue{reject: map[string]bool{ids[1]: true}}
	var metrics pipeline.BasicMetrics

	_, err := New(store, queue, &metrics, nil).DispatchAll(context.Background())
	require.NoError(t, err)

	snap := metrics.Snapshot()
	require.Equal(t, int64(1), snap.EnqueueFailures)
}

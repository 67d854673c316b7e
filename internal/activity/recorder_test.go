package activity

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	inserted []RawEvent
}

func (f *fakeStore) InsertRawEvent(ctx context.Context, ev RawEvent) error {
	f.inserted = append(f.inserted, ev)
	return nil
}
func (f *fakeStore) ClaimSession(ctx context.Context, sf string) ([]RawEvent, error) { return nil, nil }
func (f *fakeStore) WriteActivity(ctx context.Context, a Activity) (int64, error)     { return 0, nil }
func (f *fakeStore) UpsertDailyCounter(ctx context.Context, date time.Time, projectID, actorID string, delta int) error {
	return nil
}
func (f *fakeStore) DeleteSession(ctx context.Context, sf string) error { return nil }
func (f *fakeStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeQueue struct {
	calls []struct {
		kind, argument, key string
		deferBy             time.Duration
	}
}

func (f *fakeQueue) Enqueue(ctx context.Context, kind string, argument string, deferBy time.Duration, idempotencyKey string) error {
	f.calls = append(f.calls, struct {
		kind, argument, key string
		deferBy             time.Duration
	}{kind, argument, idempotencyKey, deferBy})
	return nil
}

func newTestRecorder(t *testing.T, categoryEnabled func(string) bool) (*Recorder, *fakeStore, *fakeQueue) {
	t.Helper()
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	store := &fakeStore{}
	queue := &fakeQueue{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := NewRecorder(store, queue, policy, log, 900*time.Second, categoryEnabled)
	return r, store, queue
}

func TestRecord_PersistsAndSchedules(t *testing.T) {
	r, store, queue := newTestRecorder(t, func(string) bool { return true })

	err := r.Record(context.Background(), "actor-1", "project-1", "element.created", "E1", "", json.RawMessage(`{"element_name":"Hero"}`))
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "element", store.inserted[0].TargetKind)
	require.Len(t, queue.calls, 1)
	assert.Equal(t, AggregateSessionJobKind, queue.calls[0].kind)
	assert.Equal(t, 900*time.Second, queue.calls[0].deferBy)
}

func TestRecord_DisabledCategoryDropsSilently(t *testing.T) {
	r, store, queue := newTestRecorder(t, func(cat string) bool { return cat != "elements" })

	err := r.Record(context.Background(), "actor-1", "project-1", "element.created", "E1", "", nil)
	require.NoError(t, err)

	assert.Empty(t, store.inserted)
	assert.Empty(t, queue.calls)
}

func TestRecord_UnknownPrefixDefaultsEnabled(t *testing.T) {
	r, store, _ := newTestRecorder(t, func(string) bool { return false })

	err := r.Record(context.Background(), "actor-1", "project-1", "mystery.thing", "X1", "", nil)
	require.NoError(t, err)

	assert.Len(t, store.inserted, 1)
}

package activity

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type aggStore struct {
	bySF       map[string][]RawEvent
	activities []Activity
	counters   map[string]int
}

func newAggStore() *aggStore {
	return &aggStore{bySF: map[string][]RawEvent{}, counters: map[string]int{}}
}

func (s *aggStore) InsertRawEvent(ctx context.Context, ev RawEvent) error {
	s.bySF[ev.SessionFingerprint] = append(s.bySF[ev.SessionFingerprint], ev)
	return nil
}
func (s *aggStore) ClaimSession(ctx context.Context, sf string) ([]RawEvent, error) {
	return append([]RawEvent(nil), s.bySF[sf]...), nil
}
func (s *aggStore) WriteActivity(ctx context.Context, a Activity) (int64, error) {
	a.ID = int64(len(s.activities) + 1)
	s.activities = append(s.activities, a)
	return a.ID, nil
}
func (s *aggStore) UpsertDailyCounter(ctx context.Context, date time.Time, projectID, actorID string, delta int) error {
	key := date.Format("2006-01-02") + "|" + projectID + "|" + actorID
	s.counters[key] += delta
	return nil
}
func (s *aggStore) DeleteSession(ctx context.Context, sf string) error {
	delete(s.bySF, sf)
	return nil
}
func (s *aggStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeUserDir struct{ name string }

func (f fakeUserDir) DisplayName(ctx context.Context, actorID string) (string, error) {
	return f.name, nil
}

func newTestAggregator(t *testing.T, store *aggStore, window time.Duration) *Aggregator {
	t.Helper()
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewAggregator(store, fakeUserDir{name: "Иван"}, policy, log, window)
}

func TestAggregate_S1_SingleEvent(t *testing.T) {
	store := newAggStore()
	sf := "sf-1"
	store.bySF[sf] = []RawEvent{
		{SessionFingerprint: sf, ProjectID: "P1", ActorID: "U1", Kind: "element.created", TargetID: "E1",
			Detail: []byte(`{"element_name":"Hero"}`), CreatedAt: time.Now().Add(-2 * time.Second)},
	}

	agg := newTestAggregator(t, store, time.Second)
	require.NoError(t, agg.Aggregate(context.Background(), sf))

	require.Len(t, store.activities, 1)
	act := store.activities[0]
	assert.Equal(t, "Иван создал(а) элемент «Hero»", act.Title)
	assert.Equal(t, []string{"E1"}, act.AffectedElements)
	require.Len(t, act.Summary.Groups, 1)
	assert.Equal(t, "elements_created", act.Summary.Groups[0].Kind)
	assert.Empty(t, store.bySF[sf])

	for key, count := range store.counters {
		assert.Contains(t, key, "P1|U1")
		assert.Equal(t, 1, count)
	}
}

func TestAggregate_S4_QuiescenceAbort(t *testing.T) {
	store := newAggStore()
	sf := "sf-2"
	store.bySF[sf] = []RawEvent{
		{SessionFingerprint: sf, ProjectID: "P1", ActorID: "U1", Kind: "element.created", TargetID: "E1",
			Detail: []byte(`{"element_name":"Hero"}`), CreatedAt: time.Now()},
	}

	agg := newTestAggregator(t, store, 900*time.Second)
	require.NoError(t, agg.Aggregate(context.Background(), sf))

	assert.Empty(t, store.activities)
	assert.Len(t, store.bySF[sf], 1)
}

func TestAggregate_EmptyClaimIsNoop(t *testing.T) {
	store := newAggStore()
	agg := newTestAggregator(t, store, time.Second)
	require.NoError(t, agg.Aggregate(context.Background(), "missing-sf"))
	assert.Empty(t, store.activities)
}

func TestAggregate_CounterIncrementsByClaimSize(t *testing.T) {
	store := newAggStore()
	sf := "sf-3"
	old := time.Now().Add(-10 * time.Second)
	store.bySF[sf] = []RawEvent{
		{SessionFingerprint: sf, ProjectID: "P1", ActorID: "U1", Kind: "element.created", TargetID: "E1", Detail: []byte(`{"element_name":"A"}`), CreatedAt: old},
		{SessionFingerprint: sf, ProjectID: "P1", ActorID: "U1", Kind: "element.created", TargetID: "E2", Detail: []byte(`{"element_name":"B"}`), CreatedAt: old.Add(time.Second)},
		{SessionFingerprint: sf, ProjectID: "P1", ActorID: "U1", Kind: "element.created", TargetID: "E3", Detail: []byte(`{"element_name":"C"}`), CreatedAt: old.Add(2 * time.Second)},
	}

	agg := newTestAggregator(t, store, time.Second)
	require.NoError(t, agg.Aggregate(context.Background(), sf))

	require.Len(t, store.activities, 1)
	total := 0
	for _, c := range store.counters {
		total += c
	}
	assert.Equal(t, 3, total)
	assert.Contains(t, store.activities[0].Title, "3 элемента")
}

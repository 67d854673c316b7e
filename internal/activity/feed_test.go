package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedStore struct {
	projectRows  []Activity
	heatmap      []HeatmapPoint
	heatmapCalls int
}

func (s *feedStore) InsertRawEvent(ctx context.Context, ev RawEvent) error          { return nil }
func (s *feedStore) ClaimSession(ctx context.Context, sf string) ([]RawEvent, error) { return nil, nil }
func (s *feedStore) WriteActivity(ctx context.Context, a Activity) (int64, error)    { return 0, nil }
func (s *feedStore) UpsertDailyCounter(ctx context.Context, date time.Time, projectID, actorID string, delta int) error {
	return nil
}
func (s *feedStore) DeleteSession(ctx context.Context, sf string) error { return nil }
func (s *feedStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (s *feedStore) FeedByProject(ctx context.Context, projectID string, accessibleFolders, accessibleElements []string, page, size int) ([]Activity, int, error) {
	var visible []Activity
	allow := func(ids []string, accessible []string) bool {
		if len(ids) == 0 {
			return true
		}
		set := map[string]bool{}
		for _, a := range accessible {
			set[a] = true
		}
		for _, id := range ids {
			if !set[id] {
				return false
			}
		}
		return true
	}
	for _, a := range s.projectRows {
		if allow(a.AffectedFolders, accessibleFolders) && allow(a.AffectedElements, accessibleElements) {
			visible = append(visible, a)
		}
	}
	return visible, len(visible), nil
}
func (s *feedStore) FeedByFolder(ctx context.Context, folderID string, page, size int) ([]Activity, int, error) {
	return nil, 0, nil
}
func (s *feedStore) FeedByElement(ctx context.Context, elementID string, page, size int) ([]Activity, int, error) {
	return nil, 0, nil
}
func (s *feedStore) Heatmap(ctx context.Context, projectID string, start, end time.Time, actorID string) ([]HeatmapPoint, error) {
	s.heatmapCalls++
	return s.heatmap, nil
}

type allowAllPerms struct{ forbidElements []string }

func (p allowAllPerms) Require(ctx context.Context, scope Scope, id, actorID string, action Action) error {
	return nil
}
func (p allowAllPerms) AccessibleFolders(ctx context.Context, projectID, actorID string) ([]string, error) {
	return []string{"F1"}, nil
}
func (p allowAllPerms) AccessibleElements(ctx context.Context, projectID, actorID string) ([]string, error) {
	return []string{"E1", "E2"}, nil
}
func (p allowAllPerms) FolderExists(ctx context.Context, folderID string) (bool, error)   { return true, nil }
func (p allowAllPerms) ElementExists(ctx context.Context, elementID string) (bool, error) { return true, nil }

type nameDir struct{}

func (nameDir) DisplayName(ctx context.Context, actorID string) (string, error) { return actorID, nil }

type noImages struct{}

func (noImages) Lookup(ctx context.Context, ids []string) (map[string]ImageURLs, error) {
	return map[string]ImageURLs{}, nil
}

func TestGetProjectFeed_S5_ExcludesForbiddenActivity(t *testing.T) {
	store := &feedStore{
		projectRows: []Activity{
			{ID: 1, ProjectID: "P1", AffectedElements: []string{"E1"}, Summary: Summary{Groups: []Group{{Kind: "elements_created"}}}},
			{ID: 2, ProjectID: "P1", AffectedElements: []string{"E_forbidden"}, Summary: Summary{Groups: []Group{{Kind: "elements_created"}}}},
		},
	}
	reader := NewFeedReader(store, allowAllPerms{}, nameDir{}, noImages{})

	page, err := reader.GetProjectFeed(context.Background(), "P1", "U1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Items[0].ID)
}

func TestGetProjectFeed_EmptyArraysAlwaysVisible(t *testing.T) {
	store := &feedStore{
		projectRows: []Activity{
			{ID: 1, ProjectID: "P1", Summary: Summary{Groups: []Group{{Kind: "folders_created"}}}},
		},
	}
	reader := NewFeedReader(store, allowAllPerms{}, nameDir{}, noImages{})

	page, err := reader.GetProjectFeed(context.Background(), "P1", "U1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

type denyPerms struct{}

func (denyPerms) Require(ctx context.Context, scope Scope, id, actorID string, action Action) error {
	return errors.New("denied")
}
func (denyPerms) AccessibleFolders(ctx context.Context, projectID, actorID string) ([]string, error) {
	return nil, nil
}
func (denyPerms) AccessibleElements(ctx context.Context, projectID, actorID string) ([]string, error) {
	return nil, nil
}
func (denyPerms) FolderExists(ctx context.Context, folderID string) (bool, error)   { return true, nil }
func (denyPerms) ElementExists(ctx context.Context, elementID string) (bool, error) { return true, nil }

func TestGetProjectFeed_ForbiddenPropagates(t *testing.T) {
	store := &feedStore{}
	reader := NewFeedReader(store, denyPerms{}, nameDir{}, noImages{})

	_, err := reader.GetProjectFeed(context.Background(), "P1", "U1", 1, 20)
	require.Error(t, err)
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestGetHeatmap_RejectsOversizedRange(t *testing.T) {
	store := &feedStore{}
	reader := NewHeatmapReader(store)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(2, 0, 0)
	_, err := reader.GetHeatmap(context.Background(), "P1", start, end, "")
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGetHeatmap_CacheHitsAvoidRepeatedStoreQueries(t *testing.T) {
	store := &feedStore{heatmap: []HeatmapPoint{
		{Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Count: 3},
	}}
	reader := NewHeatmapReader(store).WithCache(time.Minute)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err := reader.GetHeatmap(context.Background(), "P1", start, end, "")
	require.NoError(t, err)
	_, err = reader.GetHeatmap(context.Background(), "P1", start, end, "")
	require.NoError(t, err)
	assert.Equal(t, 1, store.heatmapCalls)

	_, err = reader.GetHeatmap(context.Background(), "P2", start, end, "")
	require.NoError(t, err)
	assert.Equal(t, 2, store.heatmapCalls)
}

func TestGetHeatmap_ReturnsOnlyDaysPresent(t *testing.T) {
	store := &feedStore{heatmap: []HeatmapPoint{
		{Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Count: 3},
	}}
	reader := NewHeatmapReader(store)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	points, err := reader.GetHeatmap(context.Background(), "P1", start, end, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 3, points[0].Count)
}

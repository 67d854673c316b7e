package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/flowlane/pulsefeed/infrastructure/cache"
)

const (
	maxHeatmapRangeDays = 366
	defaultPageSize     = 20
	maxPageSize         = 100
)

// ValidationError is returned for caller-supplied argument problems (bad
// page size, oversized heatmap range); handlers map it to HTTP 400.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ForbiddenError is returned when the permission oracle denies access;
// handlers map it to HTTP 403.
type ForbiddenError struct{ Msg string }

func (e *ForbiddenError) Error() string { return e.Msg }

// NotFoundError is returned when a referenced folder/element does not
// exist; handlers map it to HTTP 404.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }

// FeedReader implements C3: permissioned, paged activity queries enriched
// with live image URLs.
type FeedReader struct {
	store  Store
	perms  PermissionOracle
	users  UserDirectory
	images ImageStore
}

// NewFeedReader constructs a FeedReader.
func NewFeedReader(store Store, perms PermissionOracle, users UserDirectory, images ImageStore) *FeedReader {
	return &FeedReader{store: store, perms: perms, users: users, images: images}
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// GetProjectFeed answers a project-scoped feed query for actorID.
func (f *FeedReader) GetProjectFeed(ctx context.Context, projectID, actorID string, page, size int) (Page[ActivityItem], error) {
	if err := f.perms.Require(ctx, ScopeProject, projectID, actorID, ActionRead); err != nil {
		return Page[ActivityItem]{}, &ForbiddenError{Msg: err.Error()}
	}

	page, size = clampPage(page, size)

	accessibleFolders, err := f.perms.AccessibleFolders(ctx, projectID, actorID)
	if err != nil {
		return Page[ActivityItem]{}, err
	}
	accessibleElements, err := f.perms.AccessibleElements(ctx, projectID, actorID)
	if err != nil {
		return Page[ActivityItem]{}, err
	}

	rows, total, err := f.store.FeedByProject(ctx, projectID, accessibleFolders, accessibleElements, page, size)
	if err != nil {
		return Page[ActivityItem]{}, err
	}
	return f.toPage(ctx, rows, total, page, size)
}

// GetFolderFeed answers a folder-scoped feed query (transitively including
// descendant folders), for actorID.
func (f *FeedReader) GetFolderFeed(ctx context.Context, folderID, actorID string, page, size int) (Page[ActivityItem], error) {
	exists, err := f.perms.FolderExists(ctx, folderID)
	if err != nil {
		return Page[ActivityItem]{}, err
	}
	if !exists {
		return Page[ActivityItem]{}, &NotFoundError{Msg: fmt.Sprintf("folder %s not found", folderID)}
	}
	if err := f.perms.Require(ctx, ScopeFolder, folderID, actorID, ActionRead); err != nil {
		return Page[ActivityItem]{}, &ForbiddenError{Msg: err.Error()}
	}

	page, size = clampPage(page, size)

	rows, total, err := f.store.FeedByFolder(ctx, folderID, page, size)
	if err != nil {
		return Page[ActivityItem]{}, err
	}
	return f.toPage(ctx, rows, total, page, size)
}

// GetElementFeed answers an element-scoped feed query for actorID.
func (f *FeedReader) GetElementFeed(ctx context.Context, elementID, actorID string, page, size int) (Page[ActivityItem], error) {
	exists, err := f.perms.ElementExists(ctx, elementID)
	if err != nil {
		return Page[ActivityItem]{}, err
	}
	if !exists {
		return Page[ActivityItem]{}, &NotFoundError{Msg: fmt.Sprintf("element %s not found", elementID)}
	}
	if err := f.perms.Require(ctx, ScopeElement, elementID, actorID, ActionRead); err != nil {
		return Page[ActivityItem]{}, &ForbiddenError{Msg: err.Error()}
	}

	page, size = clampPage(page, size)

	rows, total, err := f.store.FeedByElement(ctx, elementID, page, size)
	if err != nil {
		return Page[ActivityItem]{}, err
	}
	return f.toPage(ctx, rows, total, page, size)
}

func (f *FeedReader) toPage(ctx context.Context, rows []Activity, total, page, size int) (Page[ActivityItem], error) {
	items := make([]ActivityItem, 0, len(rows))
	for _, a := range rows {
		name, err := f.users.DisplayName(ctx, a.ActorID)
		if err != nil {
			name = a.ActorID
		}
		items = append(items, ActivityItem{
			ID:        a.ID,
			Title:     a.Title,
			Summary:   a.Summary,
			StartedAt: a.StartedAt,
			EndedAt:   a.EndedAt,
			User:      ActorRef{ID: a.ActorID, Name: name},
		})
	}

	if err := f.enrichImages(ctx, items); err != nil {
		return Page[ActivityItem]{}, err
	}

	pages := total / size
	if total%size != 0 {
		pages++
	}
	return Page[ActivityItem]{Items: items, Total: total, Page: page, Size: size, Pages: pages}, nil
}

// enrichImages splices live thumbnail/URL pairs into images_uploaded group
// items. Running it twice over the same page is idempotent: a second pass
// either finds the same live URLs (no-op overwrite) or, if the image has
// since been deleted, leaves the already-spliced values untouched.
func (f *FeedReader) enrichImages(ctx context.Context, items []ActivityItem) error {
	ids := map[string]bool{}
	for _, item := range items {
		for _, g := range item.Summary.Groups {
			if g.Kind != "images_uploaded" {
				continue
			}
			for _, parentItems := range g.ItemsByParent {
				for _, it := range parentItems {
					ids[it.ID] = true
				}
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}

	urls, err := f.images.Lookup(ctx, idList)
	if err != nil {
		return err
	}

	for i := range items {
		for gi := range items[i].Summary.Groups {
			g := &items[i].Summary.Groups[gi]
			if g.Kind != "images_uploaded" {
				continue
			}
			for parent, parentItems := range g.ItemsByParent {
				for ii := range parentItems {
					if u, ok := urls[parentItems[ii].ID]; ok {
						parentItems[ii].ThumbnailURL = u.ThumbnailURL
						parentItems[ii].URL = u.URL
					}
				}
				g.ItemsByParent[parent] = parentItems
			}
		}
	}
	return nil
}

// HeatmapReader implements C4.
type HeatmapReader struct {
	store Store
	cache *cache.TTLCache
}

// NewHeatmapReader constructs a HeatmapReader.
func NewHeatmapReader(store Store) *HeatmapReader {
	return &HeatmapReader{store: store}
}

// WithCache enables an in-process cache-aside layer in front of the
// underlying daily-counter aggregation query. Heatmap points only change
// when C2 lands a new session, so a short TTL trades a small staleness
// window for avoiding repeated full-range scans from dashboards that poll
// the same project/date range on every page load.
func (h *HeatmapReader) WithCache(ttl time.Duration) *HeatmapReader {
	h.cache = cache.NewTTLCache(ttl)
	return h
}

// GetHeatmap returns the dense-where-present {date, count} series for a
// project over [start, end], optionally filtered by actor.
func (h *HeatmapReader) GetHeatmap(ctx context.Context, projectID string, start, end time.Time, actorFilter string) ([]HeatmapPoint, error) {
	if end.Before(start) {
		return nil, &ValidationError{Msg: "end_date must not precede start_date"}
	}
	if end.Sub(start) > maxHeatmapRangeDays*24*time.Hour {
		return nil, &ValidationError{Msg: fmt.Sprintf("date range exceeds %d days", maxHeatmapRangeDays)}
	}

	if h.cache == nil {
		return h.store.Heatmap(ctx, projectID, start, end, actorFilter)
	}

	key := heatmapCacheKey(projectID, start, end, actorFilter)
	if cached, ok := h.cache.Get(ctx, key); ok {
		if points, ok := cached.([]HeatmapPoint); ok {
			return points, nil
		}
	}

	points, err := h.store.Heatmap(ctx, projectID, start, end, actorFilter)
	if err != nil {
		return nil, err
	}
	h.cache.Set(ctx, key, points)
	return points, nil
}

func heatmapCacheKey(projectID string, start, end time.Time, actorFilter string) string {
	return fmt.Sprintf("%s:%d:%d:%s", projectID, start.Unix(), end.Unix(), actorFilter)
}

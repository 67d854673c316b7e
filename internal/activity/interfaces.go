package activity

import (
	"context"
	"time"
)

// Store is the persistence capability the recorder and aggregator need.
// Implemented by internal/activity/store against Postgres.
type Store interface {
	// InsertRawEvent appends a buffered event. Must run inside the caller's
	// transaction when tx is non-nil so the Recorder shares its caller's fate.
	InsertRawEvent(ctx context.Context, ev RawEvent) error

	// ClaimSession selects and locks (FOR UPDATE SKIP LOCKED) all RawEvents
	// for a fingerprint, ordered by created_at ascending, within tx.
	ClaimSession(ctx context.Context, sf string) ([]RawEvent, error)

	// WriteActivity inserts one Activity row within tx.
	WriteActivity(ctx context.Context, a Activity) (int64, error)

	// UpsertDailyCounter increments the counter for (date, project, actor).
	UpsertDailyCounter(ctx context.Context, date time.Time, projectID, actorID string, delta int) error

	// DeleteSession removes all RawEvents for a fingerprint.
	DeleteSession(ctx context.Context, sf string) error

	// WithTransaction runs fn within a single database transaction,
	// committing on nil error and rolling back otherwise.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// FeedByProject returns the activities page for a project, restricted to
	// rows whose affected_folders/affected_elements are either empty or
	// fully contained within the given accessible sets.
	FeedByProject(ctx context.Context, projectID string, accessibleFolders, accessibleElements []string, page, size int) ([]Activity, int, error)

	// FeedByFolder returns the activities page for a folder and all of its
	// transitive descendants (computed via a recursive query).
	FeedByFolder(ctx context.Context, folderID string, page, size int) ([]Activity, int, error)

	// FeedByElement returns the activities page referencing one element.
	FeedByElement(ctx context.Context, elementID string, page, size int) ([]Activity, int, error)

	// Heatmap sums DailyCounter.event_count per day over [start, end],
	// optionally restricted to one actor.
	Heatmap(ctx context.Context, projectID string, start, end time.Time, actorID string) ([]HeatmapPoint, error)
}

// Queue is the delayed-job scheduling capability the recorder uses to
// trigger aggregation after the quiescence window.
type Queue interface {
	// Enqueue submits (or, for a pre-existing idempotency key, replaces the
	// run time of) a delayed job.
	Enqueue(ctx context.Context, kind string, argument string, deferBy time.Duration, idempotencyKey string) error
}

// UserDirectory resolves an opaque actor ID to a display name for titles.
type UserDirectory interface {
	DisplayName(ctx context.Context, actorID string) (string, error)
}

// PermissionOracle is the external authorization collaborator the Feed
// Reader consults; authentication/authorization logic itself is out of
// scope for this repository.
type PermissionOracle interface {
	Require(ctx context.Context, scope Scope, id, actorID string, action Action) error
	AccessibleFolders(ctx context.Context, projectID, actorID string) ([]string, error)
	AccessibleElements(ctx context.Context, projectID, actorID string) ([]string, error)
	FolderExists(ctx context.Context, folderID string) (bool, error)
	ElementExists(ctx context.Context, elementID string) (bool, error)
}

// Scope names the kind of entity a permission check is about.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeFolder  Scope = "folder"
	ScopeElement Scope = "element"
)

// Action names the operation being authorized.
type Action string

const (
	ActionRead Action = "read"
)

// ImageStore resolves current thumbnail/full URLs for uploaded images.
type ImageStore interface {
	Lookup(ctx context.Context, ids []string) (map[string]ImageURLs, error)
}

// ImageURLs is the live URL pair for one image id.
type ImageURLs struct {
	ThumbnailURL string
	URL          string
}

package health

import (
	"context"
	"time"
)

// DatabaseAdapter is the capability C8 needs from the serving database:
// a connectivity probe plus the counts the daily digest reports. It is a
// narrow slice of the activity store, not the store itself, so the health
// worker depends on a capability interface per the "adapter classes as
// capability interfaces" design note rather than on internal/activity/store
// directly.
type DatabaseAdapter interface {
	HealthCheck(ctx context.Context) error

	NewUsersCount(ctx context.Context, since, until time.Time) (int64, error)
	ActiveUsersCount(ctx context.Context, since, until time.Time) (int64, error)
	TotalUsersCount(ctx context.Context) (int64, error)

	NewProjectsCount(ctx context.Context, since, until time.Time) (int64, error)
	UpdatedProjectsCount(ctx context.Context, since, until time.Time) (int64, error)
	TotalProjectsCount(ctx context.Context) (int64, error)
}

// NullDatabaseAdapter is a valid default: health checks report healthy and
// every statistic is zero. Used when the deployment has not wired a real
// database adapter (e.g. running the monitoring pipeline standalone).
type NullDatabaseAdapter struct{}

func (NullDatabaseAdapter) HealthCheck(ctx context.Context) error { return nil }

func (NullDatabaseAdapter) NewUsersCount(ctx context.Context, since, until time.Time) (int64, error) {
	return 0, nil
}
func (NullDatabaseAdapter) ActiveUsersCount(ctx context.Context, since, until time.Time) (int64, error) {
	return 0, nil
}
func (NullDatabaseAdapter) TotalUsersCount(ctx context.Context) (int64, error) { return 0, nil }

func (NullDatabaseAdapter) NewProjectsCount(ctx context.Context, since, until time.Time) (int64, error) {
	return 0, nil
}
func (NullDatabaseAdapter) UpdatedProjectsCount(ctx context.Context, since, until time.Time) (int64, error) {
	return 0, nil
}
func (NullDatabaseAdapter) TotalProjectsCount(ctx context.Context) (int64, error) { return 0, nil }

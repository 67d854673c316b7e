package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Aggregator implements C2: claims buffered events for a session, verifies
// quiescence, builds the titled summary, and commits one Activity plus the
// daily counter update, deleting the buffer in the same transaction.
type Aggregator struct {
	store         Store
	userDir       UserDirectory
	policy        *Policy
	log           *logrus.Logger
	sessionWindow time.Duration
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store Store, userDir UserDirectory, policy *Policy, log *logrus.Logger, sessionWindow time.Duration) *Aggregator {
	return &Aggregator{store: store, userDir: userDir, policy: policy, log: log, sessionWindow: sessionWindow}
}

// Aggregate runs the full claim → quiescence-check → write pipeline for one
// session fingerprint. It is safe to call concurrently and safe to re-fire
// for the same fingerprint (idempotent: a second firing either finds no
// rows or is skip-locked out by a concurrent worker).
func (a *Aggregator) Aggregate(ctx context.Context, sf string) error {
	return a.store.WithTransaction(ctx, func(ctx context.Context) error {
		claim, err := a.store.ClaimSession(ctx, sf)
		if err != nil {
			return fmt.Errorf("activity: claim session %s: %w", sf, err)
		}
		if len(claim) == 0 {
			return nil
		}

		tFirst, tLast := claim[0].CreatedAt, claim[0].CreatedAt
		for _, ev := range claim {
			if ev.CreatedAt.Before(tFirst) {
				tFirst = ev.CreatedAt
			}
			if ev.CreatedAt.After(tLast) {
				tLast = ev.CreatedAt
			}
		}

		if time.Since(tLast) < a.sessionWindow {
			// Authoritative quiescence gate: the scheduler's delay is only
			// advisory, a later event may have landed inside our window.
			return nil
		}

		folders, elements := affectedSets(claim, a.log)
		summary := BuildSummary(claim, a.policy)

		actorID := claim[0].ActorID
		projectID := claim[0].ProjectID

		displayName, err := a.userDir.DisplayName(ctx, actorID)
		if err != nil || displayName == "" {
			a.log.WithError(err).WithField("actor_id", actorID).Warn("activity: display name lookup failed, using actor id")
			displayName = actorID
		}

		summaryRaw, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("activity: marshal summary: %w", err)
		}

		act := Activity{
			ProjectID:        projectID,
			ActorID:          actorID,
			Title:            BuildTitle(claim, displayName),
			Summary:          summary,
			SummaryRaw:       summaryRaw,
			AffectedFolders:  folders,
			AffectedElements: elements,
			StartedAt:        tFirst,
			EndedAt:          tLast,
		}

		if _, err := a.store.WriteActivity(ctx, act); err != nil {
			return fmt.Errorf("activity: write activity: %w", err)
		}

		activityDate := time.Date(tLast.Year(), tLast.Month(), tLast.Day(), 0, 0, 0, 0, time.UTC)
		if err := a.store.UpsertDailyCounter(ctx, activityDate, projectID, actorID, len(claim)); err != nil {
			return fmt.Errorf("activity: upsert daily counter: %w", err)
		}

		if err := a.store.DeleteSession(ctx, sf); err != nil {
			return fmt.Errorf("activity: delete session %s: %w", sf, err)
		}

		return nil
	})
}

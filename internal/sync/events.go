package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/issuemirror/issuemirror/internal/models"
)

// syncEvents mirrors the issue-event timeline of a repository. Events
// are deduplicated on their GitHub event id, so re-covering a window
// after a failed pass inserts nothing twice. Events for issue numbers
// not mirrored locally (pull requests, issues outside the fetch window)
// are skipped.
func (s *Syncer) syncEvents(ctx context.Context, repo *models.Repository, owner, name string, since *time.Time, stats *models.SyncStats) error {
	events, calls, err := s.fetch.ListIssueEvents(ctx, owner, name, since)
	stats.APICalls += calls
	if err != nil {
		return fmt.Errorf("failed to list events for %s/%s: %w", owner, name, err)
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		issue, err := s.store.GetIssue(ctx, repo.ID, ev.IssueNumber)
		if err != nil {
			return err
		}
		if issue == nil {
			continue
		}

		inserted, err := s.store.InsertIssueEvent(ctx, &models.IssueEvent{
			GitHubEventID: ev.ID,
			IssueID:       issue.ID,
			EventType:     ev.Type,
			Actor:         ev.Actor,
			CreatedAt:     ev.CreatedAt,
		})
		if err != nil {
			return err
		}
		if inserted {
			stats.EventsInserted++
		}
	}

	return nil
}

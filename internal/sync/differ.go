package sync

import (
	"sort"

	"github.com/issuemirror/issuemirror/internal/api"
	"github.com/issuemirror/issuemirror/internal/models"
)

// Diff is the reconciliation of a remote issue listing against the
// local snapshot. New, Changed, and Unchanged are disjoint. Deleted
// holds local issue numbers absent from a full remote listing.
type Diff struct {
	New       []api.RemoteIssue
	Changed   []api.RemoteIssue
	Unchanged []api.RemoteIssue
	Deleted   []int
}

// Classify buckets each remote issue as New (number absent locally),
// Changed (remote updated_at differs from the local row), or Unchanged
// (equal timestamps, no write needed).
//
// Deletion inference runs only for full listings: an incremental result
// set omits untouched issues, so absence there means nothing. Rows that
// are already soft-deleted are never re-classified Deleted.
func Classify(remote []api.RemoteIssue, local map[int]*models.Issue, full bool) Diff {
	var diff Diff

	seen := make(map[int]bool, len(remote))
	for _, r := range remote {
		seen[r.Number] = true

		existing, ok := local[r.Number]
		switch {
		case !ok:
			diff.New = append(diff.New, r)
		case !existing.GitHubUpdatedAt.Equal(r.UpdatedAt):
			diff.Changed = append(diff.Changed, r)
		default:
			diff.Unchanged = append(diff.Unchanged, r)
		}
	}

	if full {
		for number, existing := range local {
			if !seen[number] && !existing.IsDeleted {
				diff.Deleted = append(diff.Deleted, number)
			}
		}
		sort.Ints(diff.Deleted)
	}

	return diff
}

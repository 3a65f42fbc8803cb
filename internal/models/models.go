package models

import (
	"time"
)

// Repository represents a mirrored GitHub repository.
type Repository struct {
	ID       int64 // GitHub's numeric repository id
	Owner    string
	Name     string
	FullName string
	URL      string

	// LastSyncedAt is the watermark for smart sync. Nil means the
	// repository has never completed a successful sync.
	LastSyncedAt *time.Time
}

// Issue represents a mirrored GitHub issue. Rows are keyed by
// (RepositoryID, Number); the local ID is an autoincrement surrogate.
type Issue struct {
	ID           int64
	RepositoryID int64
	Number       int
	Title        string
	Body         string
	IsOpen       bool
	URL          string

	// GitHubUpdatedAt is the remote last-modified timestamp,
	// authoritative for change detection.
	GitHubUpdatedAt time.Time

	// SyncedAt is the local write timestamp.
	SyncedAt time.Time

	// Embedding is present only after a successful generation pass.
	Embedding []float32

	// ParentIssueID references the local row of the parent issue when
	// the parent is known locally.
	ParentIssueID *int64

	// ParentNumber is the remote parent issue number as reported by the
	// API. It is resolved to ParentIssueID at persist time and is not
	// itself a column.
	ParentNumber *int

	IsDeleted    bool
	CommentCount int
}

// Comment represents a mirrored issue comment. Comment text feeds
// embedding generation.
type Comment struct {
	ID        int64 // GitHub's numeric comment id
	IssueID   int64
	Author    string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Label represents a repository label, keyed by (RepositoryID, Name).
type Label struct {
	ID           int64
	RepositoryID int64
	Name         string
	Color        string
}

// IssueEvent represents one entry of an issue's audit timeline.
// GitHubEventID is globally unique and serves as the idempotency key:
// an event already present by this id is never re-inserted.
type IssueEvent struct {
	ID            int64
	GitHubEventID int64
	IssueID       int64
	EventType     string
	Actor         string
	CreatedAt     time.Time
}

// SyncStats accumulates counters for one sync run. Stats from multiple
// repositories are merged with Add.
type SyncStats struct {
	APICalls       int
	Found          int
	Created        int
	Updated        int
	Unchanged      int
	Deleted        int
	EventsInserted int

	// Since is the cutoff the run used; nil for a full sync.
	Since *time.Time
}

// Add merges counters from another run into s. The cutoff is kept from
// the receiver when both are set.
func (s *SyncStats) Add(other SyncStats) {
	s.APICalls += other.APICalls
	s.Found += other.Found
	s.Created += other.Created
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
	s.Deleted += other.Deleted
	s.EventsInserted += other.EventsInserted
	if s.Since == nil {
		s.Since = other.Since
	}
}

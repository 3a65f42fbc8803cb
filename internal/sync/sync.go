package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/issuemirror/issuemirror/internal/api"
	"github.com/issuemirror/issuemirror/internal/embedding"
	"github.com/issuemirror/issuemirror/internal/models"
	"github.com/issuemirror/issuemirror/internal/notify"
)

// Mode selects how a repository pass bounds its issue fetch.
type Mode int

const (
	// ModeFull fetches the entire issue listing and is the only mode
	// eligible for deletion inference.
	ModeFull Mode = iota

	// ModeSince fetches issues updated at or after an explicit cutoff.
	ModeSince

	// ModeSmart behaves as incremental from the stored watermark, or
	// as full when the repository has never been synced.
	ModeSmart
)

// Options shape one sync invocation.
type Options struct {
	Mode  Mode
	Since time.Time // cutoff for ModeSince

	// Parallel is the bounded repository fan-out; values below 2 mean
	// sequential processing.
	Parallel int
}

// Store is the persistence surface the orchestrator drives.
type Store interface {
	GetRepository(ctx context.Context, fullName string) (*models.Repository, error)
	UpsertRepository(ctx context.Context, repo *models.Repository) error
	SetLastSynced(ctx context.Context, fullName string, t time.Time) error
	GetIssue(ctx context.Context, repoID int64, number int) (*models.Issue, error)
	IssuesByRepository(ctx context.Context, repoID int64) (map[int]*models.Issue, error)
	UpsertIssue(ctx context.Context, issue *models.Issue) error
	ReplaceIssueLabels(ctx context.Context, issueID, repoID int64, names []string) error
	SoftDeleteIssue(ctx context.Context, repoID int64, number int) error
	SetIssueEmbedding(ctx context.Context, issueID int64, embedding []float32) error
	UpsertComment(ctx context.Context, comment *models.Comment) error
	InsertIssueEvent(ctx context.Context, event *models.IssueEvent) (bool, error)
}

// Fetcher is the remote-API surface the orchestrator drives.
type Fetcher interface {
	GetRepository(ctx context.Context, owner, name string) (*api.RemoteRepository, error)
	ListIssues(ctx context.Context, owner, name string, since *time.Time) ([]api.RemoteIssue, int, error)
	ListComments(ctx context.Context, owner, name string, number int) ([]api.RemoteComment, int, error)
	ListIssueEvents(ctx context.Context, owner, name string, since *time.Time) ([]api.RemoteEvent, int, error)
}

// Syncer drives fetch, diff, persist, embedding invalidation, and
// watermark advancement for repositories.
type Syncer struct {
	store    Store
	fetch    Fetcher
	embed    embedding.Provider // nil disables embedding generation
	notifier notify.Notifier
	log      zerolog.Logger
}

// New creates a new syncer. embed may be nil to disable embedding
// generation on the poll path.
func New(store Store, fetch Fetcher, embed embedding.Provider, notifier notify.Notifier, log zerolog.Logger) *Syncer {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Syncer{
		store:    store,
		fetch:    fetch,
		embed:    embed,
		notifier: notifier,
		log:      log,
	}
}

// SyncRepositories syncs a list of "owner/name" repositories. All names
// are validated before any network call. A repository's failure does
// not stop the remaining repositories; failures are aggregated into the
// returned error.
func (s *Syncer) SyncRepositories(ctx context.Context, repos []string, opts Options) (models.SyncStats, error) {
	type target struct {
		owner, name string
	}
	targets := make([]target, 0, len(repos))
	for _, repoStr := range repos {
		owner, name, err := ParseRepositoryString(repoStr)
		if err != nil {
			return models.SyncStats{}, err
		}
		targets = append(targets, target{owner: owner, name: name})
	}

	var (
		mu    sync.Mutex
		total models.SyncStats
		errs  []error
	)

	run := func(t target) {
		stats, err := s.SyncRepository(ctx, t.owner, t.name, opts)
		mu.Lock()
		defer mu.Unlock()
		total.Add(stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", t.owner, t.name, err))
		}
	}

	if opts.Parallel > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallel)
		for _, t := range targets {
			t := t
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				run(t)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	} else {
		for _, t := range targets {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			run(t)
		}
	}

	return total, errors.Join(errs...)
}

// SyncRepository syncs a single repository. The watermark advances to
// the instant the pass started, and only when the whole pass succeeds;
// a failed pass leaves it untouched so the next attempt re-covers the
// same window.
func (s *Syncer) SyncRepository(ctx context.Context, owner, name string, opts Options) (models.SyncStats, error) {
	var stats models.SyncStats
	start := time.Now()
	fullName := owner + "/" + name
	log := s.log.With().Str("repo", fullName).Logger()

	repo, err := s.store.GetRepository(ctx, fullName)
	if err != nil {
		return stats, err
	}
	if repo == nil {
		remote, err := s.fetch.GetRepository(ctx, owner, name)
		stats.APICalls++
		if err != nil {
			return stats, fmt.Errorf("failed to get repository %s: %w", fullName, err)
		}
		repo = &models.Repository{
			ID:       remote.ID,
			Owner:    remote.Owner,
			Name:     remote.Name,
			FullName: remote.FullName,
			URL:      remote.URL,
		}
		if err := s.store.UpsertRepository(ctx, repo); err != nil {
			return stats, err
		}
	}

	since := s.cutoff(repo, opts)
	full := since == nil
	stats.Since = since

	if full {
		log.Info().Msg("starting full sync")
	} else {
		log.Info().Time("since", *since).Msg("starting incremental sync")
	}

	remote, calls, err := s.fetch.ListIssues(ctx, owner, name, since)
	stats.APICalls += calls
	if err != nil {
		return stats, fmt.Errorf("failed to list issues for %s: %w", fullName, err)
	}

	// Pull requests share the issues endpoint but are not mirrored.
	issues := remote[:0:0]
	for _, r := range remote {
		if !r.PullRequest {
			issues = append(issues, r)
		}
	}
	stats.Found = len(issues)

	local, err := s.store.IssuesByRepository(ctx, repo.ID)
	if err != nil {
		return stats, err
	}

	diff := Classify(issues, local, full)

	for _, r := range diff.New {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.applyIssue(ctx, repo, r, nil, &stats); err != nil {
			return stats, err
		}
		stats.Created++
		s.publish(ctx, notify.KindIssueCreated, repo, r)
	}

	for _, r := range diff.Changed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.applyIssue(ctx, repo, r, local[r.Number], &stats); err != nil {
			return stats, err
		}
		stats.Updated++
		s.publish(ctx, notify.KindIssueUpdated, repo, r)
	}

	stats.Unchanged = len(diff.Unchanged)

	for _, number := range diff.Deleted {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.store.SoftDeleteIssue(ctx, repo.ID, number); err != nil {
			return stats, err
		}
		stats.Deleted++
		s.publish(ctx, notify.KindIssueDeleted, repo, api.RemoteIssue{Number: number})
	}

	if err := s.syncEvents(ctx, repo, owner, name, since, &stats); err != nil {
		return stats, err
	}

	if err := s.store.SetLastSynced(ctx, fullName, start); err != nil {
		return stats, err
	}

	log.Info().
		Int("found", stats.Found).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("deleted", stats.Deleted).
		Int("events", stats.EventsInserted).
		Int("api_calls", stats.APICalls).
		Msg("sync complete")

	return stats, nil
}

// cutoff resolves the fetch cutoff for the selected mode. Nil means a
// full, unbounded listing.
func (s *Syncer) cutoff(repo *models.Repository, opts Options) *time.Time {
	switch opts.Mode {
	case ModeSince:
		t := opts.Since
		return &t
	case ModeSmart:
		return repo.LastSyncedAt
	default:
		return nil
	}
}

// applyIssue persists one New or Changed issue: upsert the row, replace
// its label associations, mirror its comments, and regenerate the
// embedding when the title or body actually changed. prior is the local
// row before this pass, nil for New issues.
func (s *Syncer) applyIssue(ctx context.Context, repo *models.Repository, r api.RemoteIssue, prior *models.Issue, stats *models.SyncStats) error {
	body := ""
	if r.Body != nil {
		body = *r.Body
	}

	issue := &models.Issue{
		RepositoryID:    repo.ID,
		Number:          r.Number,
		Title:           r.Title,
		Body:            body,
		IsOpen:          r.Open,
		URL:             r.URL,
		GitHubUpdatedAt: r.UpdatedAt,
		SyncedAt:        time.Now(),
		ParentNumber:    r.ParentNumber,
		CommentCount:    r.CommentCount,
	}
	if err := s.store.UpsertIssue(ctx, issue); err != nil {
		return err
	}

	if err := s.store.ReplaceIssueLabels(ctx, issue.ID, repo.ID, r.Labels); err != nil {
		return err
	}

	comments, err := s.syncComments(ctx, repo, issue, stats)
	if err != nil {
		return err
	}

	// A timestamp change alone (label churn, comment activity) must not
	// invalidate the embedding.
	contentChanged := prior == nil || prior.Title != issue.Title || prior.Body != issue.Body
	if contentChanged {
		s.generateEmbedding(ctx, repo, issue, comments)
	}

	return nil
}

// syncComments mirrors an issue's comments and returns up to
// embedding.MaxComments recent comment bodies for embedding text.
func (s *Syncer) syncComments(ctx context.Context, repo *models.Repository, issue *models.Issue, stats *models.SyncStats) ([]string, error) {
	comments, calls, err := s.fetch.ListComments(ctx, repo.Owner, repo.Name, issue.Number)
	stats.APICalls += calls
	if err != nil {
		return nil, fmt.Errorf("failed to list comments for #%d: %w", issue.Number, err)
	}

	for _, c := range comments {
		comment := &models.Comment{
			ID:        c.ID,
			IssueID:   issue.ID,
			Author:    c.Author,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		if err := s.store.UpsertComment(ctx, comment); err != nil {
			return nil, err
		}
	}

	recent := comments
	if len(recent) > embedding.MaxComments {
		recent = recent[len(recent)-embedding.MaxComments:]
	}
	bodies := make([]string, 0, len(recent))
	for _, c := range recent {
		bodies = append(bodies, c.Body)
	}
	return bodies, nil
}

// generateEmbedding regenerates an issue's embedding after a content
// change. Failure is tolerated on the poll path: the row persists
// without a vector, and the stale vector is cleared so search never
// ranks on outdated content. There is no automatic retry; a later pass
// only revisits the issue if its content changes again.
func (s *Syncer) generateEmbedding(ctx context.Context, repo *models.Repository, issue *models.Issue, comments []string) {
	if s.embed == nil {
		return
	}

	text := embedding.BuildText(issue.Title, issue.Body, comments)
	vec, err := s.embed.Embed(ctx, text)
	if err != nil || vec == nil {
		s.log.Warn().
			Str("repo", repo.FullName).
			Int("issue", issue.Number).
			Err(err).
			Msg("embedding generation failed; issue stored without vector")
		vec = nil
	}

	if err := s.store.SetIssueEmbedding(ctx, issue.ID, vec); err != nil {
		s.log.Warn().
			Str("repo", repo.FullName).
			Int("issue", issue.Number).
			Err(err).
			Msg("failed to store embedding")
	}
}

// publish sends a notification and ignores delivery failure.
func (s *Syncer) publish(ctx context.Context, kind notify.Kind, repo *models.Repository, r api.RemoteIssue) {
	ev := notify.Event{
		Kind:         kind,
		RepoFullName: repo.FullName,
		IssueNumber:  r.Number,
		Title:        r.Title,
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.log.Debug().Err(err).Msg("notification delivery failed")
	}
}

// ParseRepositoryString parses a repository string in the format
// "owner/name".
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}

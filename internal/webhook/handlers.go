package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/issuemirror/issuemirror/internal/embedding"
	"github.com/issuemirror/issuemirror/internal/models"
	"github.com/issuemirror/issuemirror/internal/notify"
)

// deps are the collaborators shared by all handlers.
type deps struct {
	store    Store
	embed    embedding.Provider
	discuss  DiscussionFetcher
	notifier notify.Notifier
	log      zerolog.Logger
}

func (d deps) publish(ctx context.Context, ev notify.Event) {
	if err := d.notifier.Publish(ctx, ev); err != nil {
		d.log.Debug().Err(err).Msg("notification delivery failed")
	}
}

func success(format string, args ...interface{}) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...interface{}) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// issueHandler applies issue-event deliveries.
type issueHandler struct {
	deps
}

func (h *issueHandler) Handle(ctx context.Context, p *Payload) Result {
	if p.Issue == nil || p.Repository == nil {
		return failure("payload missing issue or repository")
	}
	if p.Issue.PullRequest != nil {
		return success("pull request event ignored")
	}

	switch p.Action {
	case "opened":
		return h.upsert(ctx, p, true)
	case "edited":
		return h.upsert(ctx, p, false)
	case "closed", "reopened":
		return h.setState(ctx, p)
	case "labeled", "unlabeled":
		return h.replaceLabels(ctx, p)
	case "deleted":
		return h.delete(ctx, p)
	default:
		h.log.Debug().Str("action", p.Action).Msg("issue action ignored")
		return success("action %q ignored", p.Action)
	}
}

// upsert handles opened and edited. For opened the repository is
// auto-discovered from the payload; for edited the issue row must
// already exist. Both always regenerate the embedding, and embedding
// failure fails the whole call: an issue is not persisted on this path
// without its vector.
func (h *issueHandler) upsert(ctx context.Context, p *Payload, create bool) Result {
	repo, err := h.store.GetRepository(ctx, p.Repository.FullName)
	if err != nil {
		return failure("failed to look up repository: %v", err)
	}
	if repo == nil {
		if !create {
			return success("issue #%d not found in %s", p.Issue.Number, p.Repository.FullName)
		}
		repo = repoFromPayload(p.Repository)
		if err := h.store.UpsertRepository(ctx, repo); err != nil {
			return failure("failed to create repository: %v", err)
		}
	}

	var existing *models.Issue
	if !create {
		existing, err = h.store.GetIssue(ctx, repo.ID, p.Issue.Number)
		if err != nil {
			return failure("failed to look up issue: %v", err)
		}
		if existing == nil {
			return success("issue #%d not found in %s", p.Issue.Number, repo.FullName)
		}
	}

	// Generate before persisting: a failed embedding must not leave a
	// half-applied issue behind.
	var vec []float32
	if h.embed != nil {
		var comments []string
		if h.discuss != nil {
			d, derr := h.discuss.FetchDiscussion(ctx, repo.Owner, repo.Name, p.Issue.Number, embedding.MaxComments)
			if derr != nil {
				h.log.Warn().Err(derr).Msg("discussion fetch failed; using mirrored comments")
			} else {
				comments = d.Comments
			}
		}
		if comments == nil && existing != nil {
			comments = h.storedComments(ctx, existing.ID)
		}
		text := embedding.BuildText(p.Issue.Title, derefBody(p.Issue.Body), comments)
		vec, err = h.embed.Embed(ctx, text)
		if err != nil || vec == nil {
			return failure("embedding generation failed for issue #%d: %v", p.Issue.Number, err)
		}
	}

	issue := issueFromPayload(repo.ID, p.Issue)
	if err := h.store.UpsertIssue(ctx, issue); err != nil {
		return failure("failed to save issue: %v", err)
	}
	if err := h.store.ReplaceIssueLabels(ctx, issue.ID, repo.ID, labelNames(p.Issue.Labels)); err != nil {
		return failure("failed to save issue labels: %v", err)
	}
	if vec != nil {
		if err := h.store.SetIssueEmbedding(ctx, issue.ID, vec); err != nil {
			return failure("failed to save embedding: %v", err)
		}
	}

	kind := notify.KindIssueUpdated
	verb := "updated"
	if create {
		kind = notify.KindIssueCreated
		verb = "created"
	}
	h.publish(ctx, notify.Event{
		Kind:         kind,
		RepoFullName: repo.FullName,
		IssueID:      issue.ID,
		IssueNumber:  issue.Number,
		Title:        issue.Title,
	})

	return Result{
		Success:          true,
		Message:          fmt.Sprintf("issue #%d %s", issue.Number, verb),
		IssueNumber:      issue.Number,
		IssueTitle:       issue.Title,
		RepoName:         repo.FullName,
		EmbeddingUpdated: vec != nil,
	}
}

// setState handles closed and reopened. The stored embedding is reused:
// an open/closed flip is not a content change.
func (h *issueHandler) setState(ctx context.Context, p *Payload) Result {
	repo, issue, res := h.lookup(ctx, p)
	if issue == nil {
		return res
	}

	issue.IsOpen = p.Issue.State == "open"
	issue.GitHubUpdatedAt = p.Issue.UpdatedAt
	issue.SyncedAt = time.Now()
	issue.CommentCount = p.Issue.Comments
	if err := h.store.UpsertIssue(ctx, issue); err != nil {
		return failure("failed to save issue: %v", err)
	}

	h.publish(ctx, notify.Event{
		Kind:         notify.KindIssueUpdated,
		RepoFullName: repo.FullName,
		IssueID:      issue.ID,
		IssueNumber:  issue.Number,
		Title:        issue.Title,
	})

	return Result{
		Success:     true,
		Message:     fmt.Sprintf("issue #%d %s", issue.Number, p.Action),
		IssueNumber: issue.Number,
		IssueTitle:  issue.Title,
		RepoName:    repo.FullName,
	}
}

// replaceLabels handles labeled and unlabeled. The payload carries the
// issue's full label list, so both actions reduce to a replace.
func (h *issueHandler) replaceLabels(ctx context.Context, p *Payload) Result {
	repo, issue, res := h.lookup(ctx, p)
	if issue == nil {
		return res
	}

	if err := h.store.ReplaceIssueLabels(ctx, issue.ID, repo.ID, labelNames(p.Issue.Labels)); err != nil {
		return failure("failed to save issue labels: %v", err)
	}

	return Result{
		Success:     true,
		Message:     fmt.Sprintf("labels replaced for issue #%d", issue.Number),
		IssueNumber: issue.Number,
		IssueTitle:  issue.Title,
		RepoName:    repo.FullName,
	}
}

// delete handles deleted. Re-delivery of a delete for a missing or
// already-deleted issue succeeds without a write.
func (h *issueHandler) delete(ctx context.Context, p *Payload) Result {
	repo, err := h.store.GetRepository(ctx, p.Repository.FullName)
	if err != nil {
		return failure("failed to look up repository: %v", err)
	}
	if repo == nil {
		return success("repository %s not synced", p.Repository.FullName)
	}

	issue, err := h.store.GetIssue(ctx, repo.ID, p.Issue.Number)
	if err != nil {
		return failure("failed to look up issue: %v", err)
	}
	if issue == nil {
		return success("issue #%d not found", p.Issue.Number)
	}
	if issue.IsDeleted {
		return success("issue #%d already deleted", p.Issue.Number)
	}

	if err := h.store.SoftDeleteIssue(ctx, repo.ID, issue.Number); err != nil {
		return failure("failed to delete issue: %v", err)
	}

	h.publish(ctx, notify.Event{
		Kind:         notify.KindIssueDeleted,
		RepoFullName: repo.FullName,
		IssueID:      issue.ID,
		IssueNumber:  issue.Number,
		Title:        issue.Title,
	})

	return Result{
		Success:     true,
		Message:     fmt.Sprintf("issue #%d deleted", issue.Number),
		IssueNumber: issue.Number,
		IssueTitle:  issue.Title,
		RepoName:    repo.FullName,
	}
}

// lookup resolves the repository and issue of a payload. When either is
// unknown locally the delivery is a benign no-op: remote delivery is
// at-least-once and stale events are expected. The returned Result is
// meaningful only when the issue is nil.
func (h *issueHandler) lookup(ctx context.Context, p *Payload) (*models.Repository, *models.Issue, Result) {
	repo, err := h.store.GetRepository(ctx, p.Repository.FullName)
	if err != nil {
		return nil, nil, failure("failed to look up repository: %v", err)
	}
	if repo == nil {
		return nil, nil, success("repository %s not synced", p.Repository.FullName)
	}

	issue, err := h.store.GetIssue(ctx, repo.ID, p.Issue.Number)
	if err != nil {
		return nil, nil, failure("failed to look up issue: %v", err)
	}
	if issue == nil {
		return repo, nil, success("issue #%d not found in %s", p.Issue.Number, repo.FullName)
	}
	return repo, issue, Result{}
}

func (h *issueHandler) storedComments(ctx context.Context, issueID int64) []string {
	comments, err := h.store.RecentComments(ctx, issueID, embedding.MaxComments)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to load comments for embedding text")
		return nil
	}
	bodies := make([]string, 0, len(comments))
	for _, c := range comments {
		bodies = append(bodies, c.Body)
	}
	return bodies
}

// commentHandler applies issue_comment deliveries: it keeps the
// mirrored comments and the issue's comment count current, and
// refreshes the embedding because discussion text feeds it. Embedding
// failure is tolerated here, unlike on the opened/edited issue path.
type commentHandler struct {
	deps
}

func (h *commentHandler) Handle(ctx context.Context, p *Payload) Result {
	if p.Issue == nil || p.Comment == nil || p.Repository == nil {
		return failure("payload missing issue, comment, or repository")
	}
	if p.Issue.PullRequest != nil {
		return success("pull request event ignored")
	}

	repo, err := h.store.GetRepository(ctx, p.Repository.FullName)
	if err != nil {
		return failure("failed to look up repository: %v", err)
	}
	if repo == nil {
		return success("repository %s not synced", p.Repository.FullName)
	}

	issue, err := h.store.GetIssue(ctx, repo.ID, p.Issue.Number)
	if err != nil {
		return failure("failed to look up issue: %v", err)
	}
	if issue == nil {
		return success("issue #%d not found in %s", p.Issue.Number, repo.FullName)
	}

	switch p.Action {
	case "created", "edited":
		comment := &models.Comment{
			ID:        p.Comment.ID,
			IssueID:   issue.ID,
			Body:      p.Comment.Body,
			CreatedAt: p.Comment.CreatedAt,
			UpdatedAt: p.Comment.UpdatedAt,
		}
		if p.Comment.User != nil {
			comment.Author = p.Comment.User.Login
		}
		if err := h.store.UpsertComment(ctx, comment); err != nil {
			return failure("failed to save comment: %v", err)
		}
	case "deleted":
		if err := h.store.DeleteComment(ctx, p.Comment.ID); err != nil {
			return failure("failed to delete comment: %v", err)
		}
	default:
		return success("action %q ignored", p.Action)
	}

	if err := h.store.SetCommentCount(ctx, issue.ID, p.Issue.Comments); err != nil {
		return failure("failed to update comment count: %v", err)
	}

	embedded := false
	if h.embed != nil && p.Action != "deleted" {
		text := embedding.BuildText(issue.Title, issue.Body, h.commentBodies(ctx, issue.ID))
		vec, err := h.embed.Embed(ctx, text)
		if err != nil || vec == nil {
			h.log.Warn().Err(err).Int("issue", issue.Number).
				Msg("embedding refresh failed after comment change")
		} else if err := h.store.SetIssueEmbedding(ctx, issue.ID, vec); err != nil {
			h.log.Warn().Err(err).Int("issue", issue.Number).Msg("failed to store embedding")
		} else {
			embedded = true
		}
	}

	return Result{
		Success:          true,
		Message:          fmt.Sprintf("comment %s on issue #%d", p.Action, issue.Number),
		IssueNumber:      issue.Number,
		IssueTitle:       issue.Title,
		RepoName:         repo.FullName,
		EmbeddingUpdated: embedded,
	}
}

func (h *commentHandler) commentBodies(ctx context.Context, issueID int64) []string {
	comments, err := h.store.RecentComments(ctx, issueID, embedding.MaxComments)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to load comments for embedding text")
		return nil
	}
	bodies := make([]string, 0, len(comments))
	for _, c := range comments {
		bodies = append(bodies, c.Body)
	}
	return bodies
}

// repositoryHandler applies repository deliveries. Only created is
// meaningful: it mirrors the orchestrator's lazy repository creation so
// issues arriving via either path never race a missing parent row.
type repositoryHandler struct {
	deps
}

func (h *repositoryHandler) Handle(ctx context.Context, p *Payload) Result {
	if p.Repository == nil {
		return failure("payload missing repository")
	}
	if p.Action != "created" {
		return success("action %q ignored", p.Action)
	}

	existing, err := h.store.GetRepository(ctx, p.Repository.FullName)
	if err != nil {
		return failure("failed to look up repository: %v", err)
	}
	if existing != nil {
		return Result{
			Success:  true,
			Message:  fmt.Sprintf("repository %s already exists", existing.FullName),
			RepoName: existing.FullName,
		}
	}

	repo := repoFromPayload(p.Repository)
	if err := h.store.UpsertRepository(ctx, repo); err != nil {
		return failure("failed to create repository: %v", err)
	}

	return Result{
		Success:  true,
		Message:  fmt.Sprintf("repository %s created", repo.FullName),
		RepoName: repo.FullName,
	}
}

// labelHandler applies label deliveries. The repository must already be
// known locally; otherwise the delivery is a no-op.
type labelHandler struct {
	deps
}

func (h *labelHandler) Handle(ctx context.Context, p *Payload) Result {
	if p.Label == nil || p.Repository == nil {
		return failure("payload missing label or repository")
	}

	repo, err := h.store.GetRepository(ctx, p.Repository.FullName)
	if err != nil {
		return failure("failed to look up repository: %v", err)
	}
	if repo == nil {
		return success("repository %s not synced", p.Repository.FullName)
	}

	switch p.Action {
	case "created":
		label := &models.Label{RepositoryID: repo.ID, Name: p.Label.Name, Color: p.Label.Color}
		if _, err := h.store.UpsertLabel(ctx, label); err != nil {
			return failure("failed to save label: %v", err)
		}
		return Result{Success: true, Message: fmt.Sprintf("label %q created", p.Label.Name), RepoName: repo.FullName}

	case "edited":
		// A rename arrives with the previous name in the change set;
		// the row under the old name must go before the upsert.
		if p.Changes != nil && p.Changes.Name != nil && p.Changes.Name.From != p.Label.Name {
			if err := h.store.DeleteLabel(ctx, repo.ID, p.Changes.Name.From); err != nil {
				return failure("failed to delete renamed label: %v", err)
			}
		}
		label := &models.Label{RepositoryID: repo.ID, Name: p.Label.Name, Color: p.Label.Color}
		if _, err := h.store.UpsertLabel(ctx, label); err != nil {
			return failure("failed to save label: %v", err)
		}
		return Result{Success: true, Message: fmt.Sprintf("label %q updated", p.Label.Name), RepoName: repo.FullName}

	case "deleted":
		if err := h.store.DeleteLabel(ctx, repo.ID, p.Label.Name); err != nil {
			return failure("failed to delete label: %v", err)
		}
		return Result{Success: true, Message: fmt.Sprintf("label %q deleted", p.Label.Name), RepoName: repo.FullName}

	default:
		return success("action %q ignored", p.Action)
	}
}

func repoFromPayload(p *PayloadRepository) *models.Repository {
	owner := ""
	name := p.FullName
	if i := strings.Index(p.FullName, "/"); i >= 0 {
		owner = p.FullName[:i]
		name = p.FullName[i+1:]
	}
	return &models.Repository{
		ID:       p.ID,
		Owner:    owner,
		Name:     name,
		FullName: p.FullName,
		URL:      p.HTMLURL,
	}
}

func issueFromPayload(repoID int64, p *PayloadIssue) *models.Issue {
	issue := &models.Issue{
		RepositoryID:    repoID,
		Number:          p.Number,
		Title:           p.Title,
		Body:            derefBody(p.Body),
		IsOpen:          p.State == "open",
		URL:             p.HTMLURL,
		GitHubUpdatedAt: p.UpdatedAt,
		SyncedAt:        time.Now(),
		CommentCount:    p.Comments,
	}
	if p.Parent != nil {
		n := p.Parent.Number
		issue.ParentNumber = &n
	}
	return issue
}

func labelNames(labels []PayloadLabel) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

func derefBody(body *string) string {
	if body == nil {
		return ""
	}
	return *body
}

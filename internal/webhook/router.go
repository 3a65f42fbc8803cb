package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/issuemirror/issuemirror/internal/api"
	"github.com/issuemirror/issuemirror/internal/embedding"
	"github.com/issuemirror/issuemirror/internal/models"
	"github.com/issuemirror/issuemirror/internal/notify"
)

// DiscussionFetcher retrieves fresh issue discussion text for embedding
// regeneration. Optional: when absent, handlers fall back to locally
// mirrored comments.
type DiscussionFetcher interface {
	FetchDiscussion(ctx context.Context, owner, name string, number, last int) (*api.Discussion, error)
}

// Store is the persistence surface the webhook handlers drive.
type Store interface {
	GetRepository(ctx context.Context, fullName string) (*models.Repository, error)
	UpsertRepository(ctx context.Context, repo *models.Repository) error
	GetIssue(ctx context.Context, repoID int64, number int) (*models.Issue, error)
	UpsertIssue(ctx context.Context, issue *models.Issue) error
	ReplaceIssueLabels(ctx context.Context, issueID, repoID int64, names []string) error
	SoftDeleteIssue(ctx context.Context, repoID int64, number int) error
	SetIssueEmbedding(ctx context.Context, issueID int64, embedding []float32) error
	SetCommentCount(ctx context.Context, issueID int64, count int) error
	UpsertLabel(ctx context.Context, label *models.Label) (int64, error)
	DeleteLabel(ctx context.Context, repoID int64, name string) error
	UpsertComment(ctx context.Context, comment *models.Comment) error
	DeleteComment(ctx context.Context, commentID int64) error
	RecentComments(ctx context.Context, issueID int64, limit int) ([]models.Comment, error)
}

// Handler applies one validated delivery of a single event category.
type Handler interface {
	Handle(ctx context.Context, p *Payload) Result
}

// Router dispatches a validated payload to the handler registered for
// its event category. The category→handler mapping is built once at
// construction; unknown categories are acknowledged and ignored.
type Router struct {
	handlers map[string]Handler
	log      zerolog.Logger
}

// NewRouter creates a router with the closed set of per-category
// handlers. embed and discuss may be nil when no embedding provider or
// GraphQL client is configured.
func NewRouter(store Store, embed embedding.Provider, discuss DiscussionFetcher, notifier notify.Notifier, log zerolog.Logger) *Router {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	d := deps{
		store:    store,
		embed:    embed,
		discuss:  discuss,
		notifier: notifier,
		log:      log,
	}
	return &Router{
		handlers: map[string]Handler{
			"issues":        &issueHandler{deps: d},
			"issue_comment": &commentHandler{deps: d},
			"repository":    &repositoryHandler{deps: d},
			"label":         &labelHandler{deps: d},
		},
		log: log,
	}
}

// Dispatch deserializes a delivery body and hands it to the handler for
// the event category.
func (r *Router) Dispatch(ctx context.Context, event string, body []byte) Result {
	handler, ok := r.handlers[event]
	if !ok {
		r.log.Debug().Str("event", event).Msg("unhandled event category")
		return Result{Success: true, Message: fmt.Sprintf("event %q ignored", event)}
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{Success: false, Message: fmt.Sprintf("malformed payload: %v", err)}
	}

	res := handler.Handle(ctx, &p)
	r.log.Info().
		Str("event", event).
		Str("action", p.Action).
		Bool("success", res.Success).
		Str("message", res.Message).
		Msg("webhook handled")
	return res
}

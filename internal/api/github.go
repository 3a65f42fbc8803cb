package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// PerPage is the page size requested from the GitHub REST API. A page
// shorter than this signals the end of a listing.
const PerPage = 100

// GitHubClient represents a client for the GitHub REST API. It is
// stateless and has no knowledge of local storage.
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a new GitHub API client. An empty token yields
// an unauthenticated client.
func NewGitHubClient(token string) *GitHubClient {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(tc)
	return &GitHubClient{client: client}
}

// RemoteRepository is a repository as reported by the remote API.
type RemoteRepository struct {
	ID       int64
	Owner    string
	Name     string
	FullName string
	URL      string
}

// RemoteIssue is one issue as reported by the remote API. Issues that
// are pull requests carry PullRequest=true and are filtered out by
// later stages, not by the client.
type RemoteIssue struct {
	Number       int
	Title        string
	Body         *string
	Open         bool
	URL          string
	UpdatedAt    time.Time
	ParentNumber *int
	Labels       []string
	PullRequest  bool
	CommentCount int
}

// RemoteComment is one issue comment as reported by the remote API.
type RemoteComment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemoteEvent is one issue-timeline event as reported by the remote API.
type RemoteEvent struct {
	ID          int64
	IssueNumber int
	Type        string
	Actor       string
	CreatedAt   time.Time
}

// GetRepository gets a repository by owner and name.
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*RemoteRepository, error) {
	repo, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	return &RemoteRepository{
		ID:       repo.GetID(),
		Owner:    repo.GetOwner().GetLogin(),
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
		URL:      repo.GetHTMLURL(),
	}, nil
}

// issueRecord is the wire shape of one issue. The typed issues service
// does not expose the sub-issue parent field, so the listing goes
// through a raw request.
type issueRecord struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      *string   `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
	Comments    int       `json:"comments"`
	Parent      *struct {
		Number int `json:"number"`
	} `json:"parent"`
}

// ListIssues lists all issues of a repository across all pages, newest
// update first. A non-nil since restricts the listing to issues updated
// at or after the cutoff. The second return value is the number of API
// calls made.
func (c *GitHubClient) ListIssues(ctx context.Context, owner, name string, since *time.Time) ([]RemoteIssue, int, error) {
	var all []RemoteIssue
	calls := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, calls, err
		}

		q := url.Values{}
		q.Set("state", "all")
		q.Set("sort", "updated")
		q.Set("direction", "desc")
		q.Set("per_page", strconv.Itoa(PerPage))
		q.Set("page", strconv.Itoa(page))
		if since != nil {
			q.Set("since", since.UTC().Format(time.RFC3339))
		}

		u := fmt.Sprintf("repos/%s/%s/issues?%s", owner, name, q.Encode())
		req, err := c.client.NewRequest("GET", u, nil)
		if err != nil {
			return nil, calls, fmt.Errorf("failed to build issues request: %w", err)
		}

		var records []issueRecord
		calls++
		if _, err := c.client.Do(ctx, req, &records); err != nil {
			return nil, calls, fmt.Errorf("failed to list issues: %w", err)
		}

		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			all = append(all, convertIssueRecord(rec))
		}
		if len(records) < PerPage {
			break
		}
	}

	return all, calls, nil
}

// ListComments lists all comments of an issue across all pages.
func (c *GitHubClient) ListComments(ctx context.Context, owner, name string, number int) ([]RemoteComment, int, error) {
	var all []RemoteComment
	calls := 0
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{
			PerPage: PerPage,
		},
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, calls, err
		}

		comments, resp, err := c.client.Issues.ListComments(ctx, owner, name, number, opts)
		calls++
		if err != nil {
			return nil, calls, fmt.Errorf("failed to list comments: %w", err)
		}

		for _, comment := range comments {
			all = append(all, convertComment(comment))
		}

		if len(comments) < PerPage || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, calls, nil
}

// ListIssueEvents lists issue-timeline events for a repository. The
// remote service returns events newest first; when since is non-nil the
// listing stops as soon as the first event older than the cutoff is
// observed.
func (c *GitHubClient) ListIssueEvents(ctx context.Context, owner, name string, since *time.Time) ([]RemoteEvent, int, error) {
	var all []RemoteEvent
	calls := 0
	opts := &github.ListOptions{
		PerPage: PerPage,
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, calls, err
		}

		events, resp, err := c.client.Issues.ListRepositoryEvents(ctx, owner, name, opts)
		calls++
		if err != nil {
			return nil, calls, fmt.Errorf("failed to list issue events: %w", err)
		}

		for _, ev := range events {
			if since != nil && ev.GetCreatedAt().Time.Before(*since) {
				return all, calls, nil
			}
			if ev.GetIssue() == nil {
				continue
			}
			all = append(all, convertIssueEvent(ev))
		}

		if len(events) < PerPage || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, calls, nil
}

// ListRepositoriesForOwner lists all repositories of an owner across
// all pages.
func (c *GitHubClient) ListRepositoriesForOwner(ctx context.Context, owner string) ([]RemoteRepository, int, error) {
	var all []RemoteRepository
	calls := 0
	opts := &github.RepositoryListOptions{
		ListOptions: github.ListOptions{
			PerPage: PerPage,
		},
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, calls, err
		}

		repos, resp, err := c.client.Repositories.List(ctx, owner, opts)
		calls++
		if err != nil {
			return nil, calls, fmt.Errorf("failed to list repositories: %w", err)
		}

		for _, repo := range repos {
			all = append(all, RemoteRepository{
				ID:       repo.GetID(),
				Owner:    repo.GetOwner().GetLogin(),
				Name:     repo.GetName(),
				FullName: repo.GetFullName(),
				URL:      repo.GetHTMLURL(),
			})
		}

		if len(repos) < PerPage || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, calls, nil
}

func convertIssueRecord(rec issueRecord) RemoteIssue {
	issue := RemoteIssue{
		Number:       rec.Number,
		Title:        rec.Title,
		Body:         rec.Body,
		Open:         rec.State == "open",
		URL:          rec.HTMLURL,
		UpdatedAt:    rec.UpdatedAt,
		PullRequest:  rec.PullRequest != nil,
		CommentCount: rec.Comments,
	}
	for _, label := range rec.Labels {
		issue.Labels = append(issue.Labels, label.Name)
	}
	if rec.Parent != nil {
		n := rec.Parent.Number
		issue.ParentNumber = &n
	}
	return issue
}

func convertComment(comment *github.IssueComment) RemoteComment {
	return RemoteComment{
		ID:        comment.GetID(),
		Author:    comment.GetUser().GetLogin(),
		Body:      comment.GetBody(),
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
	}
}

func convertIssueEvent(ev *github.IssueEvent) RemoteEvent {
	return RemoteEvent{
		ID:          ev.GetID(),
		IssueNumber: ev.GetIssue().GetNumber(),
		Type:        ev.GetEvent(),
		Actor:       ev.GetActor().GetLogin(),
		CreatedAt:   ev.GetCreatedAt().Time,
	}
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at a local test server.
func newTestClient(t *testing.T, handler http.Handler) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewGitHubClient("")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	c.client.BaseURL = base
	return c
}

func issueJSON(number int, extra string) string {
	if extra != "" {
		extra = "," + extra
	}
	return fmt.Sprintf(`{"number":%d,"title":"issue %d","state":"open","updated_at":"2025-06-01T12:00:00Z"%s}`, number, number, extra)
}

func TestListIssuesStopsOnShortPage(t *testing.T) {
	var pages []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s,%s]", issueJSON(1, ""), issueJSON(2, ""))
	})

	c := newTestClient(t, handler)
	issues, calls, err := c.ListIssues(context.Background(), "acme", "widgets", nil)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"1"}, pages, "a short page must end the listing")
}

func TestListIssuesPaginates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			items := make([]string, PerPage)
			for i := range items {
				items[i] = issueJSON(i+1, "")
			}
			fmt.Fprintf(w, "[%s]", strings.Join(items, ","))
		default:
			fmt.Fprintf(w, "[%s]", issueJSON(PerPage+1, ""))
		}
	})

	c := newTestClient(t, handler)
	issues, calls, err := c.ListIssues(context.Background(), "acme", "widgets", nil)
	require.NoError(t, err)
	assert.Len(t, issues, PerPage+1)
	assert.Equal(t, 2, calls)
}

func TestListIssuesSinceParam(t *testing.T) {
	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var got string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[]")
	})

	c := newTestClient(t, handler)
	_, _, err := c.ListIssues(context.Background(), "acme", "widgets", &since)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T12:00:00Z", got)
}

func TestListIssuesExtractsParentAndPullRequest(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s,%s,%s]",
			issueJSON(1, `"labels":[{"name":"bug"},{"name":"urgent"}],"comments":4`),
			issueJSON(2, `"pull_request":{"url":"https://api.github.com/repos/acme/widgets/pulls/2"}`),
			issueJSON(3, `"parent":{"number":1}`),
		)
	})

	c := newTestClient(t, handler)
	issues, _, err := c.ListIssues(context.Background(), "acme", "widgets", nil)
	require.NoError(t, err)
	require.Len(t, issues, 3)

	assert.Equal(t, []string{"bug", "urgent"}, issues[0].Labels)
	assert.Equal(t, 4, issues[0].CommentCount)
	assert.Nil(t, issues[0].ParentNumber)
	assert.False(t, issues[0].PullRequest)

	assert.True(t, issues[1].PullRequest)

	require.NotNil(t, issues[2].ParentNumber)
	assert.Equal(t, 1, *issues[2].ParentNumber)
}

func TestListIssuesServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})

	c := newTestClient(t, handler)
	_, calls, err := c.ListIssues(context.Background(), "acme", "widgets", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestListIssueEventsStopsAtCutoff(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Newest first; the last entry predates the cutoff.
		fmt.Fprint(w, `[
			{"id":3,"event":"closed","actor":{"login":"octocat"},"created_at":"2025-06-01T14:00:00Z","issue":{"number":5}},
			{"id":2,"event":"labeled","actor":{"login":"octocat"},"created_at":"2025-06-01T13:00:00Z","issue":{"number":5}},
			{"id":1,"event":"opened","actor":{"login":"octocat"},"created_at":"2025-06-01T10:00:00Z","issue":{"number":5}}
		]`)
	})

	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, handler)
	events, calls, err := c.ListIssueEvents(context.Background(), "acme", "widgets", &since)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].ID)
	assert.Equal(t, "closed", events[0].Type)
	assert.Equal(t, 5, events[0].IssueNumber)
	assert.Equal(t, int64(2), events[1].ID)
}

func TestGetRepository(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":42,"name":"widgets","full_name":"acme/widgets","owner":{"login":"acme"},"html_url":"https://github.com/acme/widgets"}`)
	})

	c := newTestClient(t, handler)
	repo, err := c.GetRepository(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(42), repo.ID)
	assert.Equal(t, "acme", repo.Owner)
	assert.Equal(t, "widgets", repo.Name)
	assert.Equal(t, "acme/widgets", repo.FullName)
}

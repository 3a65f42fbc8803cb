package api

import (
	"context"
	"fmt"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// DiscussionFetcher retrieves an issue together with its most recent
// comments in a single GraphQL query. It exists for embedding-text
// assembly, where a round trip per comment page would be wasteful.
type DiscussionFetcher struct {
	client *githubv4.Client
}

// NewDiscussionFetcher creates a new GraphQL discussion fetcher. The
// GraphQL endpoint requires authentication, so a token is mandatory.
func NewDiscussionFetcher(token string) *DiscussionFetcher {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)
	return &DiscussionFetcher{client: githubv4.NewClient(httpClient)}
}

// Discussion is the text content of an issue: title, body, and the most
// recent comment bodies in chronological order.
type Discussion struct {
	Title    string
	Body     string
	Comments []string
}

// FetchDiscussion fetches the title, body, and up to last recent
// comments of one issue.
func (f *DiscussionFetcher) FetchDiscussion(ctx context.Context, owner, name string, number, last int) (*Discussion, error) {
	var query struct {
		Repository struct {
			Issue struct {
				Title    githubv4.String
				Body     githubv4.String
				Comments struct {
					Nodes []struct {
						Body githubv4.String
					}
				} `graphql:"comments(last: $last)"`
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
		"last":   githubv4.Int(last),
	}

	if err := f.client.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("failed to fetch issue discussion: %w", err)
	}

	d := &Discussion{
		Title: string(query.Repository.Issue.Title),
		Body:  string(query.Repository.Issue.Body),
	}
	for _, node := range query.Repository.Issue.Comments.Nodes {
		d.Comments = append(d.Comments, string(node.Body))
	}
	return d, nil
}

// Package embedding defines the embedding-generation collaborator
// consumed by the sync and webhook paths. Concrete providers (local or
// cloud models) live outside this repository.
package embedding

import (
	"context"
	"strings"
)

// MaxComments is the number of recent comments folded into the
// embedding text of an issue.
const MaxComments = 10

// Provider generates a vector embedding for issue text. A nil vector
// with a nil error means the provider declined; callers decide whether
// that is tolerable.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BuildText assembles the embedding source text for an issue from its
// title, body, and recent comment bodies.
func BuildText(title, body string, comments []string) string {
	var b strings.Builder
	b.WriteString(title)
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	for _, comment := range comments {
		if comment == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(comment)
	}
	return b.String()
}

package webhook

import (
	"time"
)

// Payload is the deserialized body of a webhook delivery. The event
// category decides which optional sections are present.
type Payload struct {
	Action     string             `json:"action"`
	Issue      *PayloadIssue      `json:"issue,omitempty"`
	Comment    *PayloadComment    `json:"comment,omitempty"`
	Label      *PayloadLabel      `json:"label,omitempty"`
	Repository *PayloadRepository `json:"repository,omitempty"`
	Changes    *PayloadChanges    `json:"changes,omitempty"`
}

// PayloadIssue is the issue section of a delivery.
type PayloadIssue struct {
	Number    int            `json:"number"`
	Title     string         `json:"title"`
	Body      *string        `json:"body"`
	State     string         `json:"state"`
	HTMLURL   string         `json:"html_url"`
	UpdatedAt time.Time      `json:"updated_at"`
	Labels    []PayloadLabel `json:"labels"`
	Comments  int            `json:"comments"`

	// PullRequest is non-nil when the "issue" is actually a pull
	// request; such deliveries are acknowledged and dropped.
	PullRequest *struct{} `json:"pull_request,omitempty"`

	Parent *struct {
		Number int `json:"number"`
	} `json:"parent,omitempty"`
}

// PayloadComment is the comment section of an issue_comment delivery.
type PayloadComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	User *struct {
		Login string `json:"login"`
	} `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PayloadLabel is a label, either the subject of a label event or one
// entry of an issue's label list.
type PayloadLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// PayloadRepository is the repository section of a delivery.
type PayloadRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// PayloadChanges carries the previous values on edited actions. Label
// renames arrive here as changes.name.from.
type PayloadChanges struct {
	Name *struct {
		From string `json:"from"`
	} `json:"name,omitempty"`
}

// Result is the uniform outcome a handler reports for one delivery.
type Result struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	IssueNumber      int    `json:"issue_number,omitempty"`
	IssueTitle       string `json:"issue_title,omitempty"`
	RepoName         string `json:"repo_name,omitempty"`
	EmbeddingUpdated bool   `json:"embedding_updated,omitempty"`
}

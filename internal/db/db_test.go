package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuemirror/issuemirror/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Initialize(context.Background()))
	return database
}

func testRepo() *models.Repository {
	return &models.Repository{
		ID:       42,
		Owner:    "acme",
		Name:     "widgets",
		FullName: "acme/widgets",
		URL:      "https://github.com/acme/widgets",
	}
}

func testIssue(number int, updated time.Time) *models.Issue {
	return &models.Issue{
		RepositoryID:    42,
		Number:          number,
		Title:           "a title",
		Body:            "a body",
		IsOpen:          true,
		URL:             "https://github.com/acme/widgets/issues/1",
		GitHubUpdatedAt: updated,
		SyncedAt:        time.Now().UTC(),
	}
}

func TestUpsertIssueIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := testIssue(1, updated)
	require.NoError(t, database.UpsertIssue(ctx, first))

	second := testIssue(1, updated)
	second.Title = "a newer title"
	require.NoError(t, database.UpsertIssue(ctx, second))

	// Same key, one row, content of the second application.
	assert.Equal(t, first.ID, second.ID)
	issues, err := database.IssuesByRepository(ctx, 42)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "a newer title", issues[1].Title)
	assert.True(t, issues[1].GitHubUpdatedAt.Equal(updated))
}

func TestSoftDeleteAndResurrect(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	issue := testIssue(7, time.Now().UTC())
	require.NoError(t, database.UpsertIssue(ctx, issue))

	require.NoError(t, database.SoftDeleteIssue(ctx, 42, 7))
	got, err := database.GetIssue(ctx, 42, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsDeleted)

	// A re-appearing issue is undeleted by the upsert.
	require.NoError(t, database.UpsertIssue(ctx, testIssue(7, time.Now().UTC())))
	got, err = database.GetIssue(ctx, 42, 7)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
}

func TestReplaceIssueLabels(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	issue := testIssue(7, time.Now().UTC())
	require.NoError(t, database.UpsertIssue(ctx, issue))

	require.NoError(t, database.ReplaceIssueLabels(ctx, issue.ID, 42, []string{"bug", "urgent"}))
	names, err := database.IssueLabelNames(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug", "urgent"}, names)

	require.NoError(t, database.ReplaceIssueLabels(ctx, issue.ID, 42, []string{"bug"}))
	names, err = database.IssueLabelNames(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug"}, names)

	require.NoError(t, database.ReplaceIssueLabels(ctx, issue.ID, 42, nil))
	names, err = database.IssueLabelNames(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLabelRename(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	_, err := database.UpsertLabel(ctx, &models.Label{RepositoryID: 42, Name: "bug", Color: "ff0000"})
	require.NoError(t, err)

	require.NoError(t, database.DeleteLabel(ctx, 42, "bug"))
	_, err = database.UpsertLabel(ctx, &models.Label{RepositoryID: 42, Name: "defect", Color: "ff0000"})
	require.NoError(t, err)

	// Deleting a label that never existed is a no-op.
	require.NoError(t, database.DeleteLabel(ctx, 42, "missing"))
}

func TestInsertIssueEventDedup(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	issue := testIssue(1, time.Now().UTC())
	require.NoError(t, database.UpsertIssue(ctx, issue))

	event := &models.IssueEvent{
		GitHubEventID: 9001,
		IssueID:       issue.ID,
		EventType:     "labeled",
		Actor:         "octocat",
		CreatedAt:     time.Now().UTC(),
	}

	inserted, err := database.InsertIssueEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = database.InsertIssueEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, inserted, "repeated GitHubEventID must not insert twice")
}

func TestWatermark(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	repo, err := database.GetRepository(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Nil(t, repo)

	require.NoError(t, database.UpsertRepository(ctx, testRepo()))
	repo, err = database.GetRepository(ctx, "acme/widgets")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Nil(t, repo.LastSyncedAt, "never-synced repository has no watermark")

	mark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, database.SetLastSynced(ctx, "acme/widgets", mark))
	repo, err = database.GetRepository(ctx, "acme/widgets")
	require.NoError(t, err)
	require.NotNil(t, repo.LastSyncedAt)
	assert.True(t, repo.LastSyncedAt.Equal(mark))

	assert.Error(t, database.SetLastSynced(ctx, "acme/unknown", mark))
}

func TestEmbeddingRoundtrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	issue := testIssue(1, time.Now().UTC())
	require.NoError(t, database.UpsertIssue(ctx, issue))

	vec := []float32{0.25, -1.5, 3.0}
	require.NoError(t, database.SetIssueEmbedding(ctx, issue.ID, vec))
	got, err := database.GetIssue(ctx, 42, 1)
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)

	// Upserting the row again must not clobber the vector.
	require.NoError(t, database.UpsertIssue(ctx, testIssue(1, time.Now().UTC())))
	got, err = database.GetIssue(ctx, 42, 1)
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)

	require.NoError(t, database.SetIssueEmbedding(ctx, issue.ID, nil))
	got, err = database.GetIssue(ctx, 42, 1)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

func TestParentResolution(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	parent := testIssue(1, time.Now().UTC())
	require.NoError(t, database.UpsertIssue(ctx, parent))

	parentNumber := 1
	child := testIssue(2, time.Now().UTC())
	child.ParentNumber = &parentNumber
	require.NoError(t, database.UpsertIssue(ctx, child))

	got, err := database.GetIssue(ctx, 42, 2)
	require.NoError(t, err)
	require.NotNil(t, got.ParentIssueID)
	assert.Equal(t, parent.ID, *got.ParentIssueID)

	// Unknown parent numbers stay unresolved.
	orphanParent := 99
	orphan := testIssue(3, time.Now().UTC())
	orphan.ParentNumber = &orphanParent
	require.NoError(t, database.UpsertIssue(ctx, orphan))
	got, err = database.GetIssue(ctx, 42, 3)
	require.NoError(t, err)
	assert.Nil(t, got.ParentIssueID)
}

func TestRecentComments(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, database.UpsertRepository(ctx, testRepo()))

	issue := testIssue(1, time.Now().UTC())
	require.NoError(t, database.UpsertIssue(ctx, issue))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		comment := &models.Comment{
			ID:        int64(100 + i),
			IssueID:   issue.ID,
			Author:    "octocat",
			Body:      string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, database.UpsertComment(ctx, comment))
	}

	comments, err := database.RecentComments(ctx, issue.ID, 3)
	require.NoError(t, err)
	require.Len(t, comments, 3)
	// Most recent three, oldest first.
	assert.Equal(t, "c", comments[0].Body)
	assert.Equal(t, "e", comments[2].Body)

	require.NoError(t, database.DeleteComment(ctx, 104))
	comments, err = database.RecentComments(ctx, issue.ID, 10)
	require.NoError(t, err)
	assert.Len(t, comments, 4)
}

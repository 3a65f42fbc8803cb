package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/issuemirror/issuemirror/internal/models"
)

// DB represents the database connection for the local mirror.
type DB struct {
	*sql.DB
}

// New creates a new database connection.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist.
func (db *DB) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL DEFAULT '',
		last_synced_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		is_open BOOLEAN NOT NULL DEFAULT 1,
		url TEXT NOT NULL DEFAULT '',
		github_updated_at TIMESTAMP NOT NULL,
		synced_at TIMESTAMP NOT NULL,
		embedding BLOB,
		parent_issue_id INTEGER,
		is_deleted BOOLEAN NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (repository_id) REFERENCES repositories(id),
		FOREIGN KEY (parent_issue_id) REFERENCES issues(id),
		UNIQUE(repository_id, number)
	);

	CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY,
		issue_id INTEGER NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (issue_id) REFERENCES issues(id)
	);

	CREATE TABLE IF NOT EXISTS labels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (repository_id) REFERENCES repositories(id),
		UNIQUE(repository_id, name)
	);

	CREATE TABLE IF NOT EXISTS issue_labels (
		issue_id INTEGER NOT NULL,
		label_id INTEGER NOT NULL,
		PRIMARY KEY (issue_id, label_id),
		FOREIGN KEY (issue_id) REFERENCES issues(id),
		FOREIGN KEY (label_id) REFERENCES labels(id)
	);

	CREATE TABLE IF NOT EXISTS event_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS issue_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_event_id INTEGER NOT NULL UNIQUE,
		issue_id INTEGER NOT NULL,
		event_type_id INTEGER NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (issue_id) REFERENCES issues(id),
		FOREIGN KEY (event_type_id) REFERENCES event_types(id)
	);

	CREATE INDEX IF NOT EXISTS idx_issues_repository ON issues(repository_id);
	CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id);
	CREATE INDEX IF NOT EXISTS idx_issue_events_issue ON issue_events(issue_id);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// UpsertRepository saves a repository. The watermark is never touched
// here; it only moves through SetLastSynced.
func (db *DB) UpsertRepository(ctx context.Context, repo *models.Repository) error {
	query := `
	INSERT INTO repositories (id, owner, name, full_name, url)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(full_name) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		url = excluded.url
	`

	_, err := db.ExecContext(ctx, query, repo.ID, repo.Owner, repo.Name, repo.FullName, repo.URL)
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	return nil
}

// GetRepository gets a repository by its full name. Returns (nil, nil)
// when the repository is not known locally.
func (db *DB) GetRepository(ctx context.Context, fullName string) (*models.Repository, error) {
	query := `SELECT id, owner, name, full_name, url, last_synced_at FROM repositories WHERE full_name = ?`

	var repo models.Repository
	var lastSynced sql.NullTime
	err := db.QueryRowContext(ctx, query, fullName).Scan(
		&repo.ID, &repo.Owner, &repo.Name, &repo.FullName, &repo.URL, &lastSynced,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		repo.LastSyncedAt = &t
	}

	return &repo, nil
}

// SetLastSynced advances the sync watermark for a repository.
func (db *DB) SetLastSynced(ctx context.Context, fullName string, t time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE repositories SET last_synced_at = ? WHERE full_name = ?`, t, fullName)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository %s not found", fullName)
	}
	return nil
}

// UpsertIssue saves an issue keyed by (repository_id, number) and fills
// in the local row id. A re-appearing issue is undeleted. The embedding
// column is never written here; it only moves through SetIssueEmbedding.
func (db *DB) UpsertIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ParentNumber != nil {
		parent, err := db.GetIssue(ctx, issue.RepositoryID, *issue.ParentNumber)
		if err != nil {
			return err
		}
		if parent != nil {
			issue.ParentIssueID = &parent.ID
		}
	}

	query := `
	INSERT INTO issues (repository_id, number, title, body, is_open, url, github_updated_at, synced_at, parent_issue_id, is_deleted, comment_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	ON CONFLICT(repository_id, number) DO UPDATE SET
		title = excluded.title,
		body = excluded.body,
		is_open = excluded.is_open,
		url = excluded.url,
		github_updated_at = excluded.github_updated_at,
		synced_at = excluded.synced_at,
		parent_issue_id = excluded.parent_issue_id,
		is_deleted = 0,
		comment_count = excluded.comment_count
	RETURNING id
	`

	err := db.QueryRowContext(ctx, query,
		issue.RepositoryID,
		issue.Number,
		issue.Title,
		issue.Body,
		issue.IsOpen,
		issue.URL,
		issue.GitHubUpdatedAt,
		issue.SyncedAt,
		issue.ParentIssueID,
		issue.CommentCount,
	).Scan(&issue.ID)
	if err != nil {
		return fmt.Errorf("failed to save issue #%d: %w", issue.Number, err)
	}

	return nil
}

// GetIssue gets an issue by repository id and number. Returns (nil, nil)
// when no such row exists.
func (db *DB) GetIssue(ctx context.Context, repoID int64, number int) (*models.Issue, error) {
	query := `
	SELECT id, repository_id, number, title, body, is_open, url, github_updated_at, synced_at, embedding, parent_issue_id, is_deleted, comment_count
	FROM issues WHERE repository_id = ? AND number = ?
	`

	issue, err := scanIssue(db.QueryRowContext(ctx, query, repoID, number))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}
	return issue, nil
}

// IssuesByRepository returns all issues of a repository keyed by number,
// soft-deleted rows included. This is the differ's local snapshot.
func (db *DB) IssuesByRepository(ctx context.Context, repoID int64) (map[int]*models.Issue, error) {
	query := `
	SELECT id, repository_id, number, title, body, is_open, url, github_updated_at, synced_at, embedding, parent_issue_id, is_deleted, comment_count
	FROM issues WHERE repository_id = ?
	`

	rows, err := db.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	issues := make(map[int]*models.Issue)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues[issue.Number] = issue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}

	return issues, nil
}

// SoftDeleteIssue marks an issue deleted without removing the row.
func (db *DB) SoftDeleteIssue(ctx context.Context, repoID int64, number int) error {
	_, err := db.ExecContext(ctx,
		`UPDATE issues SET is_deleted = 1 WHERE repository_id = ? AND number = ?`, repoID, number)
	if err != nil {
		return fmt.Errorf("failed to soft-delete issue #%d: %w", number, err)
	}
	return nil
}

// SetIssueEmbedding stores an issue's embedding vector. A nil vector
// clears the column.
func (db *DB) SetIssueEmbedding(ctx context.Context, issueID int64, embedding []float32) error {
	_, err := db.ExecContext(ctx,
		`UPDATE issues SET embedding = ? WHERE id = ?`, encodeEmbedding(embedding), issueID)
	if err != nil {
		return fmt.Errorf("failed to set issue embedding: %w", err)
	}
	return nil
}

// SetCommentCount updates the mirrored comment count of an issue.
func (db *DB) SetCommentCount(ctx context.Context, issueID int64, count int) error {
	_, err := db.ExecContext(ctx,
		`UPDATE issues SET comment_count = ? WHERE id = ?`, count, issueID)
	if err != nil {
		return fmt.Errorf("failed to set comment count: %w", err)
	}
	return nil
}

// UpsertLabel saves a label keyed by (repository_id, name).
func (db *DB) UpsertLabel(ctx context.Context, label *models.Label) (int64, error) {
	query := `
	INSERT INTO labels (repository_id, name, color)
	VALUES (?, ?, ?)
	ON CONFLICT(repository_id, name) DO UPDATE SET
		color = excluded.color
	RETURNING id
	`

	var id int64
	err := db.QueryRowContext(ctx, query, label.RepositoryID, label.Name, label.Color).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save label %s: %w", label.Name, err)
	}
	label.ID = id
	return id, nil
}

// DeleteLabel removes a label and its issue associations.
func (db *DB) DeleteLabel(ctx context.Context, repoID int64, name string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to delete label %s: %w", name, err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM labels WHERE repository_id = ? AND name = ?`, repoID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete label %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE label_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete label %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete label %s: %w", name, err)
	}

	return tx.Commit()
}

// ReplaceIssueLabels makes the label set of an issue exactly match
// names: missing associations are added, stale ones removed. Label rows
// are created on demand.
func (db *DB) ReplaceIssueLabels(ctx context.Context, issueID, repoID int64, names []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to replace issue labels: %w", err)
	}
	defer tx.Rollback()

	keep := make([]int64, 0, len(names))
	for _, name := range names {
		// The no-op DO UPDATE makes RETURNING yield the row on
		// conflict as well.
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO labels (repository_id, name, color)
			VALUES (?, ?, '')
			ON CONFLICT(repository_id, name) DO UPDATE SET name = excluded.name
			RETURNING id`, repoID, name).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to replace issue labels: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO issue_labels (issue_id, label_id) VALUES (?, ?)`, issueID, id); err != nil {
			return fmt.Errorf("failed to replace issue labels: %w", err)
		}
		keep = append(keep, id)
	}

	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id = ?`, issueID); err != nil {
			return fmt.Errorf("failed to replace issue labels: %w", err)
		}
	} else {
		placeholders := strings.Repeat("?,", len(keep)-1) + "?"
		args := make([]interface{}, 0, len(keep)+1)
		args = append(args, issueID)
		for _, id := range keep {
			args = append(args, id)
		}
		query := fmt.Sprintf(`DELETE FROM issue_labels WHERE issue_id = ? AND label_id NOT IN (%s)`, placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to replace issue labels: %w", err)
		}
	}

	return tx.Commit()
}

// IssueLabelNames returns the names of the labels associated with an
// issue, sorted by name.
func (db *DB) IssueLabelNames(ctx context.Context, issueID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT l.name FROM labels l
		JOIN issue_labels il ON il.label_id = l.id
		WHERE il.issue_id = ?
		ORDER BY l.name`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issue labels: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list issue labels: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertComment saves an issue comment.
func (db *DB) UpsertComment(ctx context.Context, comment *models.Comment) error {
	query := `
	INSERT INTO comments (id, issue_id, author, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		comment.ID, comment.IssueID, comment.Author, comment.Body, comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}
	return nil
}

// DeleteComment removes a comment row.
func (db *DB) DeleteComment(ctx context.Context, commentID int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, commentID)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// RecentComments returns up to limit most recent comments of an issue,
// oldest first.
func (db *DB) RecentComments(ctx context.Context, issueID int64, limit int) ([]models.Comment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, issue_id, author, body, created_at, updated_at FROM (
			SELECT * FROM comments WHERE issue_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, issueID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// InsertIssueEvent inserts a timeline event unless its GitHub event id
// is already present. Reports whether a row was inserted.
func (db *DB) InsertIssueEvent(ctx context.Context, event *models.IssueEvent) (bool, error) {
	typeID, err := db.getOrCreateEventType(ctx, event.EventType)
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO issue_events (github_event_id, issue_id, event_type_id, actor, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.GitHubEventID, event.IssueID, typeID, event.Actor, event.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to save issue event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to save issue event: %w", err)
	}
	return n > 0, nil
}

func (db *DB) getOrCreateEventType(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO event_types (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save event type %s: %w", name, err)
	}
	return id, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var issue models.Issue
	var embedding []byte
	var parent sql.NullInt64
	err := row.Scan(
		&issue.ID,
		&issue.RepositoryID,
		&issue.Number,
		&issue.Title,
		&issue.Body,
		&issue.IsOpen,
		&issue.URL,
		&issue.GitHubUpdatedAt,
		&issue.SyncedAt,
		&embedding,
		&parent,
		&issue.IsDeleted,
		&issue.CommentCount,
	)
	if err != nil {
		return nil, err
	}
	issue.Embedding = decodeEmbedding(embedding)
	if parent.Valid {
		id := parent.Int64
		issue.ParentIssueID = &id
	}
	return &issue, nil
}

// encodeEmbedding packs a vector as little-endian float32 bits.
func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

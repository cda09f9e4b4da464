package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trackd/trackd/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// nullable converts an empty string to NULL for SQLite storage.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE name = ?`, name,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, created_at FROM users ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Issues ---

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = newULID()
	}
	if issue.Status == "" {
		issue.Status = models.IssueStatusOpen
	}
	issue.Version = 1
	issue.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issues (id, title, description, status, assignee_id, version, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Title, issue.Description, string(issue.Status),
		nullable(issue.AssigneeID), issue.Version, issue.CreatedAt, issue.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	issue := &models.Issue{}
	var status string
	var assignee sql.NullString
	var resolvedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, assignee_id, version, created_at, resolved_at
		FROM issues WHERE id = ?`, id,
	).Scan(&issue.ID, &issue.Title, &issue.Description, &status, &assignee,
		&issue.Version, &issue.CreatedAt, &resolvedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}

	issue.Status = models.IssueStatus(status)
	if assignee.Valid {
		issue.AssigneeID = assignee.String
	}
	if resolvedAt.Valid {
		issue.ResolvedAt = &resolvedAt.Time
	}

	// Load labels
	labels, err := s.GetIssueLabels(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range labels {
		issue.Labels = append(issue.Labels, l.Name)
	}

	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT id, title, description, status, assignee_id, version, created_at, resolved_at FROM issues`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.Label != "" {
		conditions = append(conditions, "id IN (SELECT issue_id FROM issue_labels JOIN labels ON labels.id = issue_labels.label_id WHERE labels.name = ?)")
		args = append(args, filter.Label)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if !filter.CreatedFrom.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.CreatedTo.UTC())
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue := &models.Issue{}
		var status string
		var assignee sql.NullString
		var resolvedAt sql.NullTime

		if err := rows.Scan(&issue.ID, &issue.Title, &issue.Description, &status, &assignee,
			&issue.Version, &issue.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}

		issue.Status = models.IssueStatus(status)
		if assignee.Valid {
			issue.AssigneeID = assignee.String
		}
		if resolvedAt.Valid {
			issue.ResolvedAt = &resolvedAt.Time
		}

		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) UpdateIssueVersioned(ctx context.Context, issue *models.Issue, clientVersion int) error {
	// Conditional update: the version check and the increment happen in one
	// statement, so two racing writers cannot both succeed on the same
	// version.
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET title=?, description=?, status=?, assignee_id=?, version=version+1
		WHERE id=? AND version=?`,
		issue.Title, issue.Description, string(issue.Status), nullable(issue.AssigneeID),
		issue.ID, clientVersion,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Distinguish a stale version from a missing issue.
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM issues WHERE id = ?", issue.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("issue %s: %w", issue.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update issue: %w", err)
		}
		return fmt.Errorf("issue %s: %w", issue.ID, ErrConflict)
	}
	issue.Version = clientVersion + 1
	return nil
}

func (s *SQLiteStore) DeleteIssue(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) BulkSetStatus(ctx context.Context, changes []StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, ch := range changes {
		var result sql.Result
		if ch.Status == models.IssueStatusClosed {
			result, err = tx.ExecContext(ctx,
				"UPDATE issues SET status=?, resolved_at=? WHERE id=?",
				string(ch.Status), now, ch.IssueID)
		} else {
			// Reopening does not clear resolved_at.
			result, err = tx.ExecContext(ctx,
				"UPDATE issues SET status=? WHERE id=?",
				string(ch.Status), ch.IssueID)
		}
		if err != nil {
			return fmt.Errorf("bulk set status: %w", err)
		}
		n, _ := result.RowsAffected()
		if n == 0 {
			return fmt.Errorf("issue %s: %w", ch.IssueID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Labels ---

func (s *SQLiteStore) ListLabels(ctx context.Context) ([]*models.Label, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM labels ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []*models.Label
	for rows.Next() {
		l := &models.Label{}
		if err := rows.Scan(&l.ID, &l.Name, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (s *SQLiteStore) GetIssueLabels(ctx context.Context, issueID string) ([]*models.Label, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.created_at FROM labels l
		JOIN issue_labels il ON l.id = il.label_id
		WHERE il.issue_id = ? ORDER BY l.name`, issueID)
	if err != nil {
		return nil, fmt.Errorf("get issue labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []*models.Label
	for rows.Next() {
		l := &models.Label{}
		if err := rows.Scan(&l.ID, &l.Name, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (s *SQLiteStore) ReplaceIssueLabels(ctx context.Context, issueID string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM issues WHERE id = ?", issueID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("issue %s: %w", issueID, ErrNotFound)
		}
		return fmt.Errorf("replace issue labels: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_labels WHERE issue_id = ?", issueID); err != nil {
		return fmt.Errorf("delete issue labels: %w", err)
	}

	for _, name := range names {
		// Find-or-create the label by name.
		var labelID string
		err := tx.QueryRowContext(ctx, "SELECT id FROM labels WHERE name = ?", name).Scan(&labelID)
		if err == sql.ErrNoRows {
			labelID = newULID()
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO labels (id, name, created_at) VALUES (?, ?, ?)",
				labelID, name, time.Now().UTC()); err != nil {
				return fmt.Errorf("create label %q: %w", name, err)
			}
		} else if err != nil {
			return fmt.Errorf("find label %q: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO issue_labels (issue_id, label_id) VALUES (?, ?)",
			issueID, labelID); err != nil {
			return fmt.Errorf("attach label %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Comments ---

func (s *SQLiteStore) CreateComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = newULID()
	}
	c.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, issue_id, author_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, c.AuthorID, c.Body, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListComments(ctx context.Context, issueID string) ([]*models.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_id, author_id, body, created_at FROM comments
		WHERE issue_id = ? ORDER BY created_at`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*models.Comment
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- History ---

func (s *SQLiteStore) CreateHistory(ctx context.Context, h *models.IssueHistory) error {
	if h.ID == "" {
		h.ID = newULID()
	}
	h.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issue_history (id, issue_id, event_type, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.IssueID, string(h.EventType), h.Description, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, issueID string) ([]*models.IssueHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_id, event_type, description, created_at FROM issue_history
		WHERE issue_id = ? ORDER BY created_at`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.IssueHistory
	for rows.Next() {
		h := &models.IssueHistory{}
		var eventType string
		if err := rows.Scan(&h.ID, &h.IssueID, &eventType, &h.Description, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.EventType = models.EventType(eventType)
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// --- Reports ---

func (s *SQLiteStore) TopAssignees(ctx context.Context) ([]AssigneeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.name, COUNT(i.id) AS total
		FROM issues i JOIN users u ON u.id = i.assignee_id
		WHERE i.assignee_id IS NOT NULL
		GROUP BY u.id, u.name
		ORDER BY total DESC`)
	if err != nil {
		return nil, fmt.Errorf("top assignees: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []AssigneeCount
	for rows.Next() {
		var c AssigneeCount
		if err := rows.Scan(&c.AssigneeID, &c.AssigneeName, &c.TotalIssues); err != nil {
			return nil, fmt.Errorf("scan assignee count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) AvgResolutionTime(ctx context.Context) (*time.Duration, error) {
	// Timestamps are stored in UTC; substr strips sub-second and zone
	// suffixes so julianday can parse them.
	var avgSeconds sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG((julianday(substr(resolved_at, 1, 19)) - julianday(substr(created_at, 1, 19))) * 86400.0)
		FROM issues WHERE resolved_at IS NOT NULL`,
	).Scan(&avgSeconds)
	if err != nil {
		return nil, fmt.Errorf("avg resolution time: %w", err)
	}
	if !avgSeconds.Valid {
		return nil, nil
	}
	d := time.Duration(avgSeconds.Float64 * float64(time.Second))
	return &d, nil
}

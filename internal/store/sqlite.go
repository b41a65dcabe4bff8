package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pbaille/scopes/internal/domain"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a scope or exam does not exist
var ErrNotFound = errors.New("not found")

// Scope is a stored hierarchy node
type Scope struct {
	ID        int64        `json:"id"`
	Title     string       `json:"title"`
	Slug      string       `json:"slug"`
	ParentID  *int64       `json:"parent_id,omitempty"`
	Level     domain.Level `json:"level"`
	Order     int          `json:"order"`
	Published bool         `json:"published"`
}

// Node converts the row to a hierarchy node
func (s Scope) Node() domain.Node {
	n := domain.Node{ID: fmt.Sprint(s.ID), Level: s.Level, Title: s.Title}
	if s.ParentID != nil {
		n.ParentID = fmt.Sprint(*s.ParentID)
	}
	return n
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateScope inserts a scope under parentID (nil for a textbook)
func (s *Store) CreateScope(title string, parentID *int64, order int, published bool) (*Scope, error) {
	return createScope(s.db, title, parentID, order, published)
}

// GetOrCreateScope finds a scope by title under parentID or creates it
func (s *Store) GetOrCreateScope(title string, parentID *int64, order int) (*Scope, bool, error) {
	return getOrCreateScope(s.db, title, parentID, order)
}

func getOrCreateScope(q querier, title string, parentID *int64, order int) (*Scope, bool, error) {
	// Try to find existing scope
	row := q.QueryRow(
		"SELECT "+scopeColumns+" FROM scopes WHERE title = ? AND parent_id IS ?",
		strings.TrimSpace(title), parentID,
	)
	sc, err := scanScope(row)
	if err == nil {
		return sc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("find scope: %w", err)
	}

	sc, err = createScope(q, title, parentID, order, true)
	if err != nil {
		return nil, false, err
	}
	return sc, true, nil
}

func createScope(q querier, title string, parentID *int64, order int, published bool) (*Scope, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("insert scope: title is required")
	}

	level := domain.Textbook
	if parentID != nil {
		parent, err := scanScope(q.QueryRow("SELECT "+scopeColumns+" FROM scopes WHERE id = ?", *parentID))
		if err != nil {
			return nil, fmt.Errorf("find parent %d: %w", *parentID, err)
		}
		next, ok := parent.Level.Next()
		if !ok {
			return nil, fmt.Errorf("insert scope: %s %q cannot have children", parent.Level.Label(), parent.Title)
		}
		level = next
	}

	slug, err := uniqueSlug(q, level.Label()+" "+title)
	if err != nil {
		return nil, err
	}

	res, err := q.Exec(
		"INSERT INTO scopes (title, slug, parent_id, level, in_scope_order, is_published) VALUES (?, ?, ?, ?, ?, ?)",
		title, slug, parentID, int(level), order, published,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scope: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert scope: %w", err)
	}

	return &Scope{
		ID:        id,
		Title:     title,
		Slug:      slug,
		ParentID:  parentID,
		Level:     level,
		Order:     order,
		Published: published,
	}, nil
}

// SetPublished shows or hides a scope
func (s *Store) SetPublished(id int64, published bool) error {
	res, err := s.db.Exec("UPDATE scopes SET is_published = ? WHERE id = ?", published, id)
	if err != nil {
		return fmt.Errorf("update scope: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update scope %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetScope retrieves a scope by ID
func (s *Store) GetScope(id int64) (*Scope, error) {
	sc, err := scanScope(s.db.QueryRow("SELECT "+scopeColumns+" FROM scopes WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("get scope %d: %w", id, err)
	}
	return sc, nil
}

// Roots returns the published textbooks
func (s *Store) Roots() ([]Scope, error) {
	return s.listScopes(
		"SELECT "+scopeColumns+" FROM scopes WHERE parent_id IS NULL AND is_published = 1 ORDER BY in_scope_order, id",
	)
}

// Children returns the published children of a scope in display order
func (s *Store) Children(parentID int64) ([]Scope, error) {
	if _, err := s.GetScope(parentID); err != nil {
		return nil, err
	}
	return s.listScopes(
		"SELECT "+scopeColumns+" FROM scopes WHERE parent_id = ? AND is_published = 1 ORDER BY in_scope_order, id",
		parentID,
	)
}

// Breadcrumbs returns the path from the textbook down to id
func (s *Store) Breadcrumbs(id int64) ([]Scope, error) {
	var path []Scope
	seen := map[int64]bool{}
	cur := &id
	for cur != nil {
		if seen[*cur] {
			return nil, fmt.Errorf("breadcrumbs %d: cycle at %d", id, *cur)
		}
		seen[*cur] = true
		sc, err := s.GetScope(*cur)
		if err != nil {
			return nil, err
		}
		path = append([]Scope{*sc}, path...)
		cur = sc.ParentID
	}
	return path, nil
}

// ListScopes returns every scope, parents before children
func (s *Store) ListScopes() ([]Scope, error) {
	return s.listScopes("SELECT " + scopeColumns + " FROM scopes ORDER BY level, parent_id, in_scope_order, id")
}

// AddProblem attaches a problem to a scope
func (s *Store) AddProblem(scopeID int64, text string) (int64, error) {
	return addProblem(s.db, scopeID, text)
}

func addProblem(q querier, scopeID int64, text string) (int64, error) {
	res, err := q.Exec("INSERT INTO problems (scope_id, text) VALUES (?, ?)", scopeID, strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("insert problem: %w", err)
	}
	return res.LastInsertId()
}

func hasProblem(q querier, scopeID int64, text string) (bool, error) {
	var n int
	err := q.QueryRow(
		"SELECT COUNT(*) FROM problems WHERE scope_id = ? AND text = ?",
		scopeID, strings.TrimSpace(text),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("find problem: %w", err)
	}
	return n > 0, nil
}

// ProblemsUnder returns the published problems attached to the given
// scopes or anywhere below them, in id order
func (s *Store) ProblemsUnder(scopeIDs []int64) ([]int64, error) {
	if len(scopeIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(scopeIDs)), ",")
	args := make([]any, len(scopeIDs))
	for i, id := range scopeIDs {
		args[i] = id
	}

	rows, err := s.db.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM scopes WHERE id IN (`+placeholders+`) AND is_published = 1
			UNION
			SELECT s.id FROM scopes s JOIN subtree t ON s.parent_id = t.id WHERE s.is_published = 1
		)
		SELECT p.id FROM problems p JOIN subtree t ON p.scope_id = t.id
		WHERE p.is_published = 1
		ORDER BY p.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("problems under: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateExam stores an exam, assigning its ID and creation time
func (s *Store) CreateExam(exam *domain.Exam) error {
	exam.ID = uuid.New().String()
	exam.CreatedAt = time.Now().UTC()

	scopes, err := json.Marshal(exam.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}
	problems, err := json.Marshal(exam.ProblemIDs)
	if err != nil {
		return fmt.Errorf("encode problems: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO exams (id, title, mode, scopes, problem_count, problem_ids, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		exam.ID, exam.Title, string(exam.Mode), string(scopes), exam.ProblemCount, string(problems), exam.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}
	return nil
}

// GetExam retrieves an exam by ID
func (s *Store) GetExam(id string) (*domain.Exam, error) {
	exam, err := scanExam(s.db.QueryRow(
		"SELECT "+examColumns+" FROM exams WHERE id = ?", id,
	))
	if err != nil {
		return nil, fmt.Errorf("get exam %s: %w", id, err)
	}
	return exam, nil
}

// ListExams returns recent exams with pagination
func (s *Store) ListExams(limit, offset int) ([]domain.Exam, error) {
	rows, err := s.db.Query(
		"SELECT "+examColumns+" FROM exams ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	var exams []domain.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

const (
	scopeColumns = "id, title, slug, parent_id, level, in_scope_order, is_published"
	examColumns  = "id, title, mode, scopes, problem_count, problem_ids, created_at"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanScope(row scanner) (*Scope, error) {
	var sc Scope
	var level int
	err := row.Scan(&sc.ID, &sc.Title, &sc.Slug, &sc.ParentID, &level, &sc.Order, &sc.Published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scope: %w", err)
	}
	sc.Level = domain.Level(level)
	return &sc, nil
}

func scanExam(row scanner) (*domain.Exam, error) {
	var e domain.Exam
	var mode, scopes, problems string
	err := row.Scan(&e.ID, &e.Title, &mode, &scopes, &e.ProblemCount, &problems, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan exam: %w", err)
	}
	e.Mode = domain.Mode(mode)
	if err := json.Unmarshal([]byte(scopes), &e.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(problems), &e.ProblemIDs); err != nil {
		return nil, fmt.Errorf("decode problems: %w", err)
	}
	return &e, nil
}

func (s *Store) listScopes(query string, args ...any) ([]Scope, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, *sc)
	}
	return scopes, rows.Err()
}

// uniqueSlug slugifies base and appends -1, -2... until unused
func uniqueSlug(q querier, base string) (string, error) {
	root := slugify(base)
	rows, err := q.Query("SELECT slug FROM scopes WHERE slug LIKE ?", root+"%")
	if err != nil {
		return "", fmt.Errorf("find slugs: %w", err)
	}
	taken := map[string]bool{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan slug: %w", err)
		}
		taken[s] = true
	}
	rows.Close()

	slug := root
	for i := 1; taken[slug]; i++ {
		slug = fmt.Sprintf("%s-%d", root, i)
	}
	return slug, nil
}

func slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

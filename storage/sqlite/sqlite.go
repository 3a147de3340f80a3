// Package sqlite provides an embedded SQLite implementation of the account,
// post and entitlement stores, suitable for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

//go:embed schema.sql
var schema string

// Storage implements account.Store, posts.Store and entitlement.Storage using SQLite
type Storage struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path (":memory:" for a private in-memory
// database) and applies the schema.
func Open(ctx context.Context, path string) (*Storage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the database handle
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
}

// --- account.Store ---

// CreateUser implements account.Store
func (s *Storage) CreateUser(ctx context.Context, user *account.User) error {
	created := toMillis(user.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, created_at, entitlement_updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Name, created, created)
	if err != nil {
		if isUniqueViolation(err) {
			return account.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, email, password_hash, name, is_premium, subscription_id, created_at FROM users`

// GetUserByEmail implements account.Store
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.queryUser(ctx, selectUser+` WHERE email = ?`, email)
}

// GetUserByID implements account.Store
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*account.User, error) {
	return s.queryUser(ctx, selectUser+` WHERE id = ?`, userID)
}

func (s *Storage) queryUser(ctx context.Context, query, arg string) (*account.User, error) {
	var (
		u       account.User
		subID   sql.NullString
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.IsPremium, &subID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.SubscriptionID = subID.String
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// --- entitlement.Storage ---

// GetEntitlement implements entitlement.Storage
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	var (
		ent     entitlement.Entitlement
		subID   sql.NullString
		failed  sql.NullInt64
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_premium, subscription_id, payment_failed_at, entitlement_updated_at
			FROM users WHERE id = ?`,
		userID).Scan(&ent.UserID, &ent.IsPremium, &subID, &failed, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entitlement.ErrUserNotFound
		}
		return nil, fmt.Errorf("query entitlement: %w", err)
	}
	ent.SubscriptionID = subID.String
	if failed.Valid {
		t := fromMillis(failed.Int64)
		ent.PaymentFailedAt = &t
	}
	ent.UpdatedAt = fromMillis(updated)
	return &ent, nil
}

// ActivateSubscription implements entitlement.Storage
func (s *Storage) ActivateSubscription(ctx context.Context, req *entitlement.ActivationRequest) (bool, error) {
	if req == nil || req.UserID == "" || req.SubscriptionID == "" {
		return false, entitlement.ErrInvalidActivation
	}

	// IS NOT is SQLite's null-safe inequality
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
			SET is_premium = 1, subscription_id = ?, payment_failed_at = NULL, entitlement_updated_at = ?
			WHERE id = ? AND subscription_id IS NOT ?`,
		req.SubscriptionID, toMillis(req.At), req.UserID, req.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("activate subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate subscription: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`, req.UserID).
		Scan(&exists); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return false, entitlement.ErrUserNotFound
	}
	return false, nil
}

// DeactivateSubscription implements entitlement.Storage
func (s *Storage) DeactivateSubscription(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.collectIDs(ctx,
		`UPDATE users SET is_premium = 0, entitlement_updated_at = ?
			WHERE subscription_id = ? AND is_premium = 1
			RETURNING id`,
		toMillis(at), subscriptionID)
}

// MarkPaymentFailed implements entitlement.Storage
func (s *Storage) MarkPaymentFailed(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	ms := toMillis(at)
	return s.collectIDs(ctx,
		`UPDATE users SET payment_failed_at = ?, entitlement_updated_at = ?
			WHERE subscription_id = ? AND is_premium = 1 AND payment_failed_at IS NULL
			RETURNING id`,
		ms, ms, subscriptionID)
}

func (s *Storage) collectIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update entitlements: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("update entitlements: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- posts.Store ---

// CreatePost implements posts.Store
func (s *Storage) CreatePost(ctx context.Context, post *posts.Post) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, location, encounter_date, encounter_time,
				your_description, their_description, story, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.UserID, post.Location, post.EncounterDate, post.EncounterTime,
		post.YourDescription, post.TheirDescription, post.Story, post.IsActive, toMillis(post.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

const selectPost = `SELECT p.id, p.user_id, p.location, p.encounter_date, p.encounter_time,
		p.your_description, p.their_description, p.story, p.is_active, p.created_at,
		u.name, (SELECT COUNT(*) FROM post_responses r WHERE r.post_id = p.id)
	FROM posts p JOIN users u ON p.user_id = u.id`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row scanner) (*posts.Post, error) {
	var (
		p       posts.Post
		created int64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Location, &p.EncounterDate, &p.EncounterTime,
		&p.YourDescription, &p.TheirDescription, &p.Story, &p.IsActive, &created,
		&p.AuthorName, &p.ResponseCount)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// GetPost implements posts.Store
func (s *Storage) GetPost(ctx context.Context, postID string) (*posts.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, selectPost+` WHERE p.id = ?`, postID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, posts.ErrPostNotFound
		}
		return nil, fmt.Errorf("query post: %w", err)
	}
	return p, nil
}

// ListPosts implements posts.Store
func (s *Storage) ListPosts(ctx context.Context, filter posts.Filter) ([]*posts.Post, error) {
	filter = filter.Normalize()

	var (
		conds = []string{"p.is_active = 1"}
		args  []interface{}
	)
	// LIKE is case-insensitive for ASCII in SQLite
	if filter.Location != "" {
		conds = append(conds, `p.location LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.Location)+"%")
	}
	if filter.Date != "" {
		conds = append(conds, "p.encounter_date = ?")
		args = append(args, filter.Date)
	}
	if filter.Keywords != "" {
		kw := "%" + escapeLike(filter.Keywords) + "%"
		conds = append(conds, `(p.story LIKE ? ESCAPE '\' OR p.their_description LIKE ? ESCAPE '\')`)
		args = append(args, kw, kw)
	}
	args = append(args, filter.Limit, filter.Offset())

	query := selectPost + " WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	result := make([]*posts.Post, 0, filter.Limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CreateResponse implements posts.Store
func (s *Storage) CreateResponse(ctx context.Context, resp *posts.Response) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO post_responses (id, post_id, user_id, message, created_at)
			SELECT ?, id, ?, ?, ? FROM posts WHERE id = ?`,
		resp.ID, resp.UserID, resp.Message, toMillis(resp.CreatedAt), resp.PostID)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	if n == 0 {
		return posts.ErrPostNotFound
	}
	return nil
}

// ListResponses implements posts.Store
func (s *Storage) ListResponses(ctx context.Context, postID string) ([]*posts.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.post_id, r.user_id, r.message, r.created_at, u.name, u.email
			FROM post_responses r JOIN users u ON r.user_id = u.id
			WHERE r.post_id = ?
			ORDER BY r.created_at DESC, r.id DESC`,
		postID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	result := make([]*posts.Response, 0)
	for rows.Next() {
		var (
			r       posts.Response
			created int64
		)
		if err := rows.Scan(&r.ID, &r.PostID, &r.UserID, &r.Message, &created,
			&r.ResponderName, &r.ResponderEmail); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		result = append(result, &r)
	}
	return result, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

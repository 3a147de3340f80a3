// Package postgres provides a PostgreSQL implementation of the account, post
// and entitlement stores. Entitlement transitions are single conditional
// UPDATE statements, so concurrent deliveries of the same webhook serialize
// on the row without explicit locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Storage implements account.Store, posts.Store and entitlement.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies pending migrations before the pool is opened
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	if config.AutoMigrate {
		if err := Migrate(config.ConnectionString); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- account.Store ---

// CreateUser implements account.Store
func (s *Storage) CreateUser(ctx context.Context, user *account.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, created_at, entitlement_updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
		user.ID, user.Email, user.PasswordHash, user.Name, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return account.ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, email, password_hash, name, is_premium, subscription_id, created_at FROM users`

// GetUserByEmail implements account.Store
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.queryUser(ctx, selectUser+` WHERE email = $1`, email)
}

// GetUserByID implements account.Store
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*account.User, error) {
	return s.queryUser(ctx, selectUser+` WHERE id = $1`, userID)
}

func (s *Storage) queryUser(ctx context.Context, query string, arg string) (*account.User, error) {
	var (
		u     account.User
		subID *string
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.IsPremium, &subID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if subID != nil {
		u.SubscriptionID = *subID
	}
	return &u, nil
}

// --- entitlement.Storage ---

// GetEntitlement implements entitlement.Storage
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	var (
		ent   entitlement.Entitlement
		subID *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, is_premium, subscription_id, payment_failed_at, entitlement_updated_at
			FROM users WHERE id = $1`,
		userID).Scan(&ent.UserID, &ent.IsPremium, &subID, &ent.PaymentFailedAt, &ent.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entitlement.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query entitlement: %w", err)
	}
	if subID != nil {
		ent.SubscriptionID = *subID
	}
	return &ent, nil
}

// ActivateSubscription implements entitlement.Storage
func (s *Storage) ActivateSubscription(ctx context.Context, req *entitlement.ActivationRequest) (bool, error) {
	if req == nil || req.UserID == "" || req.SubscriptionID == "" {
		return false, entitlement.ErrInvalidActivation
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE users
			SET is_premium = TRUE, subscription_id = $2, payment_failed_at = NULL, entitlement_updated_at = $3
			WHERE id = $1 AND subscription_id IS DISTINCT FROM $2`,
		req.UserID, req.SubscriptionID, req.At)
	if err != nil {
		return false, fmt.Errorf("failed to activate subscription: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, req.UserID).
		Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return false, entitlement.ErrUserNotFound
	}
	return false, nil
}

// DeactivateSubscription implements entitlement.Storage
func (s *Storage) DeactivateSubscription(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.collectIDs(ctx,
		`UPDATE users SET is_premium = FALSE, entitlement_updated_at = $2
			WHERE subscription_id = $1 AND is_premium
			RETURNING id`,
		subscriptionID, at)
}

// MarkPaymentFailed implements entitlement.Storage
func (s *Storage) MarkPaymentFailed(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.collectIDs(ctx,
		`UPDATE users SET payment_failed_at = $2, entitlement_updated_at = $2
			WHERE subscription_id = $1 AND is_premium AND payment_failed_at IS NULL
			RETURNING id`,
		subscriptionID, at)
}

func (s *Storage) collectIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update entitlements: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to update entitlements: %w", err)
	}
	return ids, nil
}

// --- posts.Store ---

// CreatePost implements posts.Store
func (s *Storage) CreatePost(ctx context.Context, post *posts.Post) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts (id, user_id, location, encounter_date, encounter_time,
				your_description, their_description, story, is_active, created_at)
			VALUES ($1, $2, $3, $4::text::date, $5, $6, $7, $8, $9, $10)`,
		post.ID, post.UserID, post.Location, post.EncounterDate, post.EncounterTime,
		post.YourDescription, post.TheirDescription, post.Story, post.IsActive, post.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

const selectPost = `SELECT p.id, p.user_id, p.location, to_char(p.encounter_date, 'YYYY-MM-DD'),
		p.encounter_time, p.your_description, p.their_description, p.story, p.is_active, p.created_at,
		u.name, (SELECT COUNT(*) FROM post_responses r WHERE r.post_id = p.id)
	FROM posts p JOIN users u ON p.user_id = u.id`

func scanPost(row pgx.Row) (*posts.Post, error) {
	var p posts.Post
	err := row.Scan(&p.ID, &p.UserID, &p.Location, &p.EncounterDate, &p.EncounterTime,
		&p.YourDescription, &p.TheirDescription, &p.Story, &p.IsActive, &p.CreatedAt,
		&p.AuthorName, &p.ResponseCount)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPost implements posts.Store
func (s *Storage) GetPost(ctx context.Context, postID string) (*posts.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, selectPost+` WHERE p.id = $1`, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, posts.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to query post: %w", err)
	}
	return p, nil
}

// ListPosts implements posts.Store
func (s *Storage) ListPosts(ctx context.Context, filter posts.Filter) ([]*posts.Post, error) {
	filter = filter.Normalize()

	var (
		conds = []string{"p.is_active = TRUE"}
		args  []interface{}
	)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Location != "" {
		conds = append(conds, "p.location ILIKE "+next("%"+escapeLike(filter.Location)+"%"))
	}
	if filter.Date != "" {
		conds = append(conds, "p.encounter_date = "+next(filter.Date)+"::text::date")
	}
	if filter.Keywords != "" {
		ph := next("%" + escapeLike(filter.Keywords) + "%")
		conds = append(conds, fmt.Sprintf("(p.story ILIKE %s OR p.their_description ILIKE %s)", ph, ph))
	}

	query := selectPost + " WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY p.created_at DESC, p.id DESC LIMIT " + next(filter.Limit) + " OFFSET " + next(filter.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	result := make([]*posts.Post, 0, filter.Limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CreateResponse implements posts.Store
func (s *Storage) CreateResponse(ctx context.Context, resp *posts.Response) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO post_responses (id, post_id, user_id, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
		resp.ID, resp.PostID, resp.UserID, resp.Message, resp.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation &&
			strings.Contains(pgErr.ConstraintName, "post_id") {
			return posts.ErrPostNotFound
		}
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

// ListResponses implements posts.Store
func (s *Storage) ListResponses(ctx context.Context, postID string) ([]*posts.Response, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.post_id, r.user_id, r.message, r.created_at, u.name, u.email
			FROM post_responses r JOIN users u ON r.user_id = u.id
			WHERE r.post_id = $1
			ORDER BY r.created_at DESC, r.id DESC`,
		postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer rows.Close()

	result := make([]*posts.Response, 0)
	for rows.Next() {
		var r posts.Response
		if err := rows.Scan(&r.ID, &r.PostID, &r.UserID, &r.Message, &r.CreatedAt,
			&r.ResponderName, &r.ResponderEmail); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

// escapeLike escapes LIKE wildcards in user input
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Package postgres implements tokengate.IdentityLookup over a PostgreSQL users table.
//
// Roles live in a separate user_roles table and are aggregated into
// Identity.Roles on every lookup. The schema ships as embedded migrations run
// through [Migrator].
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/MrEthical07/tokengate"
)

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const selectIdentity = `SELECT u.id, u.username, u.password_hash, u.status,
       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
  FROM users u
  LEFT JOIN user_roles r ON r.user_id = u.id`

// Repository resolves identities by username, phone or email.
type Repository struct {
	pool Pool
}

var _ tokengate.IdentityLookup = (*Repository)(nil)
var _ tokengate.PasswordUpdater = (*Repository)(nil)

// NewRepository creates a repository backed by pool.
func NewRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

// ByUsername returns the identity whose username matches exactly.
func (r *Repository) ByUsername(ctx context.Context, username string) (*tokengate.Identity, error) {
	return r.fetch(ctx, "by username",
		selectIdentity+` WHERE u.username = $1 GROUP BY u.id`, username)
}

// ByPhone returns the identity registered with phone.
func (r *Repository) ByPhone(ctx context.Context, phone string) (*tokengate.Identity, error) {
	return r.fetch(ctx, "by phone",
		selectIdentity+` WHERE u.phone = $1 GROUP BY u.id`, phone)
}

// ByEmail matches email case-insensitively.
func (r *Repository) ByEmail(ctx context.Context, email string) (*tokengate.Identity, error) {
	return r.fetch(ctx, "by email",
		selectIdentity+` WHERE lower(u.email) = lower($1) GROUP BY u.id`, email)
}

func (r *Repository) fetch(ctx context.Context, operation, query, key string) (*tokengate.Identity, error) {
	var (
		id     tokengate.Identity
		status string
		roles  []string
	)
	err := r.pool.QueryRow(ctx, query, key).Scan(&id.ID, &id.Username, &id.PasswordHash, &status, &roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").With("operation", operation).Wrap(tokengate.ErrIdentityNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").With("operation", operation).Wrap(err)
	}

	id.Status, err = parseStatus(status)
	if err != nil {
		return nil, oops.Code("IDENTITY_STATUS_CORRUPT").
			With("operation", operation).
			With("user_id", id.ID).
			Wrap(err)
	}
	id.Roles = roles
	return &id, nil
}

// UpdatePasswordHash replaces the stored hash of the user named principal.
func (r *Repository) UpdatePasswordHash(ctx context.Context, principal, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE username = $1`,
		principal, hash)
	if err != nil {
		return oops.Code("PASSWORD_UPDATE_FAILED").With("username", principal).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("username", principal).Wrap(tokengate.ErrIdentityNotFound)
	}
	return nil
}

// NewIdentity describes an account to insert with [Repository.Create].
type NewIdentity struct {
	Username     string
	Phone        string
	Email        string
	PasswordHash string
	Status       tokengate.IdentityStatus
	Roles        []string
}

// Create inserts the identity and its roles in one transaction and returns the new id.
func (r *Repository) Create(ctx context.Context, in NewIdentity) (int64, error) {
	if in.Username == "" || in.PasswordHash == "" {
		return 0, oops.Code("IDENTITY_INVALID").Errorf("username and password hash are required")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, oops.Code("IDENTITY_CREATE_FAILED").With("operation", "begin").Wrap(err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (username, phone, email, password_hash, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		in.Username, nullable(in.Phone), nullable(in.Email), in.PasswordHash, in.Status.String()).Scan(&id)
	if err != nil {
		rollback(ctx, tx)
		return 0, oops.Code("IDENTITY_CREATE_FAILED").With("username", in.Username).Wrap(err)
	}

	for _, role := range in.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, role); err != nil {
			rollback(ctx, tx)
			return 0, oops.Code("IDENTITY_CREATE_FAILED").
				With("username", in.Username).
				With("role", role).
				Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, oops.Code("IDENTITY_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return id, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx) //nolint:errcheck // the statement error takes precedence
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseStatus(s string) (tokengate.IdentityStatus, error) {
	switch strings.ToUpper(s) {
	case "ACTIVE":
		return tokengate.StatusActive, nil
	case "UNACTIVATED":
		return tokengate.StatusUnactivated, nil
	case "FORBIDDEN":
		return tokengate.StatusForbidden, nil
	}
	return 0, oops.Errorf("unknown status %q", s)
}

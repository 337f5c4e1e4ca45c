package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/codes"

	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/pkg"
)

var (
	_ Repo = (*PostgresRepo)(nil)
	_ Repo = (*MemoryRepo)(nil)
)

// Repo stores accounts keyed by email. Emails are unique.
type Repo interface {
	// Add returns ErrUserExists when the email is taken.
	Add(ctx context.Context, user *User) error
	// GetByEmail returns ErrUserNotFound for unknown emails.
	GetByEmail(ctx context.Context, email string) (*User, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{
		db: db,
	}
}

func (r *PostgresRepo) Add(ctx context.Context, user *User) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.accounts.add")
	defer func() {
		if err != nil && !errors.Is(err, ErrUserExists) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	_, err = r.db.Exec(ctx, `
		INSERT INTO coach_user (id, name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt)
	if pkg.IsUniqueViolationError(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetByEmail(ctx context.Context, email string) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.accounts.get")
	defer func() {
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	user := &User{}
	err = r.db.QueryRow(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM coach_user
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// MemoryRepo is used when no postgres is configured, and in tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		users: make(map[string]User),
	}
}

func (r *MemoryRepo) Add(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.Email]; ok {
		return ErrUserExists
	}
	r.users[user.Email] = *user
	return nil
}

func (r *MemoryRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

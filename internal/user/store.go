package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, email, password_hash, name, role, phone, created_at, updated_at`

// uniqueViolation is the SQLSTATE postgres reports for a unique constraint hit.
const uniqueViolation = "23505"

// Store provides database operations for users. The users.email unique
// constraint is what arbitrates concurrent creates for the same address.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new user store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scanUser scans a user row, handling the nullable password and phone columns.
func scanUser(scan func(dest ...any) error) (*User, error) {
	u := &User{}
	var hash *string
	err := scan(&u.ID, &u.Email, &hash, &u.Name, &u.Role, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hash != nil {
		u.PasswordHash = *hash
	}
	return u, nil
}

// Create inserts a new user. When the email is already registered it returns a
// *ConflictError carrying the existing record.
func (s *Store) Create(ctx context.Context, in CreateUserInput) (*User, error) {
	email := normalizeEmail(in.Email)
	role := in.Role
	if role == "" {
		role = RoleMember
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	existing, err := s.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, &ConflictError{Email: email, Existing: existing}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	var hash *string
	if in.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		hs := string(h)
		hash = &hs
	}

	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, name, role, phone)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+userColumns,
			email, hash, in.DisplayName(), role, in.Phone,
		).Scan(dest...)
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race against a concurrent insert for the same email.
			existing, lookupErr := s.GetByEmail(ctx, email)
			if lookupErr != nil {
				return nil, fmt.Errorf("loading conflicting user: %w", lookupErr)
			}
			return nil, &ConflictError{Email: email, Existing: existing}
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, notFoundOr(err, "getting user by id")
	}
	return u, nil
}

// GetByEmail retrieves a user by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email),
		).Scan(dest...)
	})
	if err != nil {
		return nil, notFoundOr(err, "getting user by email")
	}
	return u, nil
}

// List returns all users ordered by created_at DESC.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update performs a partial update on the user with the given id.
func (s *Store) Update(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	if in.Role != nil && !ValidRole(*in.Role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, *in.Role)
	}

	var setClauses []string
	var args []any
	argIdx := 1

	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if in.Email != nil {
		set("email", normalizeEmail(*in.Email))
	}
	if name := in.ResolvedName(); name != nil {
		set("name", *name)
	}
	if in.Phone != nil {
		set("phone", *in.Phone)
	}
	if in.Role != nil {
		set("role", *in.Role)
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		set("password_hash", string(hash))
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		if isUniqueViolation(err) && in.Email != nil {
			return nil, &ConflictError{Email: normalizeEmail(*in.Email)}
		}
		return nil, notFoundOr(err, "updating user")
	}
	return u, nil
}

// CheckPassword verifies a plaintext password against the user's stored hash.
// Users created through an identity provider have no hash and never match.
func CheckPassword(u *User, password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

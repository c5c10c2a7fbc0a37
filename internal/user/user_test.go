package user

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestCreateUserInputDisplayName(t *testing.T) {
	tests := []struct {
		name string
		in   CreateUserInput
		want string
	}{
		{"explicit name", CreateUserInput{Name: " Jane Doe "}, "Jane Doe"},
		{"first and last", CreateUserInput{FirstName: "Jane", LastName: "Doe"}, "Jane Doe"},
		{"name wins", CreateUserInput{Name: "J", FirstName: "Jane", LastName: "Doe"}, "J"},
		{"first only", CreateUserInput{FirstName: "Jane"}, "Jane"},
		{"empty", CreateUserInput{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpdateUserInputResolvedName(t *testing.T) {
	first, last, name := "Jane", "Doe", "Janie"

	if got := (UpdateUserInput{}).ResolvedName(); got != nil {
		t.Errorf("expected nil for empty update, got %q", *got)
	}
	if got := (UpdateUserInput{FirstName: &first, LastName: &last}).ResolvedName(); got == nil || *got != "Jane Doe" {
		t.Errorf("expected 'Jane Doe', got %v", got)
	}
	if got := (UpdateUserInput{Name: &name, FirstName: &first}).ResolvedName(); got == nil || *got != "Janie" {
		t.Errorf("expected explicit name to win, got %v", got)
	}
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	existing := &User{ID: "u1", Email: "jane@example.com"}
	err := fmt.Errorf("wrapped: %w", &ConflictError{Email: existing.Email, Existing: existing})

	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected errors.Is(err, ErrConflict)")
	}
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatal("expected errors.As to find *ConflictError")
	}
	if ce.Existing.ID != "u1" {
		t.Errorf("expected existing id u1, got %q", ce.Existing.ID)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("conflict must not match ErrNotFound")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation must not count as unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error must not count as unique violation")
	}
}

func TestNotFoundOr(t *testing.T) {
	if err := notFoundOr(pgx.ErrNoRows, "op"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	err := notFoundOr(errors.New("conn refused"), "getting user")
	if errors.Is(err, ErrNotFound) {
		t.Error("expected non-not-found error")
	}
	if err.Error() != "getting user: conn refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestCheckPasswordWithoutHash(t *testing.T) {
	if CheckPassword(&User{}, "anything") {
		t.Error("user without password hash must never match")
	}
}

func TestStoreRejectsUnknownRole(t *testing.T) {
	// The role is checked before the database is touched.
	s := NewStore(nil)

	if _, err := s.Create(context.Background(), CreateUserInput{Email: "jane@example.com", Role: "owner"}); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Create: expected ErrInvalidRole, got %v", err)
	}
	role := "superuser"
	if _, err := s.Update(context.Background(), "some-id", UpdateUserInput{Role: &role}); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Update: expected ErrInvalidRole, got %v", err)
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleAdmin, RoleMember} {
		if !ValidRole(r) {
			t.Errorf("expected %q to be valid", r)
		}
	}
	if ValidRole("org_admin") {
		t.Error("org_admin is not a role here")
	}
}

package services

import (
	"context"
	"errors"
	"testing"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
)

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	st := store.NewMemory()
	svc := NewUserService(st)
	ctx := context.Background()

	if _, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Password: "secret2"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewUserService(store.NewMemory())
	ctx := context.Background()

	var verr *ValidationError
	if _, err := svc.Register(ctx, models.RegisterRequest{Username: "", Password: "secret1"}); !errors.As(err, &verr) {
		t.Fatalf("empty username: expected validation error, got %v", err)
	}
	if _, err := svc.Register(ctx, models.RegisterRequest{Username: "bob", Password: "short"}); !errors.As(err, &verr) {
		t.Fatalf("short password: expected validation error, got %v", err)
	}
}

func TestLoginIssuesValidTokenPair(t *testing.T) {
	st := store.NewMemory()
	svc := NewUserService(st)
	ctx := context.Background()

	user, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := ValidateToken(res.Token)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if int(claims["user_id"].(float64)) != user.ID {
		t.Fatalf("token carries user %v, want %d", claims["user_id"], user.ID)
	}

	// The access token must not pass as a refresh token, and vice versa.
	if _, err := ValidateRefreshToken(res.Token); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
	if _, err := ValidateRefreshToken(res.RefreshToken); err != nil {
		t.Fatalf("validate refresh token: %v", err)
	}

	if _, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "wrong"}); err == nil {
		t.Fatal("login with wrong password succeeded")
	}
}

func TestUpdateProfileRename(t *testing.T) {
	st := store.NewMemory()
	svc := NewUserService(st)
	ctx := context.Background()

	alice, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if _, err := svc.Register(ctx, models.RegisterRequest{Username: "bob", Password: "secret1"}); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	renamed, err := svc.UpdateProfile(ctx, alice.ID, "alice2")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Username != "alice2" {
		t.Fatalf("username %q, want alice2", renamed.Username)
	}

	// The old name is released, the new one is taken.
	if _, err := st.UserByUsername(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old username still resolves: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, alice.ID, "bob"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

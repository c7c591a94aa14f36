package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"fieldline/api/internal/store"

	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	users map[string]store.User
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func newFakeStore(t *testing.T) *fakeUserStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("linework"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &fakeUserStore{users: map[string]store.User{
		"dana@acme.example": {
			ID:           "usr_1",
			OrgID:        "org_acme",
			Email:        "dana@acme.example",
			DisplayName:  "Dana",
			PasswordHash: string(hash),
		},
	}}
}

func TestSignInSuccess(t *testing.T) {
	svc := NewService(newFakeStore(t))

	user, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@acme.example", Password: "linework"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.OrgID != "org_acme" {
		t.Errorf("expected org_acme, got %s", user.OrgID)
	}
}

func TestSignInNormalizesEmail(t *testing.T) {
	svc := NewService(newFakeStore(t))

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "  DANA@acme.example ", Password: "linework"}); err != nil {
		t.Fatalf("SignIn with unnormalized email failed: %v", err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newFakeStore(t))

	_, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@acme.example", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	svc := NewService(newFakeStore(t))

	_, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@acme.example", Password: "linework"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInEmptyInput(t *testing.T) {
	svc := NewService(newFakeStore(t))

	if _, err := svc.SignIn(context.Background(), SignInRequest{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := NewMemRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Address:     "GTENANT",
		Password:    "supersafe",
		DisplayName: "Tess Tenant",
	}

	ctx := context.Background()
	account, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if account.Address != req.Address {
		t.Fatalf("expected address %q got %q", req.Address, account.Address)
	}
	if account.Role != RoleTenant {
		t.Fatalf("register: expected default role %s got %s", RoleTenant, account.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Address: req.Address, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Account.Address != account.Address {
		t.Fatalf("login: expected address %q got %q", account.Address, resp.Account.Address)
	}

	address, role, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if address != account.Address {
		t.Fatalf("verify token: expected %q got %q", account.Address, address)
	}
	if role != RoleTenant {
		t.Fatalf("verify token: expected role %s got %s", RoleTenant, role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(NewMemRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Address:  "GTENANT",
		Password: "short",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Address:  " ",
		Password: "strongpassword",
	}); err == nil {
		t.Fatal("expected validation error for missing address")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Address:  "GX",
		Password: "strongpassword",
		Role:     "janitor",
	}); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestService_DuplicateAddress(t *testing.T) {
	svc := NewService(NewMemRepository(), "test-secret")

	req := RegisterRequest{
		Address:  "GLANDLORD",
		Password: "strongpassword",
		Role:     RoleLandlord,
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateAddress) {
		t.Fatalf("expected ErrDuplicateAddress, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(NewMemRepository(), "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Address:  "GUNKNOWN",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{Address: "GKNOWN", Password: "strongpassword"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.Login(context.Background(), LoginRequest{Address: "GKNOWN", Password: "wrongpassword"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
}

func TestService_VerifyTokenRejectsExpiredAndForeign(t *testing.T) {
	svc := NewService(NewMemRepository(), "test-secret")
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issuedAt }

	token, _, err := svc.IssueToken("GARBITER", RoleArbiter)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = func() time.Time { return issuedAt.Add(25 * time.Hour) }
	if _, _, err := svc.VerifyToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	other := NewService(NewMemRepository(), "other-secret")
	other.now = func() time.Time { return issuedAt }
	if _, _, err := other.VerifyToken(token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestContextAuthorizer(t *testing.T) {
	var authz ContextAuthorizer

	if err := authz.RequireAuth(context.Background(), "GTENANT"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without caller, got %v", err)
	}

	ctx := WithCaller(context.Background(), "GTENANT")
	if err := authz.RequireAuth(ctx, "GTENANT"); err != nil {
		t.Fatalf("expected caller to authorize itself, got %v", err)
	}
	if err := authz.RequireAuth(ctx, "GLANDLORD"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized acting for another address, got %v", err)
	}
}

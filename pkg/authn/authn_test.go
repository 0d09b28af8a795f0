package authn

import (
	"context"
	"errors"
	"testing"
)

type fakeTokens map[string]Identity

func (f fakeTokens) LookupToken(_ context.Context, tokenHash string) (Identity, error) {
	id, ok := f[tokenHash]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}

func TestParseBearerToken(t *testing.T) {
	tok, ok := ParseBearerToken("Bearer abc123")
	if !ok || tok != "abc123" {
		t.Fatalf("expected parsed bearer token, got ok=%v token=%q", ok, tok)
	}
	if _, ok := ParseBearerToken("abc123"); ok {
		t.Fatal("expected parse failure without Bearer prefix")
	}
	if _, ok := ParseBearerToken("Bearer   "); ok {
		t.Fatal("expected parse failure for empty token")
	}
}

func TestAuthenticateBearer(t *testing.T) {
	a := New(fakeTokens{HashToken("tok_1"): {UserID: "usr_1", Scopes: []string{"narrative:write"}}})

	id, err := a.AuthenticateBearer(context.Background(), "Bearer tok_1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id.UserID != "usr_1" || !HasScope(id.Scopes, "narrative:write") {
		t.Fatalf("unexpected identity %+v", id)
	}

	if _, err := a.AuthenticateBearer(context.Background(), "Bearer nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := a.AuthenticateBearer(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty header, got %v", err)
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	if HashToken("a") != HashToken("a") || HashToken("a") == HashToken("b") {
		t.Fatalf("expected deterministic, distinct hashes")
	}
}

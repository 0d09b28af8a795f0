package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

type Identity struct {
	UserID string
	Scopes []string
}

// TokenStore resolves the SHA-256 hex of a bearer token to an identity. It returns
// ErrUnauthorized when the token is unknown or revoked.
type TokenStore interface {
	LookupToken(ctx context.Context, tokenHash string) (Identity, error)
}

type Authenticator struct {
	Tokens TokenStore
}

func New(tokens TokenStore) *Authenticator { return &Authenticator{Tokens: tokens} }

func (a *Authenticator) AuthenticateBearer(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := ParseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	id, err := a.Tokens.LookupToken(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id.UserID) == "" {
		return nil, ErrUnauthorized
	}
	return &id, nil
}

func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

func ParseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

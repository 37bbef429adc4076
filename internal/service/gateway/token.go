package gateway

import (
	"context"

	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

// TokenKey is the storage key of the bearer token issued by the auth service.
const TokenKey = "token"

// TokenSource yields the bearer token for authenticated calls. An empty
// token means the user is anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StoredToken reads the token from durable client storage.
type StoredToken struct {
	KV storage.KV
}

// Token implements TokenSource. A missing key is not an error.
func (s StoredToken) Token(ctx context.Context) (string, error) {
	if s.KV == nil {
		return "", nil
	}
	token, _, err := s.KV.Get(ctx, TokenKey)
	return token, err
}

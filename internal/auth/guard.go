package auth

import (
	"context"
	"fmt"
	"strings"

	"restylinchpin/internal/domain"
)

// PrincipalResolver maps a presented API key to the principal that owns it.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, presentedKey string) (domain.Principal, error)
}

// Guard resolves credentials once at the request boundary.
type Guard struct {
	resolver PrincipalResolver
	header   string
}

const DefaultHeader = "X-API-Key"

func NewGuard(resolver PrincipalResolver, header string) *Guard {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}
	return &Guard{
		resolver: resolver,
		header:   header,
	}
}

func (g *Guard) Header() string {
	return g.header
}

func (g *Guard) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, domain.ErrCredentialMissing
	}
	return g.resolver.ResolvePrincipal(ctx, token)
}

// RequireAdmin fails with domain.ErrForbidden unless p is an administrator.
func RequireAdmin(p domain.Principal) error {
	if !p.Admin {
		return fmt.Errorf("%w: admin privileges required", domain.ErrForbidden)
	}
	return nil
}

// RequireSelfOrAdmin allows a principal to act on its own account only.
func RequireSelfOrAdmin(p domain.Principal, username string) error {
	if p.CanAccess(username) {
		return nil
	}
	return fmt.Errorf("%w: cannot act on user %s", domain.ErrForbidden, username)
}

package auth

import (
	"context"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// scopeRolePrefix marks OAuth scopes that grant a cohort role, such as
// "cohort.researcher".
const scopeRolePrefix = "cohort."

// Claims accepts roles from a flat "roles" claim, from Keycloak's
// realm_access, or from cohort.* scopes.
type Claims struct {
	jwt.RegisteredClaims
	Roles       []string     `json:"roles,omitempty"`
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	Scope       string       `json:"scope,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// AllRoles returns the distinct roles granted by c, sorted.
func (c *Claims) AllRoles() []string {
	seen := map[string]bool{}
	add := func(r string) {
		if r = strings.TrimSpace(r); r != "" {
			seen[r] = true
		}
	}
	for _, r := range c.Roles {
		add(r)
	}
	if c.RealmAccess != nil {
		for _, r := range c.RealmAccess.Roles {
			add(r)
		}
	}
	for _, s := range strings.Fields(c.Scope) {
		if r, ok := strings.CutPrefix(s, scopeRolePrefix); ok {
			add(r)
		}
	}

	roles := make([]string, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// WithUser returns ctx carrying a user id and roles.
func WithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

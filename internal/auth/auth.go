package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	RoleAsker       = "asker"
	RoleSchemaAdmin = "schema_admin"
)

var ErrForbidden = errors.New("forbidden")

type Identity struct {
	Name  string
	Roles []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:role|role,key:role".
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for index, entry := range strings.Split(spec, ",") {
		key, rolesRaw, ok := strings.Cut(strings.TrimSpace(entry), ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid static key entry %d: expected key:role|role", index+1)
		}
		roleParts := strings.Split(strings.TrimSpace(rolesRaw), "|")
		roles := make([]string, 0, len(roleParts))
		for _, role := range roleParts {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if role != RoleAsker && role != RoleSchemaAdmin {
				return nil, fmt.Errorf("invalid static key entry %d: unknown role %q", index+1, role)
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %d: at least one role is required", index+1)
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("invalid static key entry %d: duplicate key", index+1)
		}
		sort.Strings(roles)
		validator.keys[key] = Identity{Name: fmt.Sprintf("static-%d", index+1), Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

// RequireRole passes when auth is disabled (no identity in ctx) or the
// identity holds role.
func RequireRole(ctx context.Context, role string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	if !identity.HasRole(role) {
		return fmt.Errorf("%w: role %q is required", ErrForbidden, role)
	}
	return nil
}

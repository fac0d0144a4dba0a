// Package identity resolves authenticated principals into typed claims.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrIdentityResolution = errors.New("identity resolution failed")

const RoleAdmin = "ADMIN"

// Claims is the identity of an authenticated user.
type Claims struct {
	ID          int64
	DisplayName string
	Roles       []string
	ExpiresAt   time.Time
}

// HasRole reports whether the claims carry role (case-insensitive).
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Validate checks the fields every chat operation depends on and that the
// claims have not expired at now. A zero ExpiresAt never expires.
func (c Claims) Validate(now time.Time) error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: missing id", ErrIdentityResolution)
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		return fmt.Errorf("%w: missing displayName", ErrIdentityResolution)
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return fmt.Errorf("%w: token expired", ErrIdentityResolution)
	}
	return nil
}

// DecodeClaims converts a raw claims map into Claims, failing on missing or
// mistyped id and displayName.
func DecodeClaims(raw map[string]any) (Claims, error) {
	if raw == nil {
		return Claims{}, fmt.Errorf("%w: no claims", ErrIdentityResolution)
	}

	id, err := decodeID(raw["id"])
	if err != nil {
		return Claims{}, err
	}

	name, ok := raw["displayName"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("%w: displayName is %T", ErrIdentityResolution, raw["displayName"])
	}

	roles, err := decodeRoles(raw["roles"])
	if err != nil {
		return Claims{}, err
	}

	claims := Claims{ID: id, DisplayName: name, Roles: roles}
	if exp, ok := raw["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}

	if err := claims.Validate(time.Time{}); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func decodeID(v any) (int64, error) {
	switch id := v.(type) {
	case float64:
		if id != math.Trunc(id) || id <= 0 || id >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: id %v is not a positive integer", ErrIdentityResolution, id)
		}
		return int64(id), nil
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: id %q: %v", ErrIdentityResolution, id, err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: id %q: %v", ErrIdentityResolution, id, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%w: missing id", ErrIdentityResolution)
	default:
		return 0, fmt.Errorf("%w: id is %T", ErrIdentityResolution, v)
	}
}

func decodeRoles(v any) ([]string, error) {
	switch roles := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return roles, nil
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%w: role is %T", ErrIdentityResolution, r)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return strings.Fields(strings.ReplaceAll(roles, ",", " ")), nil
	default:
		return nil, fmt.Errorf("%w: roles is %T", ErrIdentityResolution, v)
	}
}

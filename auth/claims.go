// Package auth reads the staff identity out of the back end's access token.
// The back end owns authentication; a token is only verified here when a
// shared secret is configured.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"restro-sync/connection"
)

var ErrNoToken = errors.New("no access token")

// Claims is the payload of the staff access token.
type Claims struct {
	UserID         int64  `json:"user_id"`
	Role           string `json:"role"`
	RestaurantID   int64  `json:"restaurant_id"`
	RestaurantSlug string `json:"restaurant_slug"`
	Slug           string `json:"slug"`
	jwt.RegisteredClaims
}

// ClaimsFromToken parses token, with or without a "Bearer " prefix. With an
// empty secret the signature is not checked.
func ClaimsFromToken(token, secret string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	if secret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the token carries an exp claim before now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Time.Before(now)
}

// RestaurantKey is the slug used in channel paths, falling back to
// restaurant-{id} when the token carries only the numeric id.
func (c *Claims) RestaurantKey() string {
	switch {
	case c.RestaurantSlug != "":
		return c.RestaurantSlug
	case c.Slug != "":
		return c.Slug
	case c.RestaurantID > 0:
		return "restaurant-" + strconv.FormatInt(c.RestaurantID, 10)
	}
	return ""
}

// ConnectionRole maps the token role onto a channel role.
func (c *Claims) ConnectionRole() (connection.Role, error) {
	return connection.ParseRole(c.Role)
}

package connection

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Role selects the WebSocket channel a dashboard listens on.
type Role string

const (
	RoleChef     Role = "CHEF"
	RoleCashier  Role = "CASHIER"
	RoleCaptain  Role = "CAPTAIN"
	RoleCustomer Role = "CUSTOMER"
)

var (
	ErrUnknownRole  = errors.New("unknown role")
	ErrMissingSlug  = errors.New("restaurant slug is required")
	ErrMissingSubID = errors.New("customer connection requires a bill id")
)

// ParseRole accepts any casing.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleChef, RoleCashier, RoleCaptain, RoleCustomer:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Identity determines the endpoint. Two identities are equal iff all
// fields match, so Identity is comparable with ==.
type Identity struct {
	Role           Role
	RestaurantSlug string
	SubID          int64
}

// Key is the string form used to decide whether a reconnect is needed.
func (id Identity) Key() string {
	return string(id.Role) + "|" + id.RestaurantSlug + "|" + strconv.FormatInt(id.SubID, 10)
}

func (id Identity) String() string { return id.Key() }

// Validate checks the fields the endpoint needs.
func (id Identity) Validate() error {
	switch id.Role {
	case RoleChef, RoleCashier, RoleCaptain, RoleCustomer:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, id.Role)
	}
	if strings.TrimSpace(id.RestaurantSlug) == "" {
		return ErrMissingSlug
	}
	if id.Role == RoleCustomer && id.SubID <= 0 {
		return ErrMissingSubID
	}
	return nil
}

// Endpoint builds the WebSocket URL under base, e.g. ws://host:8000/ws.
// The captain shares the chef channel.
func (id Identity) Endpoint(base string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	base = strings.TrimRight(base, "/")
	switch id.Role {
	case RoleChef, RoleCaptain:
		return base + "/chef/" + url.PathEscape(id.RestaurantSlug) + "/", nil
	case RoleCashier:
		return base + "/cashier/" + url.PathEscape(id.RestaurantSlug) + "/", nil
	default:
		return base + "/customer/" + strconv.FormatInt(id.SubID, 10) + "/", nil
	}
}

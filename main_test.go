package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"restro-sync/api"
	"restro-sync/auth"
	"restro-sync/config"
	"restro-sync/connection"
	"restro-sync/dashboard"
	"restro-sync/timers"
	"restro-sync/tracking"
)

func TestBuildViewPerRole(t *testing.T) {
	client := api.NewClient(api.DefaultConfig(), nil)
	clock := timers.NewClock(time.Second)

	cases := []struct {
		role      connection.Role
		commander bool
		payer     bool
	}{
		{connection.RoleChef, true, false},
		{connection.RoleCaptain, true, false},
		{connection.RoleCashier, false, true},
		{connection.RoleCustomer, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			cfg := config.Default()
			cfg.Role = tc.role
			cfg.RestaurantSlug = "spice-garden"
			cfg.BillID = 42

			conn := connection.NewManager(connection.DefaultConfig, nil)
			v, opts := buildView(cfg, conn, client, tracking.NewMemoryStore(), clock, nil)
			defer v.Close()

			if opts.Role != tc.role || opts.Feed != v.Feed() || opts.Status == nil {
				t.Fatalf("board options = %+v", opts)
			}
			if (opts.Commander != nil) != tc.commander || (opts.Payer != nil) != tc.payer {
				t.Fatalf("commander=%v payer=%v", opts.Commander != nil, opts.Payer != nil)
			}
			if opts.Status() != connection.StatusDisconnected {
				t.Fatalf("status before start = %v", opts.Status())
			}
			if tc.role == connection.RoleCustomer {
				tr, ok := v.(*dashboard.Tracking)
				if !ok {
					t.Fatalf("customer view is %T", v)
				}
				if id := tr.Identity(); id.SubID != 42 {
					t.Fatalf("customer identity = %v", id)
				}
			}
		})
	}
}

func TestChannelName(t *testing.T) {
	if channelName(connection.RoleCaptain) != channelName(connection.RoleChef) {
		t.Fatal("captain should share the chef socket")
	}
	if channelName(connection.RoleCashier) == channelName(connection.RoleChef) {
		t.Fatal("cashier must not share the chef socket")
	}
}

func TestApplyClaims(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := &auth.Claims{
		Role:         "cashier",
		RestaurantID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	cfg := config.Default()
	if w := applyClaims(cfg, claims, false, now); len(w) != 0 {
		t.Fatalf("warnings = %v", w)
	}
	if cfg.Role != connection.RoleCashier || cfg.RestaurantSlug != "restaurant-7" {
		t.Fatalf("cfg = %s %s", cfg.Role, cfg.RestaurantSlug)
	}

	cfg = config.Default()
	cfg.RestaurantSlug = "spice-garden"
	claims.Role = "waiter"
	w := applyClaims(cfg, claims, false, now.Add(2*time.Hour))
	if len(w) != 2 {
		t.Fatalf("warnings = %v", w)
	}
	if cfg.Role != connection.RoleChef || cfg.RestaurantSlug != "spice-garden" {
		t.Fatalf("explicit settings overridden: %s %s", cfg.Role, cfg.RestaurantSlug)
	}

	claims.Role = "captain"
	applyClaims(cfg, claims, true, now)
	if cfg.Role != connection.RoleChef {
		t.Fatalf("explicit role overridden by token: %s", cfg.Role)
	}
}

func TestNewAppRejectsIncompleteIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Role = connection.RoleCustomer
	cfg.RestaurantSlug = "spice-garden"
	if _, err := NewApp(cfg, nil); err == nil {
		t.Fatal("NewApp accepted a customer without a bill id")
	}
}

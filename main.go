package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"restro-sync/api"
	"restro-sync/auth"
	"restro-sync/board"
	"restro-sync/config"
	"restro-sync/connection"
	"restro-sync/dashboard"
	"restro-sync/logging"
	"restro-sync/subscription"
	"restro-sync/timers"
	"restro-sync/tracking"
)

// backend is everything the role views need from the REST API.
type backend interface {
	dashboard.KitchenAPI
	dashboard.CashierAPI
	dashboard.OrderAPI
}

// view is the part of a role dashboard the process drives.
type view interface {
	Start(ctx context.Context) error
	Close()
	Feed() *dashboard.Feed
	Status() connection.Status
}

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *connection.Registry
	client   *api.Client
	rdb      *redis.Client
	store    tracking.Store
	clock    *timers.Clock

	view   view
	board  *board.Board
	server *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  timers.NewClock(time.Second),
		ctx:    ctx,
		cancel: cancel,
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	app.registry = connection.NewRegistry(connection.Config{
		BaseURL:           cfg.WSURL,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectMax:      cfg.ReconnectMax,
		MaxReconnects:     cfg.ReconnectAttempts,
		HeartbeatInterval: cfg.Heartbeat,
		Header:            header,
		OnError: func(err error) {
			logger.Warn("WebSocket error", zap.Error(err))
		},
	}, logger)

	app.client = api.NewClient(api.Config{
		BaseURL:      cfg.APIURL,
		Token:        cfg.Token,
		Timeout:      cfg.APITimeout,
		RateLimitRPS: cfg.RateLimitRPS,
	}, logger.Named("api"))

	app.store = tracking.NewMemoryStore()
	if cfg.Role == connection.RoleCustomer && cfg.RedisAddr != "" {
		if rdb := tracking.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); rdb != nil {
			app.rdb = rdb
			app.store = tracking.NewRedisStore(rdb, "restro")
			logger.Info("Tracking sessions stored in Redis", zap.String("addr", cfg.RedisAddr))
		} else {
			logger.Warn("Redis unreachable, keeping tracking sessions in memory", zap.String("addr", cfg.RedisAddr))
		}
	}

	conn := app.registry.Manager(channelName(cfg.Role))
	var opts board.Options
	app.view, opts = buildView(cfg, conn, app.client, app.store, app.clock, logger)
	opts.Logger = logger
	app.board = board.New(opts)

	app.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.board.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return app, nil
}

// channelName groups roles that share a socket.
func channelName(role connection.Role) string {
	if role == connection.RoleCaptain {
		return string(connection.RoleChef)
	}
	return string(role)
}

// buildView creates the dashboard for cfg.Role and the board options that
// expose it.
func buildView(cfg *config.Config, conn subscription.Conn, client backend, store tracking.Store, clock *timers.Clock, logger *zap.Logger) (view, board.Options) {
	opts := dashboard.Options{
		RestaurantSlug:  cfg.RestaurantSlug,
		RefreshInterval: cfg.RefreshInterval,
		Clock:           clock,
		Logger:          logger,
	}
	bo := board.Options{Role: cfg.Role}

	var v view
	switch cfg.Role {
	case connection.RoleChef:
		k := dashboard.NewChef(conn, client, opts)
		v, bo.Commander = k, k
	case connection.RoleCaptain:
		k := dashboard.NewCaptain(conn, client, opts)
		v, bo.Commander = k, k
	case connection.RoleCashier:
		c := dashboard.NewCashier(conn, client, opts)
		v, bo.Payer = c, c
	default:
		opts.SubID = cfg.BillID
		v = dashboard.NewTracking(conn, client, store, opts)
	}
	bo.Feed = v.Feed()
	bo.Status = v.Status
	return v, bo
}

// applyClaims fills the identity fields the token carries. An explicit
// RESTRO_ROLE or RESTRO_RESTAURANT_SLUG wins over the token.
func applyClaims(cfg *config.Config, claims *auth.Claims, roleSet bool, now time.Time) []string {
	var warnings []string
	if claims.Expired(now) {
		warnings = append(warnings, "token has expired")
	}
	if cfg.RestaurantSlug == "" {
		cfg.RestaurantSlug = claims.RestaurantKey()
	}
	if !roleSet && claims.Role != "" {
		role, err := claims.ConnectionRole()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("token role ignored: %v", err))
		} else {
			cfg.Role = role
		}
	}
	return warnings
}

func (app *App) Start() error {
	go app.clock.Run(app.ctx)

	if err := app.view.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start %s dashboard: %w", app.cfg.Role, err)
	}

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		app.view.Close()
		return fmt.Errorf("failed to listen on %s: %w", app.server.Addr, err)
	}
	go func() {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	app.logger.Info("Dashboard started",
		zap.String("role", string(app.cfg.Role)),
		zap.String("restaurant", app.cfg.RestaurantSlug),
		zap.String("listen", ln.Addr().String()))
	return nil
}

func (app *App) Stop() error {
	app.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := app.server.Shutdown(ctx)

	app.board.Close()
	app.view.Close()
	app.registry.Close()
	if app.rdb != nil {
		if cerr := app.rdb.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func main() {
	cfg, warnings := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn("Configuration", zap.String("detail", w))
	}

	if cfg.Token != "" {
		claims, err := auth.ClaimsFromToken(cfg.Token, cfg.JWTSecret)
		if err != nil {
			logger.Fatal("Invalid token", zap.Error(err))
		}
		_, roleSet := os.LookupEnv("RESTRO_ROLE")
		for _, w := range applyClaims(cfg, claims, roleSet, time.Now()) {
			logger.Warn("Token", zap.String("detail", w))
		}
	}

	logger.Info("Configuration loaded",
		zap.String("role", string(cfg.Role)),
		zap.String("restaurant", cfg.RestaurantSlug),
		zap.Int64("bill_id", cfg.BillID),
		zap.String("api", cfg.APIURL),
		zap.String("ws", cfg.WSURL))

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create dashboard", zap.Error(err))
	}
	if err := app.Start(); err != nil {
		logger.Fatal("Failed to start dashboard", zap.Error(err))
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Shutdown signal received, stopping dashboard")
	if err := app.Stop(); err != nil {
		logger.Error("Error stopping dashboard", zap.Error(err))
	}
	logger.Info("Dashboard stopped")
}

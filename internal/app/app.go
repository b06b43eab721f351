// Package app wires configuration, storage and services into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Salad109/medical-office-manager/internal/api"
	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/auth"
	"github.com/Salad109/medical-office-manager/internal/config"
	"github.com/Salad109/medical-office-manager/internal/db"
	redisclient "github.com/Salad109/medical-office-manager/internal/redis"
	"github.com/Salad109/medical-office-manager/internal/user"
	"github.com/Salad109/medical-office-manager/internal/visit"
)

type App struct {
	Config config.Config
	Log    zerolog.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client // nil when the day cache is off or unreachable

	Tokens       *auth.Tokens
	Users        *user.Service
	Appointments *appointment.Service
	Visits       *visit.Service
	Audit        *audit.Service
}

// New connects to Postgres (required) and Redis (optional) and builds the
// services on top of them.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		StatementTimeout: cfg.StatementTimeout,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	log.Info().Msg("connected to Postgres")

	a := &App{Config: cfg, Log: log, Pool: pool}

	var cache appointment.DayCache = appointment.NopDayCache{}
	if cfg.CacheEnabled {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, running without day cache")
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
			a.Redis = rdb
			cache = redisclient.NewDayCache(rdb, cfg.DayCacheTTL, log)
		}
	}

	tx := db.NewTxManager(pool)
	store := audit.NewPgStore(pool)
	recorder := audit.NewRecorder(store)
	appointments := appointment.NewPgRepository(pool)

	a.Tokens = auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	a.Users = user.NewService(tx, user.NewPgRepository(pool), recorder, auth.NewBcryptHasher(cfg.BcryptCost), cfg.PhoneRegion, log)
	a.Appointments = appointment.NewService(tx, appointments, a.Users, recorder, cache, appointment.Options{
		Hours: appointment.OfficeHours{
			Open:  cfg.OfficeOpen,
			Close: cfg.OfficeClose,
			Step:  cfg.SlotLength,
		},
		Location: cfg.Location(),
	}, log)
	a.Visits = visit.NewService(tx, visit.NewPgRepository(pool), appointments, a.Users, recorder, cache, log)
	a.Audit = audit.NewService(store)

	return a, nil
}

func (a *App) Router(version string) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Users:        a.Users,
		Appointments: a.Appointments,
		Visits:       a.Visits,
		Audit:        a.Audit,
		Tokens:       a.Tokens,
		PgPool:       a.Pool,
		Redis:        a.Redis,
		Logger:       a.Log,
		Env:          a.Config.Env,
		Version:      version,
		LoginRPS:     a.Config.RateLimitRPS,
		LoginBurst:   a.Config.RateLimitBurst,
	})
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("error closing redis")
		}
	}
	a.Pool.Close()
}

package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	appconfig "github.com/wolfman30/care-analytics-service/internal/config"
	httpmiddleware "github.com/wolfman30/care-analytics-service/internal/http/middleware"
	"github.com/wolfman30/care-analytics-service/pkg/logging"
)

var errNoDatabaseURL = errors.New("bootstrap: DATABASE_URL is empty")

// BuildPostgresPool opens the relational pool. The pool connects lazily, so
// an unreachable database surfaces on first query or readiness check.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errNoDatabaseURL
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// MongoClientOptions builds driver options from config. Server selection is
// bounded by the connect timeout and kept below the query timeout, so an
// unreachable server fails before the request deadline does.
func MongoClientOptions(cfg *appconfig.Config) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.MongoConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.MongoConnectTimeout)
	}
	if selection := serverSelectionTimeout(cfg); selection > 0 {
		opts.SetServerSelectionTimeout(selection)
	}
	return opts
}

func serverSelectionTimeout(cfg *appconfig.Config) time.Duration {
	selection := cfg.MongoConnectTimeout
	if cfg.QueryTimeout > 0 && (selection <= 0 || selection >= cfg.QueryTimeout) {
		selection = cfg.QueryTimeout / 2
	}
	return selection
}

// BuildMongoClient returns a Mongo client, or nil when the document store is
// not configured or the URI is invalid. The driver reconnects on its own, so
// a failed verify ping is only logged and the client is kept.
func BuildMongoClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *mongo.Client {
	if cfg == nil || strings.TrimSpace(cfg.MongoURI) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := mongo.Connect(ctx, MongoClientOptions(cfg))
	if err != nil {
		logger.Warn("document store disabled", "error", err)
		return nil
	}
	if !verify {
		return client
	}
	pingCtx := ctx
	if timeout := serverSelectionTimeout(cfg); timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		logger.Warn("document store not reachable yet", "error", err)
	}
	return client
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildLimiter picks the shared Redis limiter when a client is available and
// the in-process token bucket otherwise. It returns nil when rate limiting is
// disabled by a non-positive rate.
func BuildLimiter(cfg *appconfig.Config, redisClient *redis.Client) httpmiddleware.Limiter {
	if cfg == nil || cfg.RateLimitRPS <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	if redisClient != nil {
		return httpmiddleware.NewRedisLimiter(redisClient, cfg.RateLimitRPS, burst)
	}
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, burst)
}

package main

import (
	"context"
	"expvar"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"calmmap/internal/auth"
	"calmmap/internal/db"
	"calmmap/internal/domain/storage"
	"calmmap/internal/events"
	"calmmap/internal/geocode"
	"calmmap/internal/moderation"
	"calmmap/internal/notifications"
	"calmmap/internal/ratelimiter"

	"github.com/9ssi7/exponent"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("invalid %s=%q, using %t", key, v, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}

func loadConfig() config {
	return config{
		addr: envString("ADDR", ":8080"),
		env:  envString("ENV", "development"),
		db: dbConfig{
			addr:        os.Getenv("DB_ADDR"),
			maxConns:    int32(envInt("DB_MAX_CONNS", 10)),
			maxIdleTime: envString("DB_MAX_IDLE_TIME", "15m"),
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			token: tokenConfig{
				secret: os.Getenv("AUTH_TOKEN_SECRET"),
				iss:    "calmmap",
			},
		},
		geocoder: geocoderConfig{
			baseURL:  envString("GEOCODER_BASE_URL", "https://api.postcodes.io"),
			timeout:  envDuration("GEOCODER_TIMEOUT", 5*time.Second),
			cacheTTL: envDuration("GEOCODER_CACHE_TTL", 24*time.Hour),
		},
		redis: redisConfig{
			addr:     os.Getenv("REDIS_ADDR"),
			password: os.Getenv("REDIS_PASSWORD"),
			db:       envInt("REDIS_DB", 0),
		},
		amqpURL:         os.Getenv("AMQP_URL"),
		expoAccessToken: os.Getenv("EXPO_ACCESS_TOKEN"),
		sweepSchedule:   envString("STATS_SWEEP_SCHEDULE", "@every 6h"),
		tokenPruneAge:   envDuration("PUSH_TOKEN_MAX_AGE", 70*24*time.Hour),
		rateLimiter: ratelimiterConfig{
			requestsPerTimeFrame: envInt("RATELIMITER_REQUESTS_COUNT", 20),
			timeFrame:            time.Minute,
			enabled:              envBool("RATE_LIMITER_ENABLED", true),
		},
	}
}

// NewLogger creates a zap console logger with colored levels.
func NewLogger() *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
	return zap.New(core).Sugar()
}

var version = "0.3.0"

func main() {
	if err := godotenv.Load(); err != nil && os.Getenv("ENV") == "production" {
		log.Fatalf("Error loading .env file: %v", err)
	}
	cfg := loadConfig()

	logger := NewLogger()
	defer logger.Sync()

	if cfg.auth.token.secret == "" {
		logger.Fatal("AUTH_TOKEN_SECRET is required")
	}

	// Database
	pool, err := db.New(cfg.db.addr, cfg.db.maxConns, cfg.db.maxIdleTime)
	if err != nil {
		logger.Fatal(err)
	}
	defer pool.Close()
	logger.Info("database connection pool established")

	migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = db.Migrate(migrateCtx, pool)
	cancel()
	if err != nil {
		logger.Fatal(err)
	}

	store := storage.NewContainer(pool)

	// Geocoding: in-process cache in front of postcodes.io, with redis as a
	// shared second tier when configured.
	var cache geocode.Cache = geocode.NewMemoryCache(cfg.geocoder.cacheTTL)
	if cfg.redis.addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redis.addr,
			Password: cfg.redis.password,
			DB:       cfg.redis.db,
		})
		defer rdb.Close()
		cache = geocode.Tiered{Near: cache, Far: geocode.NewRedisCache(rdb, cfg.geocoder.cacheTTL, "geocode", logger)}
		logger.Infow("geocode cache backed by redis", "addr", cfg.redis.addr)
	}
	geocoder := geocode.NewCached(geocode.NewPostcodesIO(cfg.geocoder.baseURL, cfg.geocoder.timeout, logger), cache, logger)

	// Events
	var publisher events.Publisher = events.Nop{}
	if cfg.amqpURL != "" {
		amqpPublisher := events.NewAMQPPublisher(cfg.amqpURL, events.DefaultExchange, logger)
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	} else {
		logger.Warn("AMQP_URL not set, moderation events are dropped")
	}

	svc := moderation.New(store, geocoder, publisher, logger)

	var rateLimiter *ratelimiter.FixedWindowRateLimiter
	if cfg.rateLimiter.enabled {
		rateLimiter = ratelimiter.NewFixedWindowLimiter(cfg.rateLimiter.requestsPerTimeFrame, cfg.rateLimiter.timeFrame)
	}

	app := &application{
		config:        cfg,
		logger:        logger,
		moderation:    svc,
		pushTokens:    store.PushTokens,
		authenticator: auth.NewJWTAuthenticator(cfg.auth.token.secret, cfg.auth.token.iss, cfg.auth.token.iss),
		rateLimiter:   rateLimiter,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if cfg.amqpURL != "" {
		expo := exponent.NewClient()
		if cfg.expoAccessToken != "" {
			expo = exponent.NewClient(exponent.WithAccessToken(cfg.expoAccessToken))
		}
		notifier := notifications.NewSubmissionNotifier(
			notifications.NewExpoAdapter(expo),
			store.PushTokens,
			logger,
		)
		consumer := &events.Consumer{
			URL:     cfg.amqpURL,
			Queue:   "calmmap.submission-notifications",
			Keys:    notifier.Keys(),
			Handler: notifier.Handle,
			Logger:  logger,
		}
		go func() {
			if err := consumer.Run(bgCtx); err != nil && bgCtx.Err() == nil {
				logger.Errorw("notification consumer stopped", "error", err)
			}
		}()
	}

	scheduler, err := app.startMaintenance(bgCtx)
	if err != nil {
		logger.Fatal(err)
	}
	defer scheduler.Stop()

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		s := pool.Stat()
		return map[string]int32{
			"total_conns":    s.TotalConns(),
			"idle_conns":     s.IdleConns(),
			"acquired_conns": s.AcquiredConns(),
		}
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.mount()

	logger.Fatal(app.run(mux))
}

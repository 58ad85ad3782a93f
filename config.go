package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type config struct {
	Debug bool

	StorageConnStr string
	TasksTable     string
	ProjectsTable  string
	CountsQueue    string

	Redis        *redis.Options
	ChangeTopic  string
	CacheTTL     time.Duration
	CountsTTL    time.Duration
	DeduperTTL   time.Duration
	BoardIdleTTL time.Duration

	SyncWorkers     int
	SyncBuffer      int
	SyncTimeout     time.Duration
	RevertOnFailure bool

	PointerDistancePx float64
	TouchDelay        time.Duration
	TouchTolerancePx  float64

	AuthTestMode   bool
	AuthTestSecret string
	AuthAudience   string
	AuthDomain     string

	ListenAddr string
}

type getenv func(string) string

func loadConfig(env getenv) (config, error) {
	var errs []error
	fail := func(err error) { errs = append(errs, err) }

	cfg := config{
		StorageConnStr: env("STORAGE_CONNECTION_STRING"),
		TasksTable:     env("TASKS_TABLE"),
		ProjectsTable:  env("PROJECTS_TABLE"),
		CountsQueue:    env("COUNTS_QUEUE"),
		ChangeTopic:    stringOr(env("BOARD_CHANGES_CHANNEL"), "board-changes"),
		AuthTestMode:   env("AUTH0_TEST_MODE") == "1",
		AuthTestSecret: env("AUTH0_TEST_SECRET"),
		AuthAudience:   env("AUTH0_AUDIENCE"),
		AuthDomain:     env("AUTH0_DOMAIN"),
		ListenAddr:     ":8080",
	}
	if dbg, err := strconv.ParseBool(env("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	if cfg.StorageConnStr == "" || cfg.TasksTable == "" || cfg.ProjectsTable == "" || cfg.CountsQueue == "" {
		fail(errors.New("missing storage config"))
	}

	redisConn := env("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		fail(errors.New("missing redis config"))
	} else {
		cfg.Redis = parseRedis(redisConn)
	}

	var err error
	if cfg.CacheTTL, err = durationEnv(env, "CACHE_TTL", 5*time.Minute); err != nil {
		fail(err)
	}
	if cfg.CountsTTL, err = durationEnv(env, "COUNTS_TTL", 12*time.Hour); err != nil {
		fail(err)
	}
	if cfg.DeduperTTL, err = durationEnv(env, "DEDUPER_TTL", 24*time.Hour); err != nil {
		fail(err)
	}
	if cfg.BoardIdleTTL, err = durationEnv(env, "BOARD_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		fail(err)
	}
	if cfg.SyncTimeout, err = durationEnv(env, "SYNC_TIMEOUT", 30*time.Second); err != nil {
		fail(err)
	}
	if cfg.TouchDelay, err = durationEnv(env, "TOUCH_ACTIVATION_DELAY", 250*time.Millisecond); err != nil {
		fail(err)
	}
	if cfg.SyncWorkers, err = intEnv(env, "SYNC_WORKERS", 4); err != nil {
		fail(err)
	}
	if cfg.SyncBuffer, err = intEnv(env, "SYNC_BUFFER", 256); err != nil {
		fail(err)
	}
	if cfg.PointerDistancePx, err = floatEnv(env, "POINTER_ACTIVATION_DISTANCE", 10); err != nil {
		fail(err)
	}
	if cfg.TouchTolerancePx, err = floatEnv(env, "TOUCH_MOVE_TOLERANCE", 5); err != nil {
		fail(err)
	}
	if v := env("REVERT_ON_FAILURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(fmt.Errorf("invalid REVERT_ON_FAILURE: %w", err))
		}
		cfg.RevertOnFailure = b
	}

	if cfg.AuthTestMode {
		if cfg.AuthTestSecret == "" {
			fail(errors.New("AUTH0_TEST_MODE requires AUTH0_TEST_SECRET"))
		}
	} else if cfg.AuthAudience == "" || cfg.AuthDomain == "" {
		fail(errors.New("missing Auth0 config"))
	}

	if port := env("FUNCTIONS_CUSTOMHANDLER_PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	return cfg, errors.Join(errs...)
}

// parseRedis accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedis(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationEnv(env getenv, key string, def time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func intEnv(env getenv, key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func floatEnv(env getenv, key string, def float64) (float64, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return f, nil
}

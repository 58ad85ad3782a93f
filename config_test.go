package main

import (
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) getenv {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"STORAGE_CONNECTION_STRING": "UseDevelopmentStorage=true",
		"TASKS_TABLE":               "tasks",
		"PROJECTS_TABLE":            "projects",
		"COUNTS_QUEUE":              "counts",
		"REDIS_CONNECTION_STRING":   "redis://localhost:6379/0",
		"AUTH0_TEST_MODE":           "1",
		"AUTH0_TEST_SECRET":         "secret",
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(envMap(baseEnv()))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.DeduperTTL != 24*time.Hour || cfg.SyncWorkers != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PointerDistancePx != 10 || cfg.TouchDelay != 250*time.Millisecond || cfg.TouchTolerancePx != 5 {
		t.Fatalf("unexpected gesture defaults %+v", cfg)
	}
	if cfg.RevertOnFailure || cfg.ListenAddr != ":8080" || cfg.ChangeTopic != "board-changes" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Redis.Addr)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	env := baseEnv()
	env["REVERT_ON_FAILURE"] = "true"
	env["SYNC_WORKERS"] = "8"
	env["POINTER_ACTIVATION_DISTANCE"] = "4.5"
	env["FUNCTIONS_CUSTOMHANDLER_PORT"] = "7071"
	env["DEBUG"] = "true"
	cfg, err := loadConfig(envMap(env))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !cfg.RevertOnFailure || cfg.SyncWorkers != 8 || cfg.PointerDistancePx != 4.5 || cfg.ListenAddr != ":7071" || !cfg.Debug {
		t.Fatalf("overrides not applied %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	env := baseEnv()
	delete(env, "TASKS_TABLE")
	env["CACHE_TTL"] = "soon"
	env["SYNC_WORKERS"] = "0"
	env["AUTH0_TEST_MODE"] = ""
	_, err := loadConfig(envMap(env))
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"missing storage config", "invalid CACHE_TTL", "invalid SYNC_WORKERS", "missing Auth0 config"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestParseRedis(t *testing.T) {
	opts := parseRedis("cache.redis.example:6380,password=pw,ssl=True,abortConnect=False")
	if opts.Addr != "cache.redis.example:6380" || opts.Password != "pw" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options %+v", opts)
	}
	opts = parseRedis("localhost:6379")
	if opts.Addr != "localhost:6379" || opts.TLSConfig != nil {
		t.Fatalf("unexpected options %+v", opts)
	}
}

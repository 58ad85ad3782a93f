package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-board/api"
	"prism-board/board"
	"prism-board/counts"
	"prism-board/persist"
	"prism-board/storage"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tables, err := storage.NewTables(cfg.StorageConnStr, cfg.TasksTable, cfg.ProjectsTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	rc := redis.NewClient(cfg.Redis)
	defer rc.Close()
	cache := storage.NewCache(tables, rc, cfg.CacheTTL)

	feed := storage.NewFeed(rc, cfg.ChangeTopic, logger)
	go feed.Run(ctx)

	queue, err := counts.NewQueue(cfg.StorageConnStr, cfg.CountsQueue)
	if err != nil {
		log.Fatalf("counts queue: %v", err)
	}
	refresher := counts.NewRefresher(cache, rc, cfg.CountsTTL)
	go counts.NewWorker(queue, refresher, logger).Run(ctx)

	reporter := persist.ReporterFunc(func(ctx context.Context, n persist.Notice) {
		logger.WithFields(log.Fields{
			"notice": n.ID,
			"commit": n.CommitID,
			"board":  n.Filter.String(),
			"entity": n.EntityID,
		}).WithError(n.Err).Warn(n.Message)
	})
	syncer := persist.NewSyncer(cache, reporter, persist.Config{
		Workers:        cfg.SyncWorkers,
		Buffer:         cfg.SyncBuffer,
		Timeout:        cfg.SyncTimeout,
		HandoffTimeout: persist.DefaultConfig().HandoffTimeout,
	}, logger)
	defer syncer.Close()
	syncer.OnSuccess(func(ctx context.Context, c persist.Commit) {
		change := storage.Change{Kind: c.Filter.Kind, Scope: c.Filter.Scope, CommitID: c.ID, EntityID: c.EntityID, At: time.Now().UnixMilli()}
		if err := feed.Publish(ctx, change); err != nil {
			logger.WithError(err).WithField("commit", c.ID).Warn("publish board change")
		}
	})

	registry := board.NewRegistry(ctx, cache, syncer, feed, board.Options{
		Config: board.Config{
			PointerActivationDistancePx: cfg.PointerDistancePx,
			TouchActivationDelay:        cfg.TouchDelay,
			TouchMoveTolerancePx:        cfg.TouchTolerancePx,
		},
		RevertOnFailure: cfg.RevertOnFailure,
		Logger:          logger,
		Reporter:        reporter,
	})
	defer registry.Close()
	registry.OnCreate(func(b *board.Board) {
		// Hooks run on the board loop; keep the queue round-trip off it.
		b.OnUpdate(func(ctx context.Context, c persist.Commit) {
			req := counts.Request{Kind: c.Filter.Kind, Scope: c.Filter.Scope, CommitID: c.ID, At: time.Now().UnixMilli()}
			go func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if err := queue.Enqueue(ctx, req); err != nil {
					logger.WithError(err).WithField("commit", c.ID).Warn("enqueue counts refresh")
				}
			}()
		})
	})
	go sweep(ctx, registry, cfg.BoardIdleTTL, logger)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, api.Deps{
		Boards: registry,
		Counts: refresher,
		Auth:   auth,
		Dedupe: api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Logger: logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.AuthTestMode {
		return api.NewTestAuth([]byte(cfg.AuthTestSecret), cfg.AuthAudience, ""), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.AuthAudience, "https://"+cfg.AuthDomain+"/"), nil
}

func sweep(ctx context.Context, r *board.Registry, idle time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx, idle); n > 0 {
				logger.WithField("stopped", n).Debug("swept idle boards")
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	projectsTable := os.Getenv("PROJECTS_TABLE")
	if connStr == "" || tasksTable == "" || projectsTable == "" {
		log.Fatal("missing storage config")
	}

	ctx := context.Background()

	if err := createTables(ctx, connStr, []string{tasksTable, projectsTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, connStr, []string{os.Getenv("COUNTS_QUEUE")}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if scope := os.Getenv("SEED_SCOPE"); scope != "" {
		tables, err := storage.NewTables(connStr, tasksTable, projectsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		n, err := seed(ctx, tables, scope, time.Now())
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.WithFields(log.Fields{"scope": scope, "entities": n}).Info("seeded demo boards")
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return fmt.Errorf("table %s: %w", name, err)
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return fmt.Errorf("queue %s: %w", name, err)
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

type upserter interface {
	Upsert(ctx context.Context, filter domain.Filter, items []domain.Entity) error
}

// seed writes a small task board and project board under scope so a fresh
// environment has something to drag.
func seed(ctx context.Context, store upserter, scope string, now time.Time) (int, error) {
	boards := map[domain.Kind][]domain.Status{
		domain.KindTask:    {domain.StatusTodo, domain.StatusTodo, domain.StatusTodo, domain.StatusInProgress, domain.StatusCompleted},
		domain.KindProject: {domain.StatusPlanned, domain.StatusPlanned, domain.StatusActive},
	}
	total := 0
	for _, kind := range []domain.Kind{domain.KindTask, domain.KindProject} {
		filter := domain.Filter{Kind: kind, Scope: scope}
		order := map[domain.Status]int{}
		var items []domain.Entity
		for i, status := range boards[kind] {
			items = append(items, domain.Entity{
				ID:           uuid.NewString(),
				Kind:         kind,
				Scope:        scope,
				Status:       status,
				DisplayOrder: order[status],
				Title:        fmt.Sprintf("Sample %s %d", kind, i+1),
				UpdatedAt:    now.UnixMilli(),
			})
			order[status]++
		}
		if err := store.Upsert(ctx, filter, items); err != nil {
			return total, fmt.Errorf("%s: %w", filter, err)
		}
		total += len(items)
	}
	return total, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

const (
	edmInt64 = "Edm.Int64"
	// A table transaction accepts at most this many operations.
	maxBatch = 100
)

// ErrConcurrencyConflict is returned when the table rejects a write because
// the row changed underneath it.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// table is the part of an aztables client the store uses.
type table interface {
	list(ctx context.Context, filter string) ([][]byte, error)
	merge(ctx context.Context, payload []byte) error
	submit(ctx context.Context, actions []aztables.TransactionAction) error
}

type azureTable struct {
	client *aztables.Client
}

func (t azureTable) list(ctx context.Context, filter string) ([][]byte, error) {
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func (t azureTable) merge(ctx context.Context, payload []byte) error {
	et := azcore.ETagAny
	_, err := t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (t azureTable) submit(ctx context.Context, actions []aztables.TransactionAction) error {
	_, err := t.client.SubmitTransaction(ctx, actions, nil)
	return err
}

// Tables stores board entities in Azure Tables, one table per kind. The
// scope is the partition key and the entity id the row key.
type Tables struct {
	tables map[domain.Kind]table
}

// NewTables creates a store from the given connection string.
func NewTables(connStr, tasksTable, projectsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{tables: map[domain.Kind]table{
		domain.KindTask:    azureTable{client: svc.NewClient(tasksTable)},
		domain.KindProject: azureTable{client: svc.NewClient(projectsTable)},
	}}, nil
}

type record struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Status        string `json:"Status"`
	DisplayOrder  int    `json:"DisplayOrder"`
	Title         string `json:"Title,omitempty"`
	Description   string `json:"Description,omitempty"`
	DueDate       string `json:"DueDate,omitempty"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type recordPatch struct {
	PartitionKey  string  `json:"PartitionKey"`
	RowKey        string  `json:"RowKey"`
	Status        *string `json:"Status,omitempty"`
	DisplayOrder  *int    `json:"DisplayOrder,omitempty"`
	UpdatedAt     *int64  `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

func toRecord(e domain.Entity) record {
	return record{
		PartitionKey:  e.Scope,
		RowKey:        e.ID,
		Status:        string(e.Status),
		DisplayOrder:  e.DisplayOrder,
		Title:         e.Title,
		Description:   e.Description,
		DueDate:       e.DueDate,
		UpdatedAt:     e.UpdatedAt,
		UpdatedAtType: edmInt64,
	}
}

func (r record) entity(kind domain.Kind) domain.Entity {
	return domain.Entity{
		ID:           r.RowKey,
		Kind:         kind,
		Scope:        r.PartitionKey,
		Status:       domain.Status(r.Status),
		DisplayOrder: r.DisplayOrder,
		Title:        r.Title,
		Description:  r.Description,
		DueDate:      r.DueDate,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Tables) table(kind domain.Kind) (table, error) {
	t, ok := s.tables[kind]
	if !ok {
		return nil, fmt.Errorf("no table for kind %q", kind)
	}
	return t, nil
}

// Query returns every entity under filter ordered by display order.
func (s *Tables) Query(ctx context.Context, filter domain.Filter) ([]domain.Entity, error) {
	t, err := s.table(filter.Kind)
	if err != nil {
		return nil, err
	}
	raw, err := t.list(ctx, partitionFilter(filter.Scope))
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]domain.Entity, 0, len(raw))
	for _, data := range raw {
		var r record
		if err := sonic.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		items = append(items, r.entity(filter.Kind))
	}
	slices.SortStableFunc(items, func(a, b domain.Entity) int { return a.DisplayOrder - b.DisplayOrder })
	return items, nil
}

// Update merges patch into the entity id. A missing row is ErrNotFound.
func (s *Tables) Update(ctx context.Context, filter domain.Filter, id string, patch domain.Patch) error {
	t, err := s.table(filter.Kind)
	if err != nil {
		return err
	}
	p := recordPatch{PartitionKey: filter.Scope, RowKey: id, DisplayOrder: patch.DisplayOrder}
	if patch.Status != nil {
		st := string(*patch.Status)
		p.Status = &st
	}
	if patch.UpdatedAt != nil {
		typ := edmInt64
		p.UpdatedAt = patch.UpdatedAt
		p.UpdatedAtType = &typ
	}
	payload, err := sonic.Marshal(p)
	if err != nil {
		return err
	}
	if err := t.merge(ctx, payload); err != nil {
		return fmt.Errorf("update %s/%s: %w", filter, id, mapError(err))
	}
	return nil
}

// Upsert writes items as full records keyed by id. Writes are grouped into
// transactions of at most maxBatch rows.
func (s *Tables) Upsert(ctx context.Context, filter domain.Filter, items []domain.Entity) error {
	t, err := s.table(filter.Kind)
	if err != nil {
		return err
	}
	actions := make([]aztables.TransactionAction, 0, len(items))
	for _, it := range items {
		it.Scope = filter.Scope
		payload, err := sonic.Marshal(toRecord(it))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertReplace,
			Entity:     payload,
		})
	}
	for start := 0; start < len(actions); start += maxBatch {
		end := min(start+maxBatch, len(actions))
		if err := t.submit(ctx, actions[start:end]); err != nil {
			return fmt.Errorf("upsert %s: %w", filter, mapError(err))
		}
	}
	return nil
}

func partitionFilter(scope string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(scope, "'", "''") + "'"
}

func mapError(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}

package domain

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func taskLayout(t *testing.T) Layout {
	t.Helper()
	l, err := LayoutFor(KindTask)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return l
}

func ids(items []Entity) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func orders(items []Entity) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.DisplayOrder
	}
	return out
}

func TestMoveWithinColumnToFront(t *testing.T) {
	items := []Entity{
		{ID: "A", Status: StatusTodo, DisplayOrder: 0},
		{ID: "B", Status: StatusTodo, DisplayOrder: 1},
		{ID: "C", Status: StatusTodo, DisplayOrder: 2},
	}
	out, err := MoveWithinColumn(items, "C", 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	todo := Group(out, StatusTodo)
	if got := ids(todo); !reflect.DeepEqual(got, []string{"C", "A", "B"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if got := orders(todo); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("unexpected display orders: %v", got)
	}
	if items[2].DisplayOrder != 2 {
		t.Fatalf("input collection was mutated")
	}
}

func TestMoveWithinColumnClampsTarget(t *testing.T) {
	items := []Entity{
		{ID: "A", Status: StatusTodo, DisplayOrder: 0},
		{ID: "B", Status: StatusTodo, DisplayOrder: 1},
		{ID: "D", Status: StatusInProgress, DisplayOrder: 0},
	}
	out, err := MoveWithinColumn(items, "A", 42)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := ids(Group(out, StatusTodo)); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	out, err = MoveWithinColumn(out, "A", -3)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := ids(Group(out, StatusTodo)); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if out[2] != items[2] {
		t.Fatalf("other column changed: %#v", out[2])
	}
}

func TestMoveWithinColumnIsIdempotent(t *testing.T) {
	items := []Entity{
		{ID: "A", Status: StatusTodo, DisplayOrder: 0},
		{ID: "B", Status: StatusTodo, DisplayOrder: 1},
		{ID: "C", Status: StatusTodo, DisplayOrder: 2},
	}
	once, err := MoveWithinColumn(items, "A", 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	twice, err := MoveWithinColumn(once, "A", 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("re-applying move shifted items: %v vs %v", once, twice)
	}
}

func TestMoveAcrossColumnsAppends(t *testing.T) {
	layout := taskLayout(t)
	items := []Entity{
		{ID: "A", Status: StatusTodo, DisplayOrder: 0},
		{ID: "B", Status: StatusTodo, DisplayOrder: 1},
		{ID: "D", Status: StatusInProgress, DisplayOrder: 0},
		{ID: "E", Status: StatusInProgress, DisplayOrder: 1},
	}
	out, err := MoveAcrossColumns(items, layout, "A", StatusInProgress)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	a, _ := Find(out, "A")
	if a.Status != StatusInProgress || a.DisplayOrder != 2 {
		t.Fatalf("unexpected moved entity: %#v", a)
	}
	todo := Group(out, StatusTodo)
	if len(todo) != 1 || todo[0].ID != "B" || todo[0].DisplayOrder != 0 {
		t.Fatalf("source column not re-indexed: %#v", todo)
	}

	again, err := MoveAcrossColumns(out, layout, "A", StatusInProgress)
	if err != nil {
		t.Fatalf("move again: %v", err)
	}
	if !reflect.DeepEqual(out, again) {
		t.Fatalf("re-applying cross-column move changed collection")
	}
}

func TestMoveAcrossColumnsIntoEmptyColumn(t *testing.T) {
	out, err := MoveAcrossColumns([]Entity{{ID: "A", Status: StatusTodo}}, taskLayout(t), "A", StatusCompleted)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if out[0].Status != StatusCompleted || out[0].DisplayOrder != 0 {
		t.Fatalf("unexpected entity: %#v", out[0])
	}
}

func TestMoveErrors(t *testing.T) {
	layout := taskLayout(t)
	items := []Entity{{ID: "A", Status: StatusTodo}}
	if _, err := MoveWithinColumn(items, "missing", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := MoveAcrossColumns(items, layout, "missing", StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := MoveAcrossColumns(items, layout, "A", Status("Archived")); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestMovesKeepColumnsContiguous(t *testing.T) {
	layout := taskLayout(t)
	statuses := layout.Columns()
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		var items []Entity
		counts := map[Status]int{}
		for i := 0; i < 12; i++ {
			s := statuses[rng.Intn(len(statuses))]
			items = append(items, Entity{ID: string(rune('a' + i)), Status: s, DisplayOrder: counts[s]})
			counts[s]++
		}
		rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

		for step := 0; step < 40; step++ {
			id := items[rng.Intn(len(items))].ID
			var err error
			if rng.Intn(2) == 0 {
				items, err = MoveWithinColumn(items, id, rng.Intn(14)-1)
			} else {
				dest := statuses[rng.Intn(len(statuses))]
				before := len(Group(items, dest))
				cur, _ := Find(items, id)
				items, err = MoveAcrossColumns(items, layout, id, dest)
				if err == nil && cur.Status != dest {
					moved, _ := Find(items, id)
					if moved.DisplayOrder != before {
						t.Fatalf("round %d step %d: expected append at %d, got %d", round, step, before, moved.DisplayOrder)
					}
				}
			}
			if err != nil {
				t.Fatalf("round %d step %d: %v", round, step, err)
			}
			if !Contiguous(items) {
				t.Fatalf("round %d step %d: columns not contiguous: %#v", round, step, items)
			}
		}
	}
}

func TestReindexRepairsGaps(t *testing.T) {
	items := []Entity{
		{ID: "A", Status: StatusTodo, DisplayOrder: 4},
		{ID: "B", Status: StatusTodo, DisplayOrder: 1},
		{ID: "C", Status: StatusCompleted, DisplayOrder: 9},
	}
	if Contiguous(items) {
		t.Fatal("expected gaps to be detected")
	}
	out := Reindex(items)
	if !Contiguous(out) {
		t.Fatalf("reindex left gaps: %#v", out)
	}
	if got := ids(Group(out, StatusTodo)); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("reindex changed relative order: %v", got)
	}
}

func TestDiff(t *testing.T) {
	before := []Entity{
		{ID: "A", Status: StatusTodo, DisplayOrder: 0},
		{ID: "B", Status: StatusTodo, DisplayOrder: 1},
	}
	after, err := MoveAcrossColumns(before, taskLayout(t), "A", StatusCompleted)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	changes := Diff(before, after)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %#v", changes)
	}
	if !changes[0].CrossesColumns() || changes[0].ID != "A" {
		t.Fatalf("unexpected first change: %#v", changes[0])
	}
	if changes[1].CrossesColumns() || changes[1].FromOrder != 1 || changes[1].ToOrder != 0 {
		t.Fatalf("unexpected second change: %#v", changes[1])
	}
	if len(Diff(before, before)) != 0 {
		t.Fatal("expected no changes for identical collections")
	}
}

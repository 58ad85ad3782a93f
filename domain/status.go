package domain

import "fmt"

// Kind selects which board an entity belongs to.
type Kind string

const (
	KindTask    Kind = "task"
	KindProject Kind = "project"
)

// ParseKind validates a kind supplied by a caller.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindTask, KindProject:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("unknown board kind %q", raw)
	}
}

// Status is a column key.
type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusPlanned    Status = "Planned"
	StatusActive     Status = "Active"
)

// Layout is the ordered, fixed set of columns of a board.
type Layout struct {
	columns []Status
}

func NewLayout(columns ...Status) Layout {
	cp := make([]Status, len(columns))
	copy(cp, columns)
	return Layout{columns: cp}
}

// LayoutFor returns the default column layout for a board kind.
func LayoutFor(kind Kind) (Layout, error) {
	switch kind {
	case KindTask:
		return NewLayout(StatusTodo, StatusInProgress, StatusCompleted), nil
	case KindProject:
		return NewLayout(StatusPlanned, StatusActive, StatusCompleted), nil
	default:
		return Layout{}, fmt.Errorf("unknown board kind %q", kind)
	}
}

// Columns returns a copy of the column keys in display order.
func (l Layout) Columns() []Status {
	cp := make([]Status, len(l.columns))
	copy(cp, l.columns)
	return cp
}

func (l Layout) Has(s Status) bool {
	return l.Index(s) >= 0
}

// Index returns the position of s in the layout or -1.
func (l Layout) Index(s Status) int {
	for i, c := range l.columns {
		if c == s {
			return i
		}
	}
	return -1
}

// Filter scopes a board to the entities listed under one partition.
type Filter struct {
	Kind  Kind   `json:"kind"`
	Scope string `json:"scope"`
}

func (f Filter) String() string {
	return string(f.Kind) + ":" + f.Scope
}

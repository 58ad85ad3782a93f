package api

import (
	"context"
	"net/http"

	"prism-board/board"
	"prism-board/counts"
	"prism-board/domain"
)

// Boards hands out the running board of a user.
type Boards interface {
	Get(ctx context.Context, user string, filter domain.Filter) (*board.Board, error)
}

// Counts serves cached aggregate column counts.
type Counts interface {
	Load(ctx context.Context, filter domain.Filter) (counts.Summary, error)
}

// Authenticator extracts the user id from a request.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// Deduper prevents a drop from being applied twice.
type Deduper interface {
	Add(ctx context.Context, userID, key string) (bool, error)
	Remove(ctx context.Context, userID, key string) error
}

type dragRequest struct {
	EntityID string `json:"entityId"`
	TargetID string `json:"targetId"`
}

type dragResponse struct {
	Outcome  string      `json:"outcome"`
	CommitID string      `json:"commitId,omitempty"`
	Frame    board.Frame `json:"frame"`
}

type inputResponse struct {
	Gesture  board.Gesture `json:"gesture"`
	EntityID string        `json:"entityId,omitempty"`
	CommitID string        `json:"commitId,omitempty"`
	Frame    board.Frame   `json:"frame"`
}

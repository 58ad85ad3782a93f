package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

const (
	maxBodySize          = 16 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

// Deps are the collaborators of the HTTP handlers. Dedupe may be nil.
type Deps struct {
	Boards Boards
	Counts Counts
	Auth   Authenticator
	Dedupe Deduper
	Logger *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	g := e.Group("/api/boards/:kind/:scope")
	g.GET("", getBoard(d))
	g.POST("/drag/start", dragStart(d))
	g.POST("/drag/over", dragOver(d))
	g.POST("/drag/end", dragEnd(d))
	g.POST("/drag/cancel", dragCancel(d))
	g.POST("/input", postInput(d))
	g.GET("/stream", streamBoard(d))
	g.GET("/counts", getCounts(d))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func filterFrom(c echo.Context) (domain.Filter, error) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		return domain.Filter{}, err
	}
	scope := c.Param("scope")
	if scope == "" {
		return domain.Filter{}, errors.New("missing scope")
	}
	return domain.Filter{Kind: kind, Scope: scope}, nil
}

// session authenticates the request and resolves the board it targets.
func session(c echo.Context, d Deps, m *requestMetrics) (string, *board.Board, error) {
	authStart := time.Now()
	user, err := d.Auth.UserID(c.Request())
	if m != nil {
		m.ObserveAuth(time.Since(authStart))
	}
	if err != nil {
		m.SetErrorStage("auth")
		return "", nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	filter, err := filterFrom(c)
	if err != nil {
		m.SetErrorStage("route")
		return "", nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := d.Boards.Get(c.Request().Context(), user, filter)
	if err != nil {
		m.SetErrorStage("load")
		return "", nil, httpError(err)
	}
	return user, b, nil
}

func decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return nil
}

// httpError maps board and store errors to responses.
func httpError(err error) error {
	var te *board.TransitionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnknownStatus):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, board.ErrSelfTarget),
		errors.Is(err, board.ErrNoSession),
		errors.Is(err, board.ErrWrongEntity),
		errors.As(err, &te):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, board.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, b, err := session(c, d, nil)
		if err != nil {
			return err
		}
		f, err := b.Frame(c.Request().Context())
		if err != nil {
			return httpError(err)
		}
		if verr := f.View.Err(); verr != nil {
			d.Logger.WithError(verr).WithField("board", b.Filter().String()).Warn("serving board with unknown statuses")
		}
		return c.JSON(http.StatusOK, f)
	}
}

func dragStart(d Deps) echo.HandlerFunc {
	return gesture(d, "/drag/start", func(ctx context.Context, b *board.Board, req dragRequest) (board.Result, string, error) {
		return board.Result{}, "started", b.DragStart(ctx, req.EntityID)
	})
}

func dragOver(d Deps) echo.HandlerFunc {
	return gesture(d, "/drag/over", func(ctx context.Context, b *board.Board, req dragRequest) (board.Result, string, error) {
		return board.Result{}, "hovering", b.DragOver(ctx, req.EntityID, req.TargetID)
	})
}

func dragCancel(d Deps) echo.HandlerFunc {
	return gesture(d, "/drag/cancel", func(ctx context.Context, b *board.Board, _ dragRequest) (board.Result, string, error) {
		res, err := b.Cancel(ctx)
		return res, "cancelled", err
	})
}

func dragEnd(d Deps) echo.HandlerFunc {
	return gesture(d, "/drag/end", func(ctx context.Context, b *board.Board, req dragRequest) (board.Result, string, error) {
		res, err := b.DragEnd(ctx, req.EntityID, req.TargetID)
		return res, resultOutcome(res), err
	})
}

func resultOutcome(res board.Result) string {
	switch {
	case res.Cancelled:
		return "cancelled"
	case res.NoOp:
		return "noop"
	}
	return "dropped"
}

type gestureFunc func(ctx context.Context, b *board.Board, req dragRequest) (board.Result, string, error)

func gesture(d Deps, route string, fn gestureFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(d.Logger, route)
		defer func() { m.Log(c.Response().Status, err) }()

		user, b, err := session(c, d, m)
		if err != nil {
			return err
		}
		var req dragRequest
		if err := decode(c, &req); err != nil {
			m.SetErrorStage("decode")
			return err
		}
		if req.EntityID == "" && route != "/drag/cancel" {
			m.SetErrorStage("decode")
			return echo.NewHTTPError(http.StatusBadRequest, "missing entityId")
		}

		ctx := c.Request().Context()
		key := c.Request().Header.Get(headerIdempotencyKey)
		if key != "" && d.Dedupe != nil && route == "/drag/end" {
			fresh, derr := d.Dedupe.Add(ctx, user, key)
			if derr != nil {
				d.Logger.WithError(derr).Warn("idempotency check failed, applying drop")
			} else if !fresh {
				m.SetOutcome("duplicate")
				f, ferr := b.Frame(ctx)
				if ferr != nil {
					return httpError(ferr)
				}
				return c.JSON(http.StatusOK, dragResponse{Outcome: "duplicate", Frame: f})
			}
			defer func() {
				if err != nil {
					_ = d.Dedupe.Remove(context.WithoutCancel(ctx), user, key)
				}
			}()
		}

		boardStart := time.Now()
		res, outcome, gerr := fn(ctx, b, req)
		m.ObserveBoard(time.Since(boardStart))
		if gerr != nil {
			m.SetErrorStage("board")
			return httpError(gerr)
		}
		m.SetOutcome(outcome)
		f, err := b.Frame(ctx)
		if err != nil {
			return httpError(err)
		}
		resp := dragResponse{Outcome: outcome, Frame: f}
		if res.Commit != nil {
			resp.CommitID = res.Commit.ID
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func postInput(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, b, err := session(c, d, nil)
		if err != nil {
			return err
		}
		var in board.Input
		if err := decode(c, &in); err != nil {
			return err
		}
		ctx := c.Request().Context()
		out, err := b.Input(ctx, in)
		if err != nil {
			d.Logger.WithError(err).WithFields(log.Fields{
				"board": b.Filter().String(),
				"phase": in.Phase,
			}).Warn("gesture input rejected")
		}
		f, ferr := b.Frame(ctx)
		if ferr != nil {
			return httpError(ferr)
		}
		resp := inputResponse{Gesture: out.Gesture, EntityID: out.EntityID, Frame: f}
		if out.Result.Commit != nil {
			resp.CommitID = out.Result.Commit.ID
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getCounts(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.UserID(c.Request()); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		filter, err := filterFrom(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s, err := d.Counts.Load(c.Request().Context(), filter)
		if err != nil {
			d.Logger.WithError(err).WithField("board", filter.String()).Error("load counts")
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load counts")
		}
		return c.JSON(http.StatusOK, s)
	}
}

package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

var heartbeatInterval = 30 * time.Second

// streamBoard sends a frame of the board as a server-sent event after every
// change, with a comment heartbeat to keep proxies from closing the stream.
func streamBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, b, err := session(c, d, nil)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()
		frames, cancel, err := b.Subscribe(ctx)
		if err != nil {
			return httpError(err)
		}
		defer cancel()

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		// Write an initial comment to ensure headers are flushed to the client.
		if _, err := res.Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		res.Flush()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return nil
				}
				data, err := sonic.Marshal(f)
				if err != nil {
					d.Logger.WithError(err).Error("marshal frame")
					continue
				}
				if _, err := res.Write([]byte("event: board\ndata: ")); err != nil {
					return nil
				}
				if _, err := res.Write(data); err != nil {
					return nil
				}
				if _, err := res.Write([]byte("\n\n")); err != nil {
					return nil
				}
				res.Flush()
			case <-ticker.C:
				if _, err := res.Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				res.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}

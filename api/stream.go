package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// streamEvents pushes mutation events to the client as named SSE frames.
// The subscription is registered before the handler blocks, so any event
// published from then on reaches this client exactly once, in order.
func streamEvents(subs Subscriptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		sub := subs.Subscribe()
		defer subs.Unsubscribe(sub)

		if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, open := <-sub.Events():
				if !open {
					return nil
				}
				data, err := json.Marshal(ev.Payload)
				if err != nil {
					c.Logger().Error(err)
					continue
				}
				if _, err := c.Response().Write([]byte("event: " + ev.Name + "\ndata: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

// streamWebsocket pushes the same event feed over a websocket as
// {"event": name, "data": payload} messages. No client-to-server messages
// are defined; the read pump exists only to notice disconnects.
func streamWebsocket(subs Subscriptions, logger *log.Logger, allowedOrigins []string) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// Upgrade has already written the error response.
			logger.Errorf("websocket upgrade failed: %v", err)
			return nil
		}
		defer conn.Close()

		sub := subs.Subscribe()
		defer subs.Unsubscribe(sub)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-done:
				return nil
			case ev, open := <-sub.Events():
				if !open {
					return nil
				}
				if err := conn.WriteJSON(ev); err != nil {
					return nil
				}
			}
		}
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	all := false
	for _, o := range allowedOrigins {
		if o == "*" {
			all = true
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if all {
			return true
		}
		origin := r.Header.Get(echo.HeaderOrigin)
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

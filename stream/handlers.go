package stream

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// DefaultKeepAlive is how often an idle stream gets a comment line so proxies
// keep the connection open.
const DefaultKeepAlive = 25 * time.Second

type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type handler struct {
	hub       *Hub
	auth      Authenticator
	log       *log.Logger
	keepAlive time.Duration
}

// Register wires up the stream endpoint on the given Echo instance.
func Register(e *echo.Echo, hub *Hub, auth Authenticator, logger *log.Logger, keepAlive time.Duration) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	h := &handler{hub: hub, auth: auth, log: logger, keepAlive: keepAlive}
	e.GET("/stream", h.stream)
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

// stream relays a board's change events until the client disconnects.
// EventSource cannot set headers, so the token may come as a query param.
func (h *handler) stream(c echo.Context) error {
	boardID := c.QueryParam("boardId")
	if boardID == "" {
		return c.String(http.StatusBadRequest, "boardId required")
	}
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	userID, err := h.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	events, leave, err := h.hub.Join(boardID)
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "event bus unavailable")
	}
	defer leave()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.WriteHeader(http.StatusOK)

	logger := h.log.WithFields(log.Fields{"board": boardID, "user": userID})
	logger.Debug("stream opened")
	defer logger.Debug("stream closed")

	if _, err := res.Write([]byte(": connected\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame = []byte(": ping\n\n")
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			frame = make([]byte, 0, len(payload)+8)
			frame = append(frame, "data: "...)
			frame = append(frame, payload...)
			frame = append(frame, "\n\n"...)
		}
		if _, err := res.Write(frame); err != nil {
			logger.WithError(err).Debug("client write failed")
			return nil
		}
		flusher.Flush()
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/seat-hold-coordinator/api"
	"github.com/metinatakli/seat-hold-coordinator/internal/coordinator"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	appvalidator "github.com/metinatakli/seat-hold-coordinator/internal/validator"
	"golang.org/x/sync/errgroup"
)

const (
	wsReadLimit    = 4096
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// Ack error codes.
const (
	AckCodeBadRequest = "bad_request"
	AckCodeConflict   = "conflict"
	AckCodeRejected   = "rejected"
	AckCodeHoldLimit  = "hold_limit"
	AckCodeNotFound   = "not_found"
	AckCodeInternal   = "internal"
)

// ServeWebSocket upgrades a request that carries a session cookie and serves
// the connection until either side closes it. Every hold the connection owns
// is released when it ends.
func (app *Application) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := app.contextGetLogger(r)

	sessionID, err := app.sessionToken(r)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	if sessionID == "" {
		app.sessionRequiredResponse(w, r)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.CloseNow()

	ws.SetReadLimit(wsReadLimit)

	conn := app.coordinator.Connect(sessionID)
	logger = logger.With("conn_id", conn.ID())
	logger.Info("websocket connected")

	defer func() {
		app.coordinator.Disconnect(conn)
		logger.Info("websocket disconnected", "dropped_events", conn.Dropped())
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return app.readLoop(ctx, ws, conn, logger)
	})

	g.Go(func() error {
		defer cancel()
		return app.writePump(ctx, ws, conn)
	})

	err = g.Wait()

	switch {
	case r.Context().Err() != nil:
		ws.Close(websocket.StatusGoingAway, "server shutting down")
	case err != nil && !isClosedByPeer(err):
		logger.Warn("websocket connection failed", "error", err)
		ws.Close(websocket.StatusInternalError, "")
	default:
		ws.Close(websocket.StatusNormalClosure, "")
	}
}

func (app *Application) readLoop(ctx context.Context, ws *websocket.Conn, conn *coordinator.Connection, logger *slog.Logger) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if isClosedByPeer(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		var ack api.Ack
		if typ != websocket.MessageText {
			ack = nack("", AckCodeBadRequest, "messages must be JSON text frames")
		} else {
			var msg api.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				ack = nack("", AckCodeBadRequest, "message contains badly-formed JSON")
			} else {
				ack = app.handleClientMessage(ctx, conn, msg, logger)
			}
		}

		err = writeFrame(ctx, ws, ack)
		if err != nil {
			return err
		}
	}
}

// writePump forwards the connection's events and keeps the peer alive with
// pings. Events are written in the order the coordinator queued them.
func (app *Application) writePump(ctx context.Context, ws *websocket.Conn, conn *coordinator.Connection) error {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-conn.Done():
			return nil

		case event := <-conn.Events():
			err := writeFrame(ctx, ws, event)
			if err != nil {
				return err
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// handleClientMessage applies one client request and builds its ack. A panic
// while handling it fails only that message.
func (app *Application) handleClientMessage(ctx context.Context, conn *coordinator.Connection, msg api.ClientMessage, logger *slog.Logger) (ack api.Ack) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while handling websocket message", "type", msg.Type, "panic", rec)
			ack = nack(msg.RequestId, AckCodeInternal, ErrInternalServer)
		}
	}()

	err := app.validator.Struct(msg)
	if err != nil {
		return nack(msg.RequestId, AckCodeBadRequest, validationSummary(err))
	}

	ack = api.Ack{Type: api.AckType, RequestId: msg.RequestId}

	switch msg.Type {
	case api.JoinShowtime:
		_, err = app.coordinator.Join(ctx, conn, msg.ShowtimeId)

	case api.LeaveShowtime:
		app.coordinator.Leave(conn, msg.ShowtimeId)

	case api.HoldUnit:
		var hold domain.Hold
		hold, err = app.coordinator.Hold(ctx, conn, msg.ShowtimeId, msg.UnitId)
		ack.ExpiresAt = &hold.ExpiresAt

	case api.RenewHold:
		var hold domain.Hold
		hold, err = app.coordinator.Renew(ctx, conn, msg.ShowtimeId, msg.UnitId)
		ack.ExpiresAt = &hold.ExpiresAt

	case api.ReleaseUnit:
		err = app.coordinator.Release(ctx, conn, msg.ShowtimeId, msg.UnitId)
	}

	if err != nil {
		code := ackCode(err)
		if code == AckCodeInternal {
			logger.Error("websocket request failed", "type", msg.Type, "showtime_id", msg.ShowtimeId, "error", err)
			return nack(msg.RequestId, code, ErrInternalServer)
		}
		return nack(msg.RequestId, code, err.Error())
	}

	ack.Ok = true
	return ack
}

func ackCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return AckCodeConflict
	case errors.Is(err, domain.ErrRejected):
		return AckCodeRejected
	case errors.Is(err, domain.ErrHoldLimitReached):
		return AckCodeHoldLimit
	case errors.Is(err, domain.ErrShowtimeNotFound), errors.Is(err, domain.ErrUnitNotFound):
		return AckCodeNotFound
	default:
		return AckCodeInternal
	}
}

func nack(requestId, code, message string) api.Ack {
	return api.Ack{
		Type:      api.AckType,
		RequestId: requestId,
		Error:     &api.AckError{Code: code, Message: message},
	}
}

// validationSummary reports the first failed field of a client message.
func validationSummary(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return err.Error()
	}

	fe := validationErrors[0]
	return fe.Field() + ": " + appvalidator.ValidationMessage(fe)
}

func writeFrame(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, ws, v)
}

func isClosedByPeer(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}

	return false
}

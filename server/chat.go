package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/becomeliminal/nim-runtime/admin"
	"github.com/becomeliminal/nim-runtime/core"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// GET /ws/:user_id upgrades to a chat socket. Each text frame is a JSON
// message {"text": ..., ...extra}; each reply is a JSON response.
func (s *Server) chat(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		userID = admin.DefaultUserID
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log := s.log.With().Str("user_id", userID).Logger()
	log.Info().Msg("chat connected")

	ctx := c.Request().Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("chat read failed")
			}
			log.Info().Msg("chat disconnected")
			return nil
		}

		resp := s.reply(ctx, userID, data)
		if err := s.writeJSON(conn, resp); err != nil {
			log.Warn().Err(err).Msg("chat write failed")
			return nil
		}
	}
}

func (s *Server) reply(ctx context.Context, userID string, data []byte) *core.Response {
	var msg core.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return core.NewErrorResponse("Invalid message format.")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.MessageTimeout)
	defer cancel()
	return s.cfg.Engine.Reply(ctx, userID, &msg)
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(v); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}

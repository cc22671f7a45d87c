package webui

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"writingcoach/pkg/coach"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sessionLocal = "session"
)

// requireUpgrade rejects plain HTTP requests and resolves the session before the upgrade.
func (s *Server) requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	c.Locals(sessionLocal, sess)
	return c.Next()
}

// handleSocket pushes the session view once on connect and again after every change.
// Bursts of changes collapse into a single push of the latest view.
func (s *Server) handleSocket(conn *websocket.Conn) {
	sess, ok := conn.Locals(sessionLocal).(*coach.Session)
	if !ok {
		_ = conn.Close()
		return
	}

	changed := make(chan struct{}, 1)
	unsubscribe := sess.Subscribe(func(coach.View) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	s.logger.Debug("WebSocket opened for session %s", sess.ID())
	if err := writeView(conn, sess.View()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			s.logger.Debug("WebSocket closed for session %s", sess.ID())
			return
		case <-changed:
			s.registry.Touch(sess.ID())
			if err := writeView(conn, sess.View()); err != nil {
				s.logger.Warn("WebSocket write for session %s failed: %v", sess.ID(), err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and the close handshake are processed.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeView(conn *websocket.Conn, v coach.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
